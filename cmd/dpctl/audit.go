package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/audit"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/engine"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

type queryFlags struct {
	categories []string
	actor      string
	action     string
	text       string
	since      time.Duration
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.categories, "category", nil, "filter by category (repeatable)")
	cmd.Flags().StringVar(&f.actor, "actor", "", "filter by actor id")
	cmd.Flags().StringVar(&f.action, "action", "", "filter by action")
	cmd.Flags().StringVar(&f.text, "text", "", "free-text filter")
	cmd.Flags().DurationVar(&f.since, "since", 0, "only events newer than this duration")
}

func (f *queryFlags) query() types.AuditQuery {
	q := types.AuditQuery{
		ActorID: f.actor,
		Action:  f.action,
		Text:    f.text,
	}
	for _, c := range f.categories {
		q.Categories = append(q.Categories, types.AuditCategory(c))
	}
	if f.since > 0 {
		start := time.Now().Add(-f.since)
		q.StartTime = &start
	}
	return q
}

func newAuditCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(
		newAuditVerifyCmd(a),
		newAuditSearchCmd(a),
		newAuditExportCmd(a),
		newAuditReportCmd(a),
		newAuditActivityCmd(a),
	)
	return cmd
}

func newAuditVerifyCmd(a *app) *cobra.Command {
	var from, to int64
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the audit hash chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				var r *types.SequenceRange
				if from > 0 || to > 0 {
					r = &types.SequenceRange{From: from, To: to}
				}
				report, err := e.Audit.VerifyIntegrity(cmd.Context(), r)
				if err != nil {
					return err
				}
				if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
				if !report.Valid {
					return fmt.Errorf("audit chain invalid: %d error(s)", len(report.Errors))
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&from, "from", 0, "first sequence number")
	cmd.Flags().Int64Var(&to, "to", 0, "last sequence number")
	return cmd
}

func newAuditSearchCmd(a *app) *cobra.Command {
	var qf queryFlags
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				q := qf.query()
				q.Limit, q.Offset = limit, offset
				res, err := e.Audit.SearchAuditEvents(cmd.Context(), q)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	qf.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", audit.DefaultSearchLimit, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")
	return cmd
}

func newAuditExportCmd(a *app) *cobra.Command {
	var qf queryFlags
	var format, out string
	var anonymize bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit events as json or csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				data, err := e.Audit.ExportAuditTrail(cmd.Context(), format, qf.query(), anonymize)
				if err != nil {
					return err
				}
				if out == "" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o600)
			})
		},
	}
	qf.register(cmd)
	cmd.Flags().StringVar(&format, "format", audit.FormatJSON, "export format (json, csv)")
	cmd.Flags().StringVarP(&out, "output", "o", "", "write to file instead of stdout")
	cmd.Flags().BoolVar(&anonymize, "anonymize", false, "pseudonymize actor ids and truncate IP addresses")
	return cmd
}

func newAuditReportCmd(a *app) *cobra.Command {
	var qf queryFlags
	var purpose, requestedBy string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a compliance report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				report, err := e.Audit.GenerateAuditReport(cmd.Context(), qf.query(), purpose, requestedBy)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	qf.register(cmd)
	cmd.Flags().StringVar(&purpose, "purpose", "compliance review", "purpose recorded with the report")
	cmd.Flags().StringVar(&requestedBy, "requested-by", "", "who requested the report")
	_ = cmd.MarkFlagRequired("requested-by")
	return cmd
}

func newAuditActivityCmd(a *app) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "activity <user-id>",
		Short: "Summarize a user's activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(e *engine.Engine) error {
				end := time.Now()
				summary, err := e.Audit.GetUserActivitySummary(cmd.Context(), args[0], end.Add(-window), end)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", 30*24*time.Hour, "how far back to look")
	return cmd
}
