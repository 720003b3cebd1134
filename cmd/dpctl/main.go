// dpctl is the operator CLI of the data-protection engine: audit trail
// verification, export and reports, data-subject export and erasure, and
// PII inspection.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/config"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/engine"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/logging"
)

var version = "dev" // set by the linker

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app carries state shared by every subcommand
type app struct {
	configFile string
	logLevel   string
	pretty     bool

	settings *config.Settings

	// engineOpts is used by tests to inject storage and secrets
	engineOpts []engine.Option
}

func newRootCmd(opts ...engine.Option) *cobra.Command {
	a := &app{engineOpts: opts}

	cmd := &cobra.Command{
		Use:          "dpctl",
		Short:        "dpctl operates the data-protection engine",
		Version:      version,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default ./dataprotect.yaml)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVar(&a.pretty, "pretty", false, "human-readable log output")

	cmd.AddCommand(
		newAuditCmd(a),
		newUserCmd(a),
		newStoreCmd(a),
		newPIICmd(a),
		newKMSCmd(a),
	)
	return cmd
}

// loadSettings reads configuration and sets up logging
func (a *app) loadSettings() error {
	if a.settings != nil {
		return nil
	}
	s, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	level := s.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	if err := logging.Setup(level, a.pretty || s.Log.Pretty); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	a.settings = s
	return nil
}

// withEngine runs fn with a started engine and closes it afterwards
func (a *app) withEngine(ctx context.Context, fn func(e *engine.Engine) error) error {
	if err := a.loadSettings(); err != nil {
		return err
	}
	e, err := engine.New(ctx, a.settings, a.engineOpts...)
	if err != nil {
		return err
	}
	defer func() {
		_ = e.Close(context.WithoutCancel(ctx))
	}()
	return fn(e)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
