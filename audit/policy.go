package audit

import (
	"sort"

	"github.com/root-sector-ltd-and-co-kg/module-data-protection/pii"
	"github.com/root-sector-ltd-and-co-kg/module-data-protection/types"
)

// Regulations attached to audit events
const (
	RegulationGDPR     = "GDPR"
	RegulationCCPA     = "CCPA"
	RegulationSOC2     = "SOC2"
	RegulationISO27001 = "ISO27001"
)

// Retention periods in days
const (
	DefaultRetentionDays  = 365
	ExtendedRetentionDays = 2555
)

type compliancePolicy struct {
	regulations   []string
	retentionDays int
}

// categoryPolicies holds the category-specific rules; PII presence adds piiPolicy
var categoryPolicies = map[types.AuditCategory]compliancePolicy{
	types.CategoryAuthentication: {regulations: []string{RegulationSOC2}, retentionDays: DefaultRetentionDays},
	types.CategorySecurity:       {regulations: []string{RegulationSOC2, RegulationISO27001}, retentionDays: ExtendedRetentionDays},
	types.CategoryCompliance:     {regulations: []string{RegulationSOC2}, retentionDays: ExtendedRetentionDays},
}

var piiPolicy = compliancePolicy{
	regulations:   []string{RegulationGDPR, RegulationCCPA},
	retentionDays: ExtendedRetentionDays,
}

// resolveCompliance builds the compliance block for an event from its
// category and the PII found in its target
func resolveCompliance(category types.AuditCategory, piiTypes []types.PIIType) types.Compliance {
	c := types.Compliance{
		Regulations:    []string{},
		Classification: types.ClassificationInternal,
		ContainsPII:    len(piiTypes) > 0,
		PIITypes:       piiTypes,
		RetentionDays:  DefaultRetentionDays,
	}

	apply := func(p compliancePolicy) {
		c.Regulations = append(c.Regulations, p.regulations...)
		if p.retentionDays > c.RetentionDays {
			c.RetentionDays = p.retentionDays
		}
	}
	if p, ok := categoryPolicies[category]; ok {
		apply(p)
	}
	if c.ContainsPII {
		apply(piiPolicy)
		c.Classification = pii.Classify(piiTypes).Max(types.ClassificationInternal)
	}

	c.Regulations = dedupe(c.Regulations)
	return c
}

// defaultRisk resolves the risk level of an event that did not set one
func defaultRisk(category types.AuditCategory, result types.AuditResult) types.RiskLevel {
	failed := result.IsFailure()
	switch category {
	case types.CategorySecurity:
		if failed {
			return types.RiskCritical
		}
		return types.RiskHigh
	case types.CategoryDataDeletion:
		if failed {
			return types.RiskHigh
		}
		return types.RiskMedium
	case types.CategoryDataExport:
		if failed {
			return types.RiskHigh
		}
		return types.RiskMedium
	}
	if failed {
		return types.RiskMedium
	}
	return types.RiskLow
}

// detectTargetPII returns the PII types found in a target's before and after state
func detectTargetPII(detector *pii.Detector, target *types.Target) []types.PIIType {
	if target == nil {
		return nil
	}
	seen := make(map[types.PIIType]bool)
	for _, state := range []map[string]any{target.Before, target.After} {
		if state == nil {
			continue
		}
		for _, t := range detector.DetectTypes(state) {
			seen[t] = true
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]types.PIIType, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
