package pii

import "github.com/root-sector-ltd-and-co-kg/module-data-protection/types"

// classificationTiers is checked in order; the first tier containing any
// detected type decides the classification
var classificationTiers = []struct {
	level types.DataClassification
	types []types.PIIType
}{
	{types.ClassificationRestricted, []types.PIIType{types.PIISSN, types.PIICreditCard, types.PIIBiometric}},
	{types.ClassificationConfidential, []types.PIIType{types.PIIEmail, types.PIIName, types.PIIPhone}},
	{types.ClassificationInternal, []types.PIIType{types.PIIQuizResults, types.PIIUserPreferences}},
}

// Classify maps detected PII types to the minimal sufficient classification
func Classify(piiTypes []types.PIIType) types.DataClassification {
	present := make(map[types.PIIType]bool, len(piiTypes))
	for _, t := range piiTypes {
		present[t] = true
	}

	for _, tier := range classificationTiers {
		for _, t := range tier.types {
			if present[t] {
				return tier.level
			}
		}
	}
	return types.ClassificationPublic
}
