package types

import (
	"fmt"
	"strings"
)

// DataClassification represents the sensitivity level of a piece of data.
// Levels are ordered: PUBLIC < INTERNAL < CONFIDENTIAL < RESTRICTED.
type DataClassification string

const (
	ClassificationPublic       DataClassification = "PUBLIC"
	ClassificationInternal     DataClassification = "INTERNAL"
	ClassificationConfidential DataClassification = "CONFIDENTIAL"
	ClassificationRestricted   DataClassification = "RESTRICTED"
)

var classificationRank = map[DataClassification]int{
	ClassificationPublic:       0,
	ClassificationInternal:     1,
	ClassificationConfidential: 2,
	ClassificationRestricted:   3,
}

// Valid reports whether c is one of the known classification levels
func (c DataClassification) Valid() bool {
	_, ok := classificationRank[c]
	return ok
}

// Rank returns the position of c in the classification order, or -1 if unknown
func (c DataClassification) Rank() int {
	if r, ok := classificationRank[c]; ok {
		return r
	}
	return -1
}

// AtLeast reports whether c is at least as sensitive as other
func (c DataClassification) AtLeast(other DataClassification) bool {
	return c.Rank() >= other.Rank()
}

// Max returns the more sensitive of the two classifications
func (c DataClassification) Max(other DataClassification) DataClassification {
	if other.Rank() > c.Rank() {
		return other
	}
	return c
}

// ParseClassification parses a case-insensitive classification name
func ParseClassification(s string) (DataClassification, error) {
	c := DataClassification(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unknown classification %q", ErrValidation, s)
	}
	return c, nil
}

// PIIType identifies a category of personally identifiable information
type PIIType string

const (
	PIIEmail           PIIType = "EMAIL"
	PIIName            PIIType = "NAME"
	PIIPhone           PIIType = "PHONE"
	PIIAddress         PIIType = "ADDRESS"
	PIISSN             PIIType = "SSN"
	PIICreditCard      PIIType = "CREDIT_CARD"
	PIIBiometric       PIIType = "BIOMETRIC"
	PIIQuizResults     PIIType = "QUIZ_RESULTS"
	PIIUserPreferences PIIType = "USER_PREFERENCES"
	PIISessionData     PIIType = "SESSION_DATA"
)

// AllPIITypes lists the closed set of PII types
var AllPIITypes = []PIIType{
	PIIEmail,
	PIIName,
	PIIPhone,
	PIIAddress,
	PIISSN,
	PIICreditCard,
	PIIBiometric,
	PIIQuizResults,
	PIIUserPreferences,
	PIISessionData,
}

// Valid reports whether p belongs to the closed PII type set
func (p PIIType) Valid() bool {
	for _, t := range AllPIITypes {
		if t == p {
			return true
		}
	}
	return false
}
