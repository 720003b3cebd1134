package types

import (
	"encoding/json"
	"time"
)

// Legal bases for processing personal data
const (
	LegalBasisConsent            = "consent"
	LegalBasisContract           = "contract"
	LegalBasisLegalObligation    = "legal_obligation"
	LegalBasisLegitimateInterest = "legitimate_interest"
	DefaultProcessingPurpose     = "application_functionality"
)

// DataProcessingRecord documents why and how a stored item is processed.
// It is (over)written on store, updated on retrieve and removed on erasure.
type DataProcessingRecord struct {
	Key             string             `json:"key" bson:"key"`
	OwnerID         string             `json:"ownerId,omitempty" bson:"ownerId,omitempty"`
	Classification  DataClassification `json:"classification" bson:"classification"`
	PIITypes        []PIIType          `json:"piiTypes,omitempty" bson:"piiTypes,omitempty"`
	Purpose         string             `json:"purpose" bson:"purpose"`
	LegalBasis      string             `json:"legalBasis" bson:"legalBasis"`
	RetentionPeriod time.Duration      `json:"retentionPeriod" bson:"retentionPeriod"`
	ConsentGiven    bool               `json:"consentGiven" bson:"consentGiven"`
	CreatedAt       time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time          `json:"updatedAt" bson:"updatedAt"`
	ExpiresAt       *time.Time         `json:"expiresAt,omitempty" bson:"expiresAt,omitempty"`
	AccessCount     int64              `json:"accessCount" bson:"accessCount"`
	LastAccessedAt  *time.Time         `json:"lastAccessedAt,omitempty" bson:"lastAccessedAt,omitempty"`
}

// StoreOptions controls how SecureStorage stores a value
type StoreOptions struct {
	// Classification overrides PII-based inference when set
	Classification DataClassification

	// PIIType declares the kind of PII held by the value
	PIIType PIIType

	// RequireConsent gates the write on the consent oracle
	RequireConsent bool

	// ConsentKey is the key the consent oracle is asked about; defaults to the storage key
	ConsentKey string

	// ExpiresIn sets an absolute expiry relative to the store time; zero means no expiry
	ExpiresIn time.Duration

	// Purpose and LegalBasis are recorded in the processing record
	Purpose    string
	LegalBasis string

	// OwnerID names the data subject; when empty it is taken from a top-level
	// "userId" or "id" string field of the value
	OwnerID string
}

// ExportedRecord is a single decrypted item in a data-subject export
type ExportedRecord struct {
	Key      string               `json:"key"`
	Data     json.RawMessage      `json:"data"`
	Metadata DataProcessingRecord `json:"metadata"`
}

// UserDataExport bundles every item owned by a data subject
type UserDataExport struct {
	UserID     string           `json:"userId"`
	ExportedAt time.Time        `json:"exportedAt"`
	Records    []ExportedRecord `json:"records"`
}
