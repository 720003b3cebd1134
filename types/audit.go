package types

import (
	"time"
)

// AuditCategory groups audit events by the kind of activity they record
type AuditCategory string

const (
	CategoryAuthentication   AuditCategory = "authentication"
	CategoryDataAccess       AuditCategory = "data_access"
	CategoryDataModification AuditCategory = "data_modification"
	CategoryDataExport       AuditCategory = "data_export"
	CategoryDataDeletion     AuditCategory = "data_deletion"
	CategoryConsent          AuditCategory = "consent_management"
	CategorySecurity         AuditCategory = "security_event"
	CategorySystem           AuditCategory = "system_event"
	CategoryCompliance       AuditCategory = "compliance"
	CategoryUserActivity     AuditCategory = "user_activity"
)

// AuditResult is the outcome of an audited action
type AuditResult string

const (
	ResultSuccess AuditResult = "success"
	ResultFailure AuditResult = "failure"
	ResultPartial AuditResult = "partial"
	ResultBlocked AuditResult = "blocked"
)

// IsFailure reports whether the result counts as a failed action
func (r AuditResult) IsFailure() bool {
	return r == ResultFailure || r == ResultBlocked
}

// RiskLevel is the security risk attached to an audit event
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// IsHigh reports whether the level is HIGH or CRITICAL
func (r RiskLevel) IsHigh() bool {
	return r == RiskHigh || r == RiskCritical
}

// Actor identifies who performed an audited action
type Actor struct {
	Type      string `json:"type" bson:"type"` // user, system, service, anonymous
	ID        string `json:"id" bson:"id"`
	IPAddress string `json:"ipAddress,omitempty" bson:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty" bson:"userAgent,omitempty"`
	SessionID string `json:"sessionId,omitempty" bson:"sessionId,omitempty"`
}

// Target identifies the resource an audited action was applied to
type Target struct {
	Type   string         `json:"type" bson:"type"`
	ID     string         `json:"id" bson:"id"`
	Before map[string]any `json:"before,omitempty" bson:"before,omitempty"`
	After  map[string]any `json:"after,omitempty" bson:"after,omitempty"`
}

// EventContext carries where and why an event happened
type EventContext struct {
	Source      string         `json:"source,omitempty" bson:"source,omitempty"`
	RequestID   string         `json:"requestId,omitempty" bson:"requestId,omitempty"`
	Description string         `json:"description,omitempty" bson:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Compliance carries the regulatory metadata resolved for an event
type Compliance struct {
	Regulations    []string           `json:"regulations" bson:"regulations"`
	Classification DataClassification `json:"classification" bson:"classification"`
	ContainsPII    bool               `json:"containsPII" bson:"containsPII"`
	PIITypes       []PIIType          `json:"piiTypes,omitempty" bson:"piiTypes,omitempty"`
	RetentionDays  int                `json:"retentionDays" bson:"retentionDays"`
}

// Integrity holds the hash chain links of an event
type Integrity struct {
	Hash         string `json:"hash" bson:"hash"`
	PreviousHash string `json:"previousHash" bson:"previousHash"`
}

// AuditEvent is an immutable, hash-chained audit record
type AuditEvent struct {
	ID             string        `json:"id" bson:"_id"`
	Timestamp      time.Time     `json:"timestamp" bson:"timestamp"`
	SequenceNumber int64         `json:"sequenceNumber" bson:"sequenceNumber"`
	Category       AuditCategory `json:"category" bson:"category"`
	Action         string        `json:"action" bson:"action"`
	Result         AuditResult   `json:"result" bson:"result"`
	Actor          Actor         `json:"actor" bson:"actor"`
	Target         *Target       `json:"target,omitempty" bson:"target,omitempty"`
	Context        EventContext  `json:"context" bson:"context"`
	Compliance     Compliance    `json:"compliance" bson:"compliance"`
	Risk           RiskLevel     `json:"riskLevel" bson:"riskLevel"`
	Integrity      Integrity     `json:"integrity" bson:"integrity"`
}

// EventDetails is the caller-supplied part of an audit event
type EventDetails struct {
	Result  AuditResult
	Actor   Actor
	Target  *Target
	Context EventContext
	// Risk overrides the default risk level when set
	Risk RiskLevel
}

// SequenceRange bounds an integrity verification (inclusive); zero values are open
type SequenceRange struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// Integrity error kinds
const (
	IntegrityHashMismatch = "hash_mismatch"
	IntegrityChainBreak   = "chain_break"
	IntegritySequenceGap  = "sequence_gap"
	IntegrityUnreadable   = "unreadable_event"
)

// IntegrityError describes a single discontinuity found during verification
type IntegrityError struct {
	SequenceNumber int64  `json:"sequenceNumber"`
	EventID        string `json:"eventId,omitempty"`
	Kind           string `json:"kind"`
	Expected       string `json:"expected,omitempty"`
	Actual         string `json:"actual,omitempty"`
}

// IntegrityReport is the result of re-verifying the hash chain
type IntegrityReport struct {
	Valid         bool             `json:"valid"`
	CheckedEvents int              `json:"checkedEvents"`
	FirstSequence int64            `json:"firstSequence"`
	LastSequence  int64            `json:"lastSequence"`
	Errors        []IntegrityError `json:"errors"`
	VerifiedAt    time.Time        `json:"verifiedAt"`
}

// AuditQuery filters audit events; zero-valued fields do not filter
type AuditQuery struct {
	Categories []AuditCategory `json:"categories,omitempty"`
	ActorID    string          `json:"actorId,omitempty"`
	ActorType  string          `json:"actorType,omitempty"`
	Action     string          `json:"action,omitempty"`
	StartTime  *time.Time      `json:"startTime,omitempty"`
	EndTime    *time.Time      `json:"endTime,omitempty"`
	Results    []AuditResult   `json:"results,omitempty"`
	RiskLevels []RiskLevel     `json:"riskLevels,omitempty"`
	Text       string          `json:"text,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// SearchResult is a page of audit events
type SearchResult struct {
	Events  []*AuditEvent `json:"events"`
	Total   int           `json:"total"`
	Offset  int           `json:"offset"`
	Limit   int           `json:"limit"`
	HasMore bool          `json:"hasMore"`
}

// ComplianceViolation flags an event that needs compliance follow-up
type ComplianceViolation struct {
	EventID        string        `json:"eventId"`
	SequenceNumber int64         `json:"sequenceNumber"`
	Category       AuditCategory `json:"category"`
	Action         string        `json:"action"`
	Timestamp      time.Time     `json:"timestamp"`
	Description    string        `json:"description"`
}

// TimeRange is an inclusive time interval
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// AuditReport aggregates a set of audit events for compliance review
type AuditReport struct {
	ID               string                `json:"id"`
	GeneratedAt      time.Time             `json:"generatedAt"`
	GeneratedBy      string                `json:"generatedBy"`
	Purpose          string                `json:"purpose"`
	Query            AuditQuery            `json:"query"`
	TotalEvents      int                   `json:"totalEvents"`
	ByCategory       map[AuditCategory]int `json:"byCategory"`
	ByResult         map[AuditResult]int   `json:"byResult"`
	UniqueActors     int                   `json:"uniqueActors"`
	TimeRange        *TimeRange            `json:"timeRange,omitempty"`
	CriticalFailures int                   `json:"criticalFailures"`
	Violations       []ComplianceViolation `json:"violations"`
}

// ActivityItem is a single entry in a user activity timeline
type ActivityItem struct {
	Timestamp time.Time     `json:"timestamp"`
	Category  AuditCategory `json:"category"`
	Action    string        `json:"action"`
	Result    AuditResult   `json:"result"`
	Risk      RiskLevel     `json:"riskLevel"`
}

// ActivitySummary is a per-user rollup of audit activity
type ActivitySummary struct {
	UserID         string                `json:"userId"`
	Start          time.Time             `json:"start"`
	End            time.Time             `json:"end"`
	TotalActions   int                   `json:"totalActions"`
	ByCategory     map[AuditCategory]int `json:"byCategory"`
	FailureRate    float64               `json:"failureRate"`
	HighRiskEvents int                   `json:"highRiskEvents"`
	RecentActivity []ActivityItem        `json:"recentActivity"`
}
