package metadata

import "time"

// DatasetStatus is the lifecycle state of a registered dataset.
type DatasetStatus string

const (
	// StatusRegistered marks a dataset whose metadata is committed but
	// whose observations have not been loaded yet.
	StatusRegistered DatasetStatus = "registered"

	// StatusLoading marks a dataset with an analytics load in flight.
	StatusLoading DatasetStatus = "loading"

	// StatusFailed marks a dataset whose analytics load failed and was
	// compensated.
	StatusFailed DatasetStatus = "failed"

	// StatusDeleted marks a soft-deleted dataset. The record stays for
	// audit purposes; reads treat it as absent.
	StatusDeleted DatasetStatus = "deleted"
)

// DatasetRecord is the transactional metadata for one dataset.
type DatasetRecord struct {
	ID           string            `json:"dataset_id"`
	Descriptor   map[string]string `json:"descriptor,omitempty"`
	QualityScore float64           `json:"quality_score"`
	Status       DatasetStatus     `json:"status"`
	RegisteredAt time.Time         `json:"registered_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	StatusReason string            `json:"status_reason,omitempty"`
}

// CredentialRecord identifies one API consumer. The credential ID is the
// identifier the rate limiter and the threat scorer key on.
type CredentialRecord struct {
	ID        string    `json:"credential_id"`
	Label     string    `json:"label,omitempty"`
	APIKey    string    `json:"api_key"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AuditRecord is one append-only entry in the administrative audit trail.
type AuditRecord struct {
	ID      string    `json:"audit_id"`
	Action  string    `json:"action"`
	Subject string    `json:"subject"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Audit actions recorded by this package and the repository layer.
const (
	AuditActionDatasetRegistered   = "dataset_registered"
	AuditActionDatasetDeleted      = "dataset_deleted"
	AuditActionLoadCompensated     = "load_compensated"
	AuditActionIdentifierBlocked   = "identifier_blocked"
	AuditActionIdentifierUnblocked = "identifier_unblocked"
)

// CircuitSnapshot persists a breaker's last known state so restarts do not
// forget an open circuit.
type CircuitSnapshot struct {
	Name         string    `json:"name"`
	State        string    `json:"state"`
	FailureCount int       `json:"failure_count"`
	OpenedAt     time.Time `json:"opened_at,omitempty"`
	RetryAt      time.Time `json:"retry_at,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
}
