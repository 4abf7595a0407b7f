package certificates

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"certichain/certificate-portal/certificate-portal-backend/pkg/placeholders"
)

// Certificate is the local record of a ledger-anchored certificate. It is
// pending until ArtifactPath is set by a successful render.
type Certificate struct {
	ID              uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	TemplateID      uuid.UUID `json:"template_id" gorm:"type:uuid;not null;index"`
	CreatorID       uuid.UUID `json:"creator_id" gorm:"type:uuid;not null;index"`
	LedgerID        string    `json:"ledger_id" gorm:"not null;uniqueIndex"`
	TransactionHash string    `json:"transaction_hash" gorm:"not null"`
	ArtifactPath    *string   `json:"artifact_path"`
	CreatedAt       time.Time `json:"created_at" gorm:"autoCreateTime;index"`
	UpdatedAt       time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// Pending reports whether the certificate still lacks a rendered document.
func (c *Certificate) Pending() bool {
	return c.ArtifactPath == nil
}

func (c *Certificate) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Report is a public complaint filed against a certificate.
type Report struct {
	ID            uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	CertificateID uuid.UUID `json:"certificate_id" gorm:"type:uuid;not null;index"`
	Comment       string    `json:"comment" gorm:"type:text;not null"`
	CreatedAt     time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Report) TableName() string {
	return "certificate_reports"
}

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// User holds the back-references from a creator to what they issued and
// what was reported against their certificates.
type User struct {
	ID           uuid.UUID                      `json:"id" gorm:"type:uuid;primary_key"`
	Certificates datatypes.JSONSlice[uuid.UUID] `json:"certificates"`
	Reports      datatypes.JSONSlice[uuid.UUID] `json:"reports"`
	UpdatedAt    time.Time                      `json:"updated_at" gorm:"autoUpdateTime"`
}

// HasCertificate reports whether id is in the user's certificate list.
func (u *User) HasCertificate(id uuid.UUID) bool {
	return slices.Contains(u.Certificates, id)
}

// IssueRequest asks for one certificate to be issued from a template.
type IssueRequest struct {
	TemplateID uuid.UUID
	CreatorID  uuid.UUID
	Fields     placeholders.Fields
}

// IssueResult is returned by a completed issuance or re-render.
type IssueResult struct {
	CertificateID   uuid.UUID `json:"certificateId"`
	LedgerID        string    `json:"ledgerId"`
	TransactionHash string    `json:"transactionHash"`
	ArtifactPath    string    `json:"artifactPath"`
}

// BulkRequest issues one certificate per row.
type BulkRequest struct {
	TemplateID uuid.UUID
	CreatorID  uuid.UUID
	Rows       []placeholders.Fields
}

// RowOutcome is the result for one input row. Failed rows keep the ids that
// were assigned before the failing step so they can be reconciled or
// re-rendered.
type RowOutcome struct {
	Row             int                 `json:"row"`
	Success         bool                `json:"success"`
	CertificateID   *uuid.UUID          `json:"certificateId,omitempty"`
	LedgerID        string              `json:"ledgerId,omitempty"`
	TransactionHash string              `json:"transactionHash,omitempty"`
	ArtifactPath    string              `json:"artifactPath,omitempty"`
	Step            string              `json:"step,omitempty"`
	Reason          string              `json:"reason,omitempty"`
	RowData         placeholders.Fields `json:"rowData"`
}

// BulkResult holds one outcome per input row, in input order.
type BulkResult struct {
	TemplateID uuid.UUID    `json:"templateId"`
	Results    []RowOutcome `json:"results"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
}

// Verification combines ledger truth with the local record status.
type Verification struct {
	LedgerID   string            `json:"ledgerId"`
	TemplateID string            `json:"templateId"`
	Keys       []string          `json:"keys"`
	Values     []string          `json:"values"`
	Fields     map[string]string `json:"fields"`
	Status     string            `json:"status"`
}

const (
	StatusIssued      = "issued"
	StatusPending     = "pending"
	StatusNotOnRecord = "not_on_record"
)

// ListFilter narrows certificate listings.
type ListFilter struct {
	CreatorID   *uuid.UUID
	PendingOnly bool
	Before      *time.Time
	Limit       int
}

// CertificateView is a certificate joined with its template name.
type CertificateView struct {
	ID              uuid.UUID `json:"id" db:"id"`
	TemplateID      uuid.UUID `json:"templateId" db:"template_id"`
	TemplateName    string    `json:"templateName" db:"template_name"`
	CreatorID       uuid.UUID `json:"creatorId" db:"creator_id"`
	LedgerID        string    `json:"ledgerId" db:"ledger_id"`
	TransactionHash string    `json:"transactionHash" db:"transaction_hash"`
	ArtifactPath    *string   `json:"artifactPath" db:"artifact_path"`
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// ReportView is a report joined with the certificate it targets.
type ReportView struct {
	ID            uuid.UUID `json:"id" db:"id"`
	CertificateID uuid.UUID `json:"certificateId" db:"certificate_id"`
	Comment       string    `json:"comment" db:"comment"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	LedgerID      string    `json:"ledgerId" db:"ledger_id"`
	CreatorID     uuid.UUID `json:"creatorId" db:"creator_id"`
	TemplateName  string    `json:"templateName" db:"template_name"`
}
