package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const (
	// MaxEntryBytes is the largest data entry name or value the ledger accepts.
	MaxEntryBytes = 64
	// MaxEntries bounds the number of binding pairs in one certificate; one
	// slot is reserved for the template id.
	MaxEntries = 99

	templateEntry = "template_id"
	revokedEntry  = "revoked"
)

var (
	// ErrEntryTooLong is returned when a key or value does not fit a ledger data entry.
	ErrEntryTooLong = errors.New("ledger entry exceeds 64 bytes")
	// ErrTooManyEntries is returned when a binding has more pairs than one transaction carries.
	ErrTooManyEntries = errors.New("too many ledger entries for one certificate")
	// ErrCertificateNotFound is returned by lookups for unknown certificate ids.
	ErrCertificateNotFound = errors.New("certificate not found on ledger")
	// ErrTransactionFailed is returned when the ledger rejected a submitted transaction.
	ErrTransactionFailed = errors.New("ledger transaction failed")
)

// Client is the ledger seam used by the issuance and revocation pipelines.
type Client interface {
	// CreateCertificate validates and submits a certificate record. The
	// returned handle must be waited on; the record is not anchored until
	// Wait returns successfully.
	CreateCertificate(ctx context.Context, templateID string, keys, values []string) (PendingTx, error)
	// GetCertificateInfo is a read-only lookup of the anchored record.
	GetCertificateInfo(ctx context.Context, certificateID string) (*CertificateInfo, error)
	// RevokeCertificate records a revocation marker for the certificate.
	RevokeCertificate(ctx context.Context, certificateID string) error
}

// PendingTx is a submitted ledger transaction awaiting confirmation.
type PendingTx interface {
	Hash() string
	Wait(ctx context.Context) (*Confirmation, error)
}

// Confirmation is returned once a certificate transaction is final.
type Confirmation struct {
	TxHash        string
	CertificateID string
	Ledger        int32
	ConfirmedAt   time.Time
}

// CertificateInfo is the ledger truth for one certificate.
type CertificateInfo struct {
	CertificateID   string   `json:"certificateId"`
	TemplateID      string   `json:"templateId"`
	Keys            []string `json:"keys"`
	Values          []string `json:"values"`
	TransactionHash string   `json:"transactionHash"`
	Ledger          int32    `json:"ledger,omitempty"`
}

// Fields returns the ledger pairs as a name -> value map.
func (i *CertificateInfo) Fields() map[string]any {
	out := make(map[string]any, len(i.Keys))
	for idx, k := range i.Keys {
		if idx < len(i.Values) {
			out[k] = i.Values[idx]
		}
	}
	return out
}

// ValidateEntries checks that a binding fits into ledger data entries.
func ValidateEntries(templateID string, keys, values []string) error {
	if len(keys) != len(values) {
		return fmt.Errorf("binding has %d keys and %d values", len(keys), len(values))
	}
	if len(keys) > MaxEntries {
		return fmt.Errorf("%w: %d pairs", ErrTooManyEntries, len(keys))
	}
	if len(encodeValue(templateID)) > MaxEntryBytes {
		return fmt.Errorf("%w: template id", ErrEntryTooLong)
	}
	for i, k := range keys {
		if len(entryName(i, k)) > MaxEntryBytes {
			return fmt.Errorf("%w: key %q", ErrEntryTooLong, k)
		}
		if len(encodeValue(values[i])) > MaxEntryBytes {
			return fmt.Errorf("%w: value of %q", ErrEntryTooLong, k)
		}
	}
	return nil
}

// entryName prefixes a key with its two-digit position so the order of the
// binding survives the unordered data entry model.
func entryName(pos int, key string) string {
	return fmt.Sprintf("%02d:%s", pos, key)
}

func parseEntryName(name string) (int, string, bool) {
	if len(name) < 4 || name[2] != ':' {
		return 0, "", false
	}
	pos, err := strconv.Atoi(name[:2])
	if err != nil {
		return 0, "", false
	}
	return pos, name[3:], true
}

// encodeValue prefixes values with '=' because an empty data value would
// delete the entry instead of storing it.
func encodeValue(v string) []byte {
	return append([]byte{'='}, v...)
}

func decodeValue(b []byte) string {
	if len(b) > 0 && b[0] == '=' {
		return string(b[1:])
	}
	return string(b)
}
