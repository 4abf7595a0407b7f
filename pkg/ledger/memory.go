package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryClient is an in-process ledger used for local development and tests.
// Certificate ids are content hashes salted with a sequence number, so equal
// bindings still produce distinct records.
type MemoryClient struct {
	mu      sync.Mutex
	seq     int32
	records map[string]*CertificateInfo
	revoked map[string]time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{
		records: make(map[string]*CertificateInfo),
		revoked: make(map[string]time.Time),
	}
}

func (m *MemoryClient) CreateCertificate(ctx context.Context, templateID string, keys, values []string) (PendingTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateEntries(templateID, keys, values); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s|%s", m.seq, templateID,
		strings.Join(keys, "\x1f"), strings.Join(values, "\x1f"))))
	hash := hex.EncodeToString(sum[:])

	m.records[hash] = &CertificateInfo{
		CertificateID:   hash,
		TemplateID:      templateID,
		Keys:            append([]string(nil), keys...),
		Values:          append([]string(nil), values...),
		TransactionHash: hash,
		Ledger:          m.seq,
	}

	return &memoryPending{conf: &Confirmation{
		TxHash:        hash,
		CertificateID: hash,
		Ledger:        m.seq,
		ConfirmedAt:   time.Now(),
	}}, nil
}

func (m *MemoryClient) GetCertificateInfo(ctx context.Context, certificateID string) (*CertificateInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.records[certificateID]
	if !ok {
		return nil, ErrCertificateNotFound
	}
	cp := *info
	cp.Keys = append([]string(nil), info.Keys...)
	cp.Values = append([]string(nil), info.Values...)
	return &cp, nil
}

func (m *MemoryClient) RevokeCertificate(ctx context.Context, certificateID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[certificateID]; !ok {
		return ErrCertificateNotFound
	}
	m.revoked[certificateID] = time.Now()
	return nil
}

// Revoked reports whether a revocation marker exists for the certificate.
func (m *MemoryClient) Revoked(certificateID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[certificateID]
	return ok
}

type memoryPending struct {
	conf *Confirmation
}

func (p *memoryPending) Hash() string { return p.conf.TxHash }

func (p *memoryPending) Wait(ctx context.Context) (*Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.conf, nil
}
