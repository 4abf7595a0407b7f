package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no artifact exists under a key.
var ErrNotFound = errors.New("artifact not found")

// ArtifactStore keeps one rendered document per key. Writing an existing key
// overwrites it.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// CertificateKey returns the artifact key for a ledger id. It is the only
// input to the path so re-rendering replaces the previous document.
func CertificateKey(ledgerID string) string {
	return "certificates/" + ledgerID + ".pdf"
}
