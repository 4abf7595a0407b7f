package verification

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the side of the generated QR image in pixels.
const DefaultQRSize = 256

// Payload builds the public verification link for a certificate and its QR
// encoding.
type Payload struct {
	baseURL string
	size    int
}

func NewPayload(publicBaseURL string, size int) *Payload {
	if size <= 0 {
		size = DefaultQRSize
	}
	return &Payload{baseURL: strings.TrimRight(publicBaseURL, "/"), size: size}
}

// URL returns <base>/review-certificate/<ledgerId>.
func (p *Payload) URL(ledgerID string) string {
	return p.baseURL + "/review-certificate/" + url.PathEscape(ledgerID)
}

// QRCode returns a PNG QR code encoding the verification URL.
func (p *Payload) QRCode(ledgerID string) ([]byte, error) {
	if ledgerID == "" {
		return nil, fmt.Errorf("ledger id is required")
	}
	png, err := qrcode.Encode(p.URL(ledgerID), qrcode.Medium, p.size)
	if err != nil {
		return nil, fmt.Errorf("failed to encode qr code: %w", err)
	}
	return png, nil
}
