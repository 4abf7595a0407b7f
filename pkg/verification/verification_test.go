package verification

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL(t *testing.T) {
	p := NewPayload("https://certs.example.org/", 0)
	assert.Equal(t, "https://certs.example.org/review-certificate/abc123", p.URL("abc123"))
}

func TestQRCodeIsPNG(t *testing.T) {
	p := NewPayload("https://certs.example.org", 128)

	data, err := p.QRCode("abc123")
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())
}

func TestQRCodeRequiresLedgerID(t *testing.T) {
	_, err := NewPayload("https://certs.example.org", 0).QRCode("")
	assert.Error(t, err)
}
