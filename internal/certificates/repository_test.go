package certificates

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserListsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	userID, certID := uuid.New(), uuid.New()

	// Removing from a user who does not exist yet is a no-op.
	require.NoError(t, h.records.RemoveUserCertificate(ctx, userID, certID))
	u, err := h.records.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Nil(t, u)

	require.NoError(t, h.records.AppendUserCertificate(ctx, userID, certID))
	require.NoError(t, h.records.AppendUserCertificate(ctx, userID, certID))
	u, err = h.records.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{certID}, []uuid.UUID(u.Certificates))
	assert.Empty(t, u.Reports)

	require.NoError(t, h.records.RemoveUserCertificate(ctx, userID, certID))
	u, err = h.records.GetUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, u.Certificates)
}

func TestSetArtifactPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	cert := &Certificate{TemplateID: uuid.New(), CreatorID: uuid.New(), LedgerID: "l1", TransactionHash: "l1"}
	require.NoError(t, h.records.CreateCertificate(ctx, cert))
	assert.True(t, cert.Pending())

	require.NoError(t, h.records.SetArtifactPath(ctx, cert.ID, "certificates/l1.pdf"))
	got, err := h.records.GetCertificateByLedgerID(ctx, "l1")
	require.NoError(t, err)
	require.NotNil(t, got.ArtifactPath)
	assert.Equal(t, "certificates/l1.pdf", *got.ArtifactPath)

	assert.ErrorIs(t, h.records.SetArtifactPath(ctx, uuid.New(), "x"), ErrNotFound)
}

func TestLedgerIDIsUnique(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	require.NoError(t, h.records.CreateCertificate(ctx, &Certificate{TemplateID: uuid.New(), CreatorID: uuid.New(), LedgerID: "dup", TransactionHash: "dup"}))
	err := h.records.CreateCertificate(ctx, &Certificate{TemplateID: uuid.New(), CreatorID: uuid.New(), LedgerID: "dup", TransactionHash: "dup"})
	assert.Error(t, err)
}

func TestDeleteCertificateCascade(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	keep := &Certificate{TemplateID: uuid.New(), CreatorID: uuid.New(), LedgerID: "keep", TransactionHash: "keep"}
	drop := &Certificate{TemplateID: uuid.New(), CreatorID: uuid.New(), LedgerID: "drop", TransactionHash: "drop"}
	require.NoError(t, h.records.CreateCertificate(ctx, keep))
	require.NoError(t, h.records.CreateCertificate(ctx, drop))
	require.NoError(t, h.records.CreateReport(ctx, &Report{CertificateID: keep.ID, Comment: "a"}))
	require.NoError(t, h.records.CreateReport(ctx, &Report{CertificateID: drop.ID, Comment: "b"}))

	require.NoError(t, h.records.DeleteCertificateCascade(ctx, drop.ID))

	assert.Equal(t, int64(1), h.countRows(t, &Certificate{}))
	assert.Equal(t, int64(1), h.countRows(t, &Report{}))
	assert.ErrorIs(t, h.records.DeleteCertificateCascade(ctx, drop.ID), ErrNotFound)
}

func TestListCertificates(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	tmpl := h.educationTemplate(t)
	alice, bob := uuid.New(), uuid.New()

	done := "certificates/a.pdf"
	require.NoError(t, h.records.CreateCertificate(ctx, &Certificate{TemplateID: tmpl.ID, CreatorID: alice, LedgerID: "a", TransactionHash: "a", ArtifactPath: &done}))
	require.NoError(t, h.records.CreateCertificate(ctx, &Certificate{TemplateID: tmpl.ID, CreatorID: alice, LedgerID: "b", TransactionHash: "b"}))
	require.NoError(t, h.records.CreateCertificate(ctx, &Certificate{TemplateID: uuid.New(), CreatorID: bob, LedgerID: "c", TransactionHash: "c"}))

	all, err := h.records.ListCertificates(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := h.records.ListCertificates(ctx, ListFilter{CreatorID: &alice})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	for _, v := range mine {
		assert.Equal(t, "Education", v.TemplateName)
	}

	pending, err := h.records.ListCertificates(ctx, ListFilter{CreatorID: &alice, PendingOnly: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].LedgerID)
	assert.Nil(t, pending[0].ArtifactPath)

	orphanTemplate, err := h.records.ListCertificates(ctx, ListFilter{CreatorID: &bob})
	require.NoError(t, err)
	require.Len(t, orphanTemplate, 1)
	assert.Empty(t, orphanTemplate[0].TemplateName)

	past := time.Now().Add(-time.Hour)
	older, err := h.records.ListCertificates(ctx, ListFilter{Before: &past})
	require.NoError(t, err)
	assert.Empty(t, older)

	limited, err := h.records.ListCertificates(ctx, pendingBefore(time.Now().Add(time.Hour), 1))
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
