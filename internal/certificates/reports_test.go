package certificates

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certichain/certificate-portal/certificate-portal-backend/pkg/apperrors"
)

func TestSubmitReport(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	creator := uuid.New()
	issued := issueOne(t, h, creator)
	svc := NewReportService(h.records, h.deps.Logger)

	report, err := svc.Submit(ctx, issued.LedgerID, "  the course name is wrong  ")
	require.NoError(t, err)
	assert.Equal(t, issued.CertificateID, report.CertificateID)
	assert.Equal(t, "the course name is wrong", report.Comment)

	user, err := h.records.GetUser(ctx, creator)
	require.NoError(t, err)
	assert.Contains(t, []uuid.UUID(user.Reports), report.ID)

	views, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, issued.LedgerID, views[0].LedgerID)
	assert.Equal(t, creator, views[0].CreatorID)
	assert.Equal(t, "Education", views[0].TemplateName)
}

func TestSubmitReportValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	svc := NewReportService(h.records, h.deps.Logger)

	_, err := svc.Submit(ctx, "anything", "   ")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	_, err = svc.Submit(ctx, "unknown-ledger-id", "looks forged")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeNotFound))
	assert.Zero(t, h.countRows(t, &Report{}))
}
