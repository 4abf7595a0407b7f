package certificates

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"certichain/certificate-portal/certificate-portal-backend/pkg/apperrors"
	"certichain/certificate-portal/certificate-portal-backend/pkg/events"
)

// Revoker reverses issuance across the record store and artifact storage.
type Revoker struct {
	deps    Dependencies
	options Options
	logger  *zap.Logger
}

func NewRevoker(deps Dependencies, options Options) *Revoker {
	return &Revoker{
		deps:    deps,
		options: options,
		logger:  deps.Logger.With(zap.String("component", "revoker")),
	}
}

// Revoke deletes a certificate and everything pointing at it. References
// are detached before the certificate row goes, so a partial failure never
// leaves a user list or report naming a deleted id. Revoking an unknown id
// returns a not-found error.
func (r *Revoker) Revoke(ctx context.Context, certificateID uuid.UUID) error {
	cert, err := r.deps.Records.GetCertificateByID(ctx, certificateID)
	if err != nil {
		return apperrors.Persistence(err, "failed to load certificate")
	}
	if cert == nil {
		return apperrors.NotFound("certificate not found")
	}
	fields := []zap.Field{
		zap.String("certificate_id", cert.ID.String()),
		zap.String("ledger_id", cert.LedgerID),
	}

	// The ledger record is immutable; local revocation never waits on this marker.
	if r.options.RevokeOnLedger {
		nonCritical(r.logger, "revoke on ledger", func() error {
			return r.deps.Ledger.RevokeCertificate(ctx, cert.LedgerID)
		}, fields...)
	}

	nonCritical(r.logger, "unlink certificate from creator", func() error {
		return r.deps.Records.RemoveUserCertificate(ctx, cert.CreatorID, cert.ID)
	}, fields...)

	if err := r.deps.Records.DeleteCertificateCascade(ctx, cert.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperrors.NotFound("certificate not found")
		}
		return apperrors.Persistence(err, "failed to delete certificate").
			WithDetail("certificate_id", cert.ID.String())
	}

	if cert.ArtifactPath != nil {
		nonCritical(r.logger, "delete certificate document", func() error {
			return r.deps.Artifacts.Delete(ctx, *cert.ArtifactPath)
		}, fields...)
	}

	publish(ctx, r.deps.Events, r.logger, events.TypeCertificateRevoked, cert)
	r.logger.Info("Certificate revoked", fields...)
	return nil
}
