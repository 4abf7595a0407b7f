package certificates

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"certichain/certificate-portal/certificate-portal-backend/pkg/apperrors"
)

// ReportService files reports against certificates found by ledger id.
type ReportService struct {
	records Repository
	logger  *zap.Logger
}

func NewReportService(records Repository, logger *zap.Logger) *ReportService {
	return &ReportService{records: records, logger: logger.With(zap.String("component", "reports"))}
}

// Submit creates a report for the certificate anchored under ledgerID and
// links it to the certificate's creator.
func (s *ReportService) Submit(ctx context.Context, ledgerID, comment string) (*Report, error) {
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, apperrors.Validation("comment is required")
	}

	cert, err := s.records.GetCertificateByLedgerID(ctx, ledgerID)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to load certificate")
	}
	if cert == nil {
		return nil, apperrors.NotFound("certificate not found")
	}

	report := &Report{CertificateID: cert.ID, Comment: comment}
	if err := s.records.CreateReport(ctx, report); err != nil {
		return nil, apperrors.Persistence(err, "failed to save report")
	}

	nonCritical(s.logger, "link report to creator", func() error {
		return s.records.AppendUserReport(ctx, cert.CreatorID, report.ID)
	}, zap.String("report_id", report.ID.String()))

	s.logger.Info("Report submitted",
		zap.String("report_id", report.ID.String()),
		zap.String("certificate_id", cert.ID.String()),
		zap.String("ledger_id", ledgerID))
	return report, nil
}

// List returns every report joined with its certificate, newest first.
func (s *ReportService) List(ctx context.Context) ([]ReportView, error) {
	views, err := s.records.ListReports(ctx)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to list reports")
	}
	return views, nil
}
