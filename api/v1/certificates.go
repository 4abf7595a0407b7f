package v1

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"certichain/certificate-portal/certificate-portal-backend/internal/auth"
	"certichain/certificate-portal/certificate-portal-backend/internal/certificates"
	"certichain/certificate-portal/certificate-portal-backend/internal/config"
	"certichain/certificate-portal/certificate-portal-backend/internal/templates"
	"certichain/certificate-portal/certificate-portal-backend/pkg/events"
	"certichain/certificate-portal/certificate-portal-backend/pkg/ledger"
	"certichain/certificate-portal/certificate-portal-backend/pkg/pdf"
	"certichain/certificate-portal/certificate-portal-backend/pkg/storage"
	"certichain/certificate-portal/certificate-portal-backend/pkg/verification"
)

// CertificatesAPI holds the certificate API dependencies
type CertificatesAPI struct {
	Handler   *certificates.Handler
	Issuer    *certificates.Issuer
	Revoker   *certificates.Revoker
	Reports   *certificates.ReportService
	Records   certificates.Repository
	Templates templates.Repository
}

// SetupCertificatesAPI sets up the certificate API with all dependencies
func SetupCertificatesAPI(ctx context.Context, db *gorm.DB, cfg *config.Config, logger *zap.Logger) (*CertificatesAPI, error) {
	records, err := certificates.NewRepository(db, cfg.Database.Driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate repository: %w", err)
	}

	ledgerClient, err := NewLedger(cfg.Ledger, logger)
	if err != nil {
		return nil, err
	}
	artifacts, err := NewArtifactStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	publisher, err := NewPublisher(ctx, cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	renderer, err := pdf.NewGofpdfGenerator(cfg.Render)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize renderer: %w", err)
	}

	deps := certificates.Dependencies{
		Templates:    templates.NewRepository(db),
		Records:      records,
		Ledger:       ledgerClient,
		Renderer:     renderer,
		Artifacts:    artifacts,
		Verification: verification.NewPayload(cfg.Verification.PublicBaseURL, cfg.Verification.QRSize),
		Events:       publisher,
		Logger:       logger,
	}
	opts := certificates.Options{
		ConfirmationTimeout: cfg.Ledger.ConfirmationTimeout.Std(),
		RevokeOnLedger:      cfg.Ledger.RevokeOnLedger,
	}

	issuer := certificates.NewIssuer(deps, opts)
	revoker := certificates.NewRevoker(deps, opts)
	reports := certificates.NewReportService(records, logger)

	return &CertificatesAPI{
		Handler:   certificates.NewHandler(issuer, revoker, reports, logger),
		Issuer:    issuer,
		Revoker:   revoker,
		Reports:   reports,
		Records:   records,
		Templates: deps.Templates,
	}, nil
}

// RegisterCertificatesRoutes registers the certificate and auth routes on the router group
func RegisterCertificatesRoutes(router *gin.RouterGroup, api *CertificatesAPI, validator *auth.TokenValidator, logger *zap.Logger) {
	requireAuth := auth.RequireAuth(validator, logger)
	auth.RegisterRoutes(router, auth.NewHandler(), requireAuth)
	api.Handler.RegisterRoutes(router, requireAuth)
}

// NewLedger builds the configured ledger client.
func NewLedger(cfg config.LedgerConfig, logger *zap.Logger) (ledger.Client, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("Using in-memory ledger; certificates are not anchored")
		return ledger.NewMemoryClient(), nil
	case "stellar":
		c, err := ledger.NewStellarClient(cfg.Stellar(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create stellar client: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cfg.Driver)
	}
}

// NewArtifactStore builds the configured document store.
func NewArtifactStore(ctx context.Context, cfg config.StorageConfig) (storage.ArtifactStore, error) {
	switch cfg.Driver {
	case "local":
		return storage.NewLocalStore(cfg.BaseDir)
	case "s3":
		return storage.NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// NewPublisher builds the configured event publisher.
func NewPublisher(ctx context.Context, cfg config.EventsConfig, logger *zap.Logger) (events.Publisher, error) {
	switch cfg.Driver {
	case "", "log":
		return events.NewLogPublisher(logger), nil
	case "sns":
		return events.NewSNSPublisher(ctx, cfg.TopicARN, cfg.Region)
	default:
		return nil, fmt.Errorf("unsupported events driver %q", cfg.Driver)
	}
}
