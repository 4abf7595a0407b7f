package certificates

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"certichain/certificate-portal/certificate-portal-backend/internal/templates"
	"certichain/certificate-portal/certificate-portal-backend/pkg/events"
	"certichain/certificate-portal/certificate-portal-backend/pkg/ledger"
	"certichain/certificate-portal/certificate-portal-backend/pkg/pdf"
	"certichain/certificate-portal/certificate-portal-backend/pkg/placeholders"
	"certichain/certificate-portal/certificate-portal-backend/pkg/storage"
	"certichain/certificate-portal/certificate-portal-backend/pkg/verification"
)

const educationContent = `<h1>Certificate of Education</h1>` +
	`<p>This certifies that {{ studentName }} completed {{courseName}}</p>` +
	`<p>at {{institutionName}} on {{ date }}</p><p>{{principal}}</p>`

type harness struct {
	db        *gorm.DB
	templates templates.Repository
	records   Repository
	ledger    *ledger.MemoryClient
	fs        afero.Fs
	deps      Dependencies
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&templates.Template{}))
	require.NoError(t, AutoMigrate(db))

	records, err := NewRepository(db, "sqlite")
	require.NoError(t, err)

	h := &harness{
		db:        db,
		templates: templates.NewRepository(db),
		records:   records,
		ledger:    ledger.NewMemoryClient(),
		fs:        afero.NewMemMapFs(),
	}
	logger := zap.NewNop()
	renderer, err := pdf.NewGofpdfGenerator(pdf.Options{MaxSessions: 2})
	require.NoError(t, err)
	h.deps = Dependencies{
		Templates:    h.templates,
		Records:      h.records,
		Ledger:       h.ledger,
		Renderer:     renderer,
		Artifacts:    storage.NewFilesystemStore(h.fs),
		Verification: verification.NewPayload("https://certs.example.org", 128),
		Events:       events.NewLogPublisher(logger),
		Logger:       logger,
	}
	return h
}

func (h *harness) issuer() *Issuer {
	return NewIssuer(h.deps, Options{})
}

func (h *harness) createTemplate(t *testing.T, name, content string) *templates.Template {
	t.Helper()
	tmpl := &templates.Template{Name: name, Type: templates.TemplateTypeEducation, Content: content}
	require.NoError(t, h.templates.Create(context.Background(), tmpl))
	return tmpl
}

func (h *harness) educationTemplate(t *testing.T) *templates.Template {
	return h.createTemplate(t, "Education", educationContent)
}

func (h *harness) countRows(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Count(&n).Error)
	return n
}

func (h *harness) artifactExists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := afero.Exists(h.fs, key)
	require.NoError(t, err)
	return ok
}

func educationFields(student string) placeholders.Fields {
	return placeholders.Fields{
		"studentName":     student,
		"courseName":      "Analytical Engines",
		"institutionName": "Royal Institution",
		"date":            "1843-09-01",
		"principal":       "Charles Babbage",
	}
}

// MockLedger is a mock implementation of ledger.Client
type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) CreateCertificate(ctx context.Context, templateID string, keys, values []string) (ledger.PendingTx, error) {
	args := m.Called(ctx, templateID, keys, values)
	p, _ := args.Get(0).(ledger.PendingTx)
	return p, args.Error(1)
}

func (m *MockLedger) GetCertificateInfo(ctx context.Context, certificateID string) (*ledger.CertificateInfo, error) {
	args := m.Called(ctx, certificateID)
	info, _ := args.Get(0).(*ledger.CertificateInfo)
	return info, args.Error(1)
}

func (m *MockLedger) RevokeCertificate(ctx context.Context, certificateID string) error {
	args := m.Called(ctx, certificateID)
	return args.Error(0)
}

// MockRenderer is a mock implementation of pdf.Generator
type MockRenderer struct {
	mock.Mock
}

func (m *MockRenderer) Generate(ctx context.Context, doc pdf.Document) ([]byte, error) {
	args := m.Called(ctx, doc)
	out, _ := args.Get(0).([]byte)
	return out, args.Error(1)
}

// failingRecords overrides selected repository writes with fixed errors.
// When createOnCall is set, only that CreateCertificate call (1-based) fails.
type failingRecords struct {
	Repository
	createErr    error
	createOnCall int
	finalizeErr  error
	linkErr      error
	deleteErr    error

	creates int
}

func (f *failingRecords) CreateCertificate(ctx context.Context, cert *Certificate) error {
	f.creates++
	if f.createErr != nil && (f.createOnCall == 0 || f.createOnCall == f.creates) {
		return f.createErr
	}
	return f.Repository.CreateCertificate(ctx, cert)
}

func (f *failingRecords) SetArtifactPath(ctx context.Context, id uuid.UUID, path string) error {
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	return f.Repository.SetArtifactPath(ctx, id, path)
}

func (f *failingRecords) AppendUserCertificate(ctx context.Context, userID, certificateID uuid.UUID) error {
	if f.linkErr != nil {
		return f.linkErr
	}
	return f.Repository.AppendUserCertificate(ctx, userID, certificateID)
}

func (f *failingRecords) DeleteCertificateCascade(ctx context.Context, id uuid.UUID) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	return f.Repository.DeleteCertificateCascade(ctx, id)
}

// failingArtifacts is an artifact store whose deletes fail.
type failingArtifacts struct {
	storage.ArtifactStore
	deleteErr error
}

func (f *failingArtifacts) Delete(context.Context, string) error {
	return f.deleteErr
}
