package certificates

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"certichain/certificate-portal/certificate-portal-backend/internal/templates"
	"certichain/certificate-portal/certificate-portal-backend/pkg/apperrors"
	"certichain/certificate-portal/certificate-portal-backend/pkg/events"
	"certichain/certificate-portal/certificate-portal-backend/pkg/ledger"
	"certichain/certificate-portal/certificate-portal-backend/pkg/pdf"
	"certichain/certificate-portal/certificate-portal-backend/pkg/placeholders"
	"certichain/certificate-portal/certificate-portal-backend/pkg/storage"
	"certichain/certificate-portal/certificate-portal-backend/pkg/verification"
	"certichain/certificate-portal/certificate-portal-backend/pkg/workflows"
)

// Dependencies are the collaborators shared by the certificate services.
type Dependencies struct {
	Templates    templates.Repository
	Records      Repository
	Ledger       ledger.Client
	Renderer     pdf.Generator
	Artifacts    storage.ArtifactStore
	Verification *verification.Payload
	Events       events.Publisher
	Logger       *zap.Logger
}

// Options tune ledger interaction.
type Options struct {
	// ConfirmationTimeout bounds submission plus confirmation. Zero waits
	// until the ledger answers.
	ConfirmationTimeout time.Duration
	// RevokeOnLedger enables the best-effort ledger revocation marker.
	RevokeOnLedger bool
}

// Issuer runs the issuance pipeline for single requests, batches and
// re-renders.
type Issuer struct {
	deps     Dependencies
	options  Options
	logger   *zap.Logger
	issue    []workflows.Step
	rerender []workflows.Step
	steps    map[workflows.Step]stepFunc
}

// issuance carries one certificate through the pipeline. Each step fills in
// the fields later steps read.
type issuance struct {
	templateID    uuid.UUID
	creatorID     uuid.UUID
	certificateID uuid.UUID
	fields        placeholders.Fields

	template     *templates.Template
	binding      *placeholders.Binding
	ledgerID     string
	txHash       string
	certificate  *Certificate
	artifactPath string
}

type stepFunc func(ctx context.Context, st *issuance) error

func NewIssuer(deps Dependencies, options Options) *Issuer {
	s := &Issuer{
		deps:    deps,
		options: options,
		logger:  deps.Logger.With(zap.String("component", "issuer")),
	}
	s.steps = map[workflows.Step]stepFunc{
		workflows.StepFetchLedger:   s.fetchLedger,
		workflows.StepFetchTemplate: s.fetchTemplate,
		workflows.StepBindVariables: s.bindVariables,
		workflows.StepLedgerWrite:   s.ledgerWrite,
		workflows.StepDbCreate:      s.dbCreate,
		workflows.StepRender:        s.render,
		workflows.StepDbFinalize:    s.dbFinalize,
		workflows.StepLinkUser:      s.linkUser,
	}
	s.issue = s.mustPath(workflows.NewIssuanceStateMachine(), workflows.StepFetchTemplate)
	s.rerender = s.mustPath(workflows.NewRerenderStateMachine(), workflows.StepFetchLedger)
	return s
}

// mustPath resolves the linear step sequence of flow and checks that every
// step has a handler.
func (s *Issuer) mustPath(flow *workflows.StateMachine, start workflows.Step) []workflows.Step {
	path, err := flow.Path(start)
	if err != nil {
		panic(fmt.Sprintf("certificates: invalid workflow from %s: %v", start, err))
	}
	for _, step := range path {
		if _, ok := s.steps[step]; !ok && step != workflows.StepDone {
			panic("certificates: no handler for step " + string(step))
		}
	}
	return path
}

// Issue binds the request against its template, anchors it on the ledger,
// records it locally and renders the document. A returned *apperrors.Error
// names the failed step.
func (s *Issuer) Issue(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	st := &issuance{
		templateID: req.TemplateID,
		creatorID:  req.CreatorID,
		fields:     req.Fields,
	}
	if err := s.run(ctx, s.issue, workflows.StepFetchTemplate, st); err != nil {
		return nil, err
	}
	publish(context.WithoutCancel(ctx), s.deps.Events, s.logger, events.TypeCertificateIssued, st.certificate)
	return st.result(), nil
}

// Rerender renders an existing certificate again from ledger truth and
// stores it under the same key. It never submits to the ledger.
func (s *Issuer) Rerender(ctx context.Context, certificateID uuid.UUID) (*IssueResult, error) {
	st := &issuance{certificateID: certificateID}
	if err := s.run(ctx, s.rerender, workflows.StepFetchLedger, st); err != nil {
		return nil, err
	}
	s.logger.Info("Certificate re-rendered",
		zap.String("certificate_id", certificateID.String()),
		zap.String("ledger_id", st.ledgerID))
	return st.result(), nil
}

// RerenderPending re-renders pending certificates created before cutoff and
// returns how many succeeded.
func (s *Issuer) RerenderPending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	pending, err := s.deps.Records.ListCertificates(ctx, pendingBefore(cutoff, limit))
	if err != nil {
		return 0, apperrors.Persistence(err, "failed to list pending certificates")
	}
	done := 0
	for _, c := range pending {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Rerender(ctx, c.ID); err != nil {
			s.logger.Warn("Re-render failed",
				zap.String("certificate_id", c.ID.String()),
				zap.String("step", apperrors.StepOf(err)),
				zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// Review returns the ledger truth for a ledger id together with the status
// of the local record.
func (s *Issuer) Review(ctx context.Context, ledgerID string) (*Verification, error) {
	info, err := s.deps.Ledger.GetCertificateInfo(ctx, ledgerID)
	if errors.Is(err, ledger.ErrCertificateNotFound) {
		return nil, apperrors.NotFound("certificate not found on ledger")
	}
	if err != nil {
		return nil, apperrors.Ledger(err, fmt.Sprintf("ledger lookup failed: %v", err))
	}

	v := &Verification{
		LedgerID:   ledgerID,
		TemplateID: info.TemplateID,
		Keys:       info.Keys,
		Values:     info.Values,
		Fields:     make(map[string]string, len(info.Keys)),
		Status:     StatusNotOnRecord,
	}
	for i, k := range info.Keys {
		v.Fields[k] = info.Values[i]
	}

	cert, err := s.deps.Records.GetCertificateByLedgerID(ctx, ledgerID)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to load certificate record")
	}
	if cert != nil {
		v.Status = StatusIssued
		if cert.Pending() {
			v.Status = StatusPending
		}
	}
	return v, nil
}

// ListCertificates returns certificates matching filter, newest first.
func (s *Issuer) ListCertificates(ctx context.Context, filter ListFilter) ([]CertificateView, error) {
	views, err := s.deps.Records.ListCertificates(ctx, filter)
	if err != nil {
		return nil, apperrors.Persistence(err, "failed to list certificates")
	}
	return views, nil
}

// OpenArtifact opens the rendered document of a finalized certificate.
func (s *Issuer) OpenArtifact(ctx context.Context, certificateID uuid.UUID) (io.ReadCloser, *Certificate, error) {
	cert, err := s.deps.Records.GetCertificateByID(ctx, certificateID)
	if err != nil {
		return nil, nil, apperrors.Persistence(err, "failed to load certificate")
	}
	if cert == nil {
		return nil, nil, apperrors.NotFound("certificate not found")
	}
	if cert.Pending() {
		return nil, nil, apperrors.NotFound("certificate document is not rendered yet").
			WithDetail("certificate_id", cert.ID.String())
	}
	rc, err := s.deps.Artifacts.Open(ctx, *cert.ArtifactPath)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, apperrors.NotFound("certificate document is missing")
	}
	if err != nil {
		return nil, nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to open certificate document")
	}
	return rc, cert, nil
}

// run executes path from start until Done. The first failing step stops the
// walk. Once the ledger write is confirmed the remaining steps no longer
// follow the caller's cancellation: the record is anchored and must be
// written locally.
func (s *Issuer) run(ctx context.Context, path []workflows.Step, start workflows.Step, st *issuance) error {
	i := slices.Index(path, start)
	if i < 0 {
		return apperrors.New(apperrors.CodeInternal, "step "+string(start)+" is not part of the workflow")
	}
	for _, step := range path[i:] {
		if step == workflows.StepDone {
			break
		}
		if err := s.steps[step](ctx, st); err != nil {
			return stepError(err, step)
		}
		if step == workflows.StepLedgerWrite {
			ctx = context.WithoutCancel(ctx)
		}
	}
	return nil
}

func stepError(err error, step workflows.Step) *apperrors.Error {
	var e *apperrors.Error
	if errors.As(err, &e) {
		return e.WithStep(string(step))
	}
	return apperrors.Wrap(err, apperrors.CodeInternal, err.Error()).WithStep(string(step))
}

func (s *Issuer) fetchLedger(ctx context.Context, st *issuance) error {
	cert, err := s.deps.Records.GetCertificateByID(ctx, st.certificateID)
	if err != nil {
		return apperrors.Persistence(err, "failed to load certificate")
	}
	if cert == nil {
		return apperrors.NotFound("certificate not found")
	}

	info, err := s.deps.Ledger.GetCertificateInfo(ctx, cert.LedgerID)
	if err != nil {
		return apperrors.Ledger(err, fmt.Sprintf("ledger lookup failed: %v", err)).
			WithDetail("ledger_id", cert.LedgerID)
	}
	if info.TemplateID != cert.TemplateID.String() {
		return apperrors.Ledger(nil, "ledger record references a different template").
			WithDetail("ledger_id", cert.LedgerID)
	}

	st.certificate = cert
	st.templateID = cert.TemplateID
	st.creatorID = cert.CreatorID
	st.ledgerID = cert.LedgerID
	st.txHash = cert.TransactionHash
	st.fields = info.Fields()
	return nil
}

func (s *Issuer) fetchTemplate(ctx context.Context, st *issuance) error {
	tmpl, err := s.deps.Templates.GetByID(ctx, st.templateID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to load template")
	}
	if tmpl == nil {
		return apperrors.NotFound("template not found")
	}
	st.template = tmpl
	return nil
}

func (s *Issuer) bindVariables(_ context.Context, st *issuance) error {
	if st.binding != nil {
		return nil
	}
	b, err := placeholders.Bind(st.template.Content, st.template.Variables, st.fields)
	if err != nil {
		return err
	}
	st.binding = b
	return nil
}

func (s *Issuer) ledgerWrite(ctx context.Context, st *issuance) error {
	if s.options.ConfirmationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.options.ConfirmationTimeout)
		defer cancel()
	}

	pending, err := s.deps.Ledger.CreateCertificate(ctx, st.template.ID.String(), st.binding.Keys, st.binding.Values)
	if err != nil {
		return apperrors.Ledger(err, fmt.Sprintf("ledger write failed: %v", err))
	}
	conf, err := pending.Wait(ctx)
	if err != nil {
		appErr := apperrors.Ledger(err, fmt.Sprintf("ledger confirmation failed: %v", err)).
			WithDetail("transaction_hash", pending.Hash())
		if ctx.Err() != nil && !errors.Is(err, ledger.ErrTransactionFailed) {
			// The submission was abandoned, not rejected; it may still be applied.
			s.logger.Warn("Ledger confirmation abandoned",
				zap.String("tx_hash", pending.Hash()),
				zap.String("template_id", st.template.ID.String()),
				zap.Bool("reconciliation_required", true),
				zap.Error(err))
			appErr = appErr.WithDetail("submitted", "true")
		}
		return appErr
	}

	st.ledgerID = conf.CertificateID
	st.txHash = conf.TxHash
	return nil
}

func (s *Issuer) dbCreate(ctx context.Context, st *issuance) error {
	cert := &Certificate{
		TemplateID:      st.template.ID,
		CreatorID:       st.creatorID,
		LedgerID:        st.ledgerID,
		TransactionHash: st.txHash,
	}
	if err := s.deps.Records.CreateCertificate(ctx, cert); err != nil {
		s.logger.Error("Certificate record not saved after ledger write",
			zap.String("ledger_id", st.ledgerID),
			zap.String("tx_hash", st.txHash),
			zap.String("template_id", st.template.ID.String()),
			zap.Bool("reconciliation_required", true),
			zap.Error(err))
		return apperrors.Persistence(err, "certificate anchored on ledger but not recorded locally").
			WithDetail("ledger_id", st.ledgerID).
			WithDetail("transaction_hash", st.txHash)
	}
	st.certificate = cert
	return nil
}

func (s *Issuer) render(ctx context.Context, st *issuance) error {
	fail := func(err error, msg string) error {
		return apperrors.Render(err, fmt.Sprintf("%s: %v", msg, err)).
			WithDetail("certificate_id", st.certificate.ID.String()).
			WithDetail("ledger_id", st.ledgerID)
	}

	qr, err := s.deps.Verification.QRCode(st.ledgerID)
	if err != nil {
		return fail(err, "failed to build verification code")
	}
	doc, err := s.deps.Renderer.Generate(ctx, pdf.Document{Content: st.binding.Content, QRCode: qr})
	if err != nil {
		return fail(err, "failed to render certificate")
	}
	path, err := s.deps.Artifacts.Put(ctx, storage.CertificateKey(st.ledgerID), doc)
	if err != nil {
		return fail(err, "failed to store certificate document")
	}
	st.artifactPath = path
	return nil
}

func (s *Issuer) dbFinalize(ctx context.Context, st *issuance) error {
	if err := s.deps.Records.SetArtifactPath(ctx, st.certificate.ID, st.artifactPath); err != nil {
		return apperrors.Persistence(err, "failed to record certificate document").
			WithDetail("certificate_id", st.certificate.ID.String()).
			WithDetail("ledger_id", st.ledgerID)
	}
	path := st.artifactPath
	st.certificate.ArtifactPath = &path
	return nil
}

func (s *Issuer) linkUser(ctx context.Context, st *issuance) error {
	nonCritical(s.logger, "link certificate to creator", func() error {
		return s.deps.Records.AppendUserCertificate(ctx, st.creatorID, st.certificate.ID)
	}, zap.String("certificate_id", st.certificate.ID.String()))

	s.logger.Info("Certificate issued",
		zap.String("certificate_id", st.certificate.ID.String()),
		zap.String("ledger_id", st.ledgerID),
		zap.String("template_id", st.template.ID.String()))
	return nil
}

func publish(ctx context.Context, p events.Publisher, logger *zap.Logger, eventType string, cert *Certificate) {
	if p == nil {
		return
	}
	nonCritical(logger, "publish "+eventType, func() error {
		return p.Publish(ctx, events.CertificateEvent{
			Type:          eventType,
			CertificateID: cert.ID.String(),
			LedgerID:      cert.LedgerID,
			TemplateID:    cert.TemplateID.String(),
			CreatorID:     cert.CreatorID.String(),
			OccurredAt:    time.Now().UTC(),
		})
	}, zap.String("certificate_id", cert.ID.String()))
}

func (st *issuance) result() *IssueResult {
	return &IssueResult{
		CertificateID:   st.certificate.ID,
		LedgerID:        st.ledgerID,
		TransactionHash: st.txHash,
		ArtifactPath:    st.artifactPath,
	}
}
