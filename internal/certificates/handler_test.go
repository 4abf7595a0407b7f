package certificates

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"certichain/certificate-portal/certificate-portal-backend/internal/auth"
	"certichain/certificate-portal/certificate-portal-backend/pkg/apperrors"
	"certichain/certificate-portal/certificate-portal-backend/pkg/sheets"
)

type handlerEnv struct {
	*harness
	router *gin.Engine
	userID uuid.UUID
	token  string
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := newHarness(t)

	validator := auth.NewTokenValidator("test-secret", "certificate-portal")
	userID := uuid.New()
	token, err := validator.Sign(userID, time.Hour)
	require.NoError(t, err)

	handler := NewHandler(
		h.issuer(),
		NewRevoker(h.deps, Options{}),
		NewReportService(h.records, h.deps.Logger),
		zap.NewNop(),
	)
	r := gin.New()
	handler.RegisterRoutes(r.Group("/api/v1"), auth.RequireAuth(validator, zap.NewNop()))

	return &handlerEnv{harness: h, router: r, userID: userID, token: token}
}

func (e *handlerEnv) do(method, path string, body []byte, contentType string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *handlerEnv) generate(t *testing.T, templateID uuid.UUID, fields map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(fields)
	require.NoError(t, err)
	return e.do(http.MethodPost, "/api/v1/certificates/generate/"+templateID.String(), body, "application/json", true)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestGenerateEndpoint(t *testing.T) {
	env := newHandlerEnv(t)
	tmpl := env.educationTemplate(t)

	w := env.generate(t, tmpl.ID, educationFields("Ada Lovelace"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var result IssueResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.NotEmpty(t, result.LedgerID)

	cert, err := env.records.GetCertificateByID(t.Context(), result.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, env.userID, cert.CreatorID)
}

func TestGenerateEndpointErrors(t *testing.T) {
	env := newHandlerEnv(t)
	tmpl := env.educationTemplate(t)

	fields := educationFields("Ada Lovelace")
	delete(fields, "date")
	w := env.generate(t, tmpl.ID, fields)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.Equal(t, "validation_failed", body["code"])
	assert.Equal(t, "BindVariables", body["step"])
	assert.Equal(t, "date", body["missing"])

	w = env.generate(t, uuid.New(), fields)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodPost, "/api/v1/certificates/generate/not-a-uuid", []byte(`{}`), "application/json", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/certificates/generate/"+tmpl.ID.String(), []byte(`[1,2]`), "application/json", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/v1/certificates/generate/"+tmpl.ID.String(), []byte(`{}`), "application/json", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReviewAndReportArePublic(t *testing.T) {
	env := newHandlerEnv(t)
	issued := issueOne(t, env.harness, env.userID)

	w := env.do(http.MethodGet, "/api/v1/certificates/review/"+issued.LedgerID, nil, "", false)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, StatusIssued, body["status"])
	assert.Equal(t, "Ada Lovelace", body["fields"].(map[string]any)["studentName"])

	w = env.do(http.MethodPost, "/api/v1/certificates/report/"+issued.LedgerID, []byte(`{"comment":"typo in name"}`), "application/json", false)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = env.do(http.MethodPost, "/api/v1/certificates/report/"+issued.LedgerID, []byte(`{"comment":""}`), "application/json", false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/api/v1/certificates/review/missing", nil, "", false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/v1/certificates/reports", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])
}

func TestRevokeEndpoint(t *testing.T) {
	env := newHandlerEnv(t)
	issued := issueOne(t, env.harness, env.userID)
	path := "/api/v1/certificates/" + issued.CertificateID.String()

	w := env.do(http.MethodDelete, path, nil, "", true)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodDelete, path, nil, "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["code"])
}

func TestArtifactAndRenderEndpoints(t *testing.T) {
	env := newHandlerEnv(t)
	issued := issueOne(t, env.harness, env.userID)
	base := "/api/v1/certificates/" + issued.CertificateID.String()

	w := env.do(http.MethodGet, base+"/artifact", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))

	w = env.do(http.MethodPost, base+"/render", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, issued.LedgerID, decode(t, w)["ledgerId"])
}

func TestListEndpoint(t *testing.T) {
	env := newHandlerEnv(t)
	issueOne(t, env.harness, env.userID)
	tmpl, err := env.templates.GetByName(t.Context(), "Education")
	require.NoError(t, err)
	_, err = env.issuer().Issue(t.Context(), IssueRequest{TemplateID: tmpl.ID, CreatorID: uuid.New(), Fields: educationFields("Grace")})
	require.NoError(t, err)

	w := env.do(http.MethodGet, "/api/v1/certificates", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["count"])

	w = env.do(http.MethodGet, "/api/v1/certificates?mine=true", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	w = env.do(http.MethodGet, "/api/v1/certificates?pending=true", nil, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["count"])
}

func uploadSheet(t *testing.T, header []string, rows [][]any) ([]byte, string) {
	t.Helper()
	var sheet bytes.Buffer
	require.NoError(t, sheets.WriteTable(&sheet, "Students", header, rows))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "students.xlsx")
	require.NoError(t, err)
	_, err = part.Write(sheet.Bytes())
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body.Bytes(), mw.FormDataContentType()
}

func TestBulkEndpoint(t *testing.T) {
	env := newHandlerEnv(t)
	tmpl := env.educationTemplate(t)
	header := []string{"studentName", "courseName", "institutionName", "date", "principal"}
	rows := [][]any{
		{"Ada", "Engines", "Royal Institution", "1843-09-01", "Babbage"},
		{"Grace", "Compilers", "Yale", "1934-06-01", "Hopper"},
	}
	path := "/api/v1/certificates/bulk/" + tmpl.ID.String()

	body, ct := uploadSheet(t, header, rows)
	w := env.do(http.MethodPost, path, body, ct, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var result BulkResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Succeeded)
	require.Len(t, result.Results, 2)
	assert.Equal(t, "Grace", result.Results[1].RowData["studentName"])

	body, ct = uploadSheet(t, header, rows[:1])
	w = env.do(http.MethodPost, path+"?format=xlsx", body, ct, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	outcomes, err := sheets.ReadFirstSheet(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	require.Len(t, outcomes.Rows, 1)
	assert.Equal(t, "Ada", outcomes.Rows[0]["studentName"])
	assert.Contains(t, outcomes.Columns, "ledgerId")

	body, ct = uploadSheet(t, header[:4], [][]any{{"Ada", "Engines", "RI", "1843"}})
	w = env.do(http.MethodPost, path, body, ct, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "1", decode(t, w)["row"])

	w = env.do(http.MethodPost, path, []byte("x"), "text/plain", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusMapping(t *testing.T) {
	env := newHandlerEnv(t)
	tmpl := env.educationTemplate(t)
	env.deps.Records = &failingRecords{Repository: env.records, createErr: assert.AnError}

	handler := NewHandler(NewIssuer(env.deps, Options{}), nil, nil, zap.NewNop())
	r := gin.New()
	validator := auth.NewTokenValidator("test-secret", "certificate-portal")
	handler.RegisterRoutes(r.Group("/api/v1"), auth.RequireAuth(validator, zap.NewNop()))
	env.router = r

	w := env.generate(t, tmpl.ID, educationFields("Ada"))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["reconciliation_required"])
	assert.NotEmpty(t, body["ledger_id"])
	assert.Equal(t, "DbCreate", body["step"])
}

func TestErrorBodyAbandonedConfirmation(t *testing.T) {
	err := apperrors.Ledger(context.DeadlineExceeded, "ledger confirmation failed").
		WithDetail("transaction_hash", "abc").
		WithDetail("submitted", "true").
		WithStep("LedgerWrite")

	assert.Equal(t, http.StatusGatewayTimeout, statusFor(err))
	body := errorBody(err)
	assert.Equal(t, true, body["reconciliation_required"])
	assert.Equal(t, "abc", body["transaction_hash"])

	rejected := apperrors.Ledger(assert.AnError, "ledger write failed").WithStep("LedgerWrite")
	assert.Equal(t, http.StatusBadGateway, statusFor(rejected))
	assert.NotContains(t, errorBody(rejected), "reconciliation_required")
}
