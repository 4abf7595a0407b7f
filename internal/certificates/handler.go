package certificates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"certichain/certificate-portal/certificate-portal-backend/internal/auth"
	"certichain/certificate-portal/certificate-portal-backend/pkg/apperrors"
	"certichain/certificate-portal/certificate-portal-backend/pkg/placeholders"
	"certichain/certificate-portal/certificate-portal-backend/pkg/sheets"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Handler handles HTTP requests for certificate operations
type Handler struct {
	issuer  *Issuer
	revoker *Revoker
	reports *ReportService
	logger  *zap.Logger
}

// NewHandler creates a new certificates handler
func NewHandler(issuer *Issuer, revoker *Revoker, reports *ReportService, logger *zap.Logger) *Handler {
	return &Handler{
		issuer:  issuer,
		revoker: revoker,
		reports: reports,
		logger:  logger,
	}
}

// RegisterRoutes registers certificate routes. Review and report
// submission are public; everything else requires a caller.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, requireAuth gin.HandlerFunc) {
	certs := router.Group("/certificates")
	{
		certs.GET("/review/:ledgerId", h.review)
		certs.POST("/report/:ledgerId", h.submitReport)
	}

	protected := router.Group("/certificates", requireAuth)
	{
		protected.POST("/generate/:templateId", h.generate)
		protected.POST("/bulk/:templateId", h.bulk)
		protected.GET("", h.list)
		protected.GET("/reports", h.listReports)
		protected.DELETE("/:id", h.revoke)
		protected.POST("/:id/render", h.rerender)
		protected.GET("/:id/artifact", h.artifact)
	}
}

// generate handles POST /api/v1/certificates/generate/:templateId
func (h *Handler) generate(c *gin.Context) {
	templateID, ok := h.uuidParam(c, "templateId")
	if !ok {
		return
	}
	creatorID, ok := h.caller(c)
	if !ok {
		return
	}

	var fields placeholders.Fields
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be a JSON object of field values", "code": apperrors.CodeValidation})
		return
	}

	result, err := h.issuer.Issue(c.Request.Context(), IssueRequest{
		TemplateID: templateID,
		CreatorID:  creatorID,
		Fields:     fields,
	})
	if err != nil {
		h.fail(c, "Failed to issue certificate", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// bulk handles POST /api/v1/certificates/bulk/:templateId
func (h *Handler) bulk(c *gin.Context) {
	templateID, ok := h.uuidParam(c, "templateId")
	if !ok {
		return
	}
	creatorID, ok := h.caller(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required", "code": apperrors.CodeValidation})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read upload", "code": apperrors.CodeValidation})
		return
	}
	defer f.Close()

	table, err := sheets.ReadFirstSheet(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeValidation})
		return
	}

	rows := make([]placeholders.Fields, len(table.Rows))
	for i, r := range table.Rows {
		rows[i] = placeholders.Fields(r)
	}

	result, err := h.issuer.IssueBulk(c.Request.Context(), BulkRequest{
		TemplateID: templateID,
		CreatorID:  creatorID,
		Rows:       rows,
	})
	if err != nil {
		h.fail(c, "Bulk issuance rejected", err)
		return
	}

	if c.Query("format") == "xlsx" {
		h.writeOutcomeWorkbook(c, table.Columns, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) writeOutcomeWorkbook(c *gin.Context, columns []string, result *BulkResult) {
	header := append([]string{"row", "success", "certificateId", "ledgerId", "transactionHash", "artifactPath", "step", "reason"}, columns...)
	rows := make([][]any, 0, len(result.Results))
	for _, o := range result.Results {
		certID := ""
		if o.CertificateID != nil {
			certID = o.CertificateID.String()
		}
		row := []any{o.Row, o.Success, certID, o.LedgerID, o.TransactionHash, o.ArtifactPath, o.Step, o.Reason}
		for _, col := range columns {
			row = append(row, o.RowData[col])
		}
		rows = append(rows, row)
	}

	var buf bytes.Buffer
	if err := sheets.WriteTable(&buf, "Outcomes", header, rows); err != nil {
		h.fail(c, "Failed to write outcome workbook", err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="bulk-%s.xlsx"`, result.TemplateID))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// review handles GET /api/v1/certificates/review/:ledgerId
func (h *Handler) review(c *gin.Context) {
	v, err := h.issuer.Review(c.Request.Context(), c.Param("ledgerId"))
	if err != nil {
		h.fail(c, "Failed to review certificate", err)
		return
	}
	c.JSON(http.StatusOK, v)
}

type reportRequest struct {
	Comment string `json:"comment"`
}

// submitReport handles POST /api/v1/certificates/report/:ledgerId
func (h *Handler) submitReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperrors.CodeValidation})
		return
	}
	report, err := h.reports.Submit(c.Request.Context(), c.Param("ledgerId"), req.Comment)
	if err != nil {
		h.fail(c, "Failed to submit report", err)
		return
	}
	c.JSON(http.StatusCreated, report)
}

// revoke handles DELETE /api/v1/certificates/:id
func (h *Handler) revoke(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	if err := h.revoker.Revoke(c.Request.Context(), id); err != nil {
		h.fail(c, "Failed to revoke certificate", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "certificate revoked", "id": id})
}

// rerender handles POST /api/v1/certificates/:id/render
func (h *Handler) rerender(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	result, err := h.issuer.Rerender(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to re-render certificate", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// artifact handles GET /api/v1/certificates/:id/artifact
func (h *Handler) artifact(c *gin.Context) {
	id, ok := h.uuidParam(c, "id")
	if !ok {
		return
	}
	rc, cert, err := h.issuer.OpenArtifact(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "Failed to open certificate document", err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, "application/pdf", rc, map[string]string{
		"Content-Disposition": fmt.Sprintf(`inline; filename="%s.pdf"`, cert.LedgerID),
	})
}

// list handles GET /api/v1/certificates?mine=true&pending=true
func (h *Handler) list(c *gin.Context) {
	filter := ListFilter{
		PendingOnly: c.Query("pending") == "true",
		Limit:       h.getIntParam(c, "limit", 0),
	}
	if c.Query("mine") == "true" {
		userID, ok := h.caller(c)
		if !ok {
			return
		}
		filter.CreatorID = &userID
	}

	views, err := h.issuer.ListCertificates(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, "Failed to list certificates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"certificates": views, "count": len(views)})
}

// listReports handles GET /api/v1/certificates/reports
func (h *Handler) listReports(c *gin.Context) {
	views, err := h.reports.List(c.Request.Context())
	if err != nil {
		h.fail(c, "Failed to list reports", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": views, "count": len(views)})
}

// fail logs server-side failures and writes the mapped error response.
func (h *Handler) fail(c *gin.Context, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(msg, zap.String("step", apperrors.StepOf(err)), zap.Error(err))
	}
	c.JSON(status, errorBody(err))
}

func (h *Handler) uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": apperrors.CodeValidation})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) caller(c *gin.Context) (uuid.UUID, bool) {
	id, ok := auth.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "code": apperrors.CodeUnauthorized})
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) getIntParam(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}
