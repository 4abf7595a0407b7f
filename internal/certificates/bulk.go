package certificates

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"certichain/certificate-portal/certificate-portal-backend/pkg/apperrors"
	"certichain/certificate-portal/certificate-portal-backend/pkg/events"
	"certichain/certificate-portal/certificate-portal-backend/pkg/placeholders"
	"certichain/certificate-portal/certificate-portal-backend/pkg/workflows"
)

const reasonBatchCancelled = "batch cancelled"

// IssueBulk issues one certificate per row, strictly in order.
//
// Every row is bound before anything is written: a missing field in any row
// means the template and the sheet disagree, so the whole batch is rejected
// with a validation error naming the row. After that, a failure at the
// ledger, database or render step is recorded against its row and the batch
// moves on. Nothing is retried.
func (s *Issuer) IssueBulk(ctx context.Context, req BulkRequest) (*BulkResult, error) {
	st := &issuance{templateID: req.TemplateID}
	if err := s.fetchTemplate(ctx, st); err != nil {
		return nil, stepError(err, workflows.StepFetchTemplate)
	}
	tmpl := st.template

	bindings := make([]*placeholders.Binding, len(req.Rows))
	for i, row := range req.Rows {
		b, err := placeholders.Bind(tmpl.Content, tmpl.Variables, row)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeValidation, fmt.Sprintf("row %d: %v", i+1, err)).
				WithStep(string(workflows.StepBindVariables)).
				WithDetail("row", strconv.Itoa(i+1))
		}
		bindings[i] = b
	}

	result := &BulkResult{TemplateID: tmpl.ID, Results: make([]RowOutcome, 0, len(req.Rows))}
	for i, row := range req.Rows {
		outcome := RowOutcome{Row: i + 1, RowData: row}

		if ctx.Err() != nil {
			outcome.Reason = reasonBatchCancelled
			result.add(outcome)
			continue
		}

		rowState := &issuance{
			templateID: tmpl.ID,
			creatorID:  req.CreatorID,
			fields:     row,
			template:   tmpl,
			binding:    bindings[i],
		}
		err := s.run(ctx, s.issue, workflows.StepBindVariables, rowState)
		outcome.LedgerID = rowState.ledgerID
		outcome.TransactionHash = rowState.txHash
		outcome.ArtifactPath = rowState.artifactPath
		if rowState.certificate != nil {
			id := rowState.certificate.ID
			outcome.CertificateID = &id
		}

		if err != nil {
			outcome.Step = apperrors.StepOf(err)
			outcome.Reason = err.Error()
			s.logger.Warn("Bulk row failed",
				zap.Int("row", outcome.Row),
				zap.String("step", outcome.Step),
				zap.String("ledger_id", outcome.LedgerID),
				zap.Error(err))
		} else {
			outcome.Success = true
			publish(context.WithoutCancel(ctx), s.deps.Events, s.logger, events.TypeCertificateIssued, rowState.certificate)
		}
		result.add(outcome)
	}

	s.logger.Info("Bulk issuance finished",
		zap.String("template_id", tmpl.ID.String()),
		zap.Int("rows", len(req.Rows)),
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed))
	return result, nil
}

func (r *BulkResult) add(o RowOutcome) {
	r.Results = append(r.Results, o)
	if o.Success {
		r.Succeeded++
	} else {
		r.Failed++
	}
}
