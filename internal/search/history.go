package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/raglite/internal/models"
)

// recordHistory stores one query log entry. Failures are logged and never
// surface to the caller. It reports whether the entry was written.
func (e *Engine) recordHistory(ctx context.Context, tenantID string, req *models.QueryRequest, resp *models.QueryResponse) bool {
	entry := &models.QueryLog{
		TenantID:    tenantID,
		DatasetIDs:  req.DatasetIDs,
		Query:       req.Query,
		Rewritten:   resp.Rewritten,
		ResultCount: len(resp.Results),
		LatencyMS:   resp.QueryTimeMS,
	}
	if err := e.store.LogQuery(ctx, entry); err != nil {
		e.logger.Warn("query history write failed", zap.String("tenant_id", tenantID), zap.Error(err))
		e.metrics.RecordFallback(fallbackQueryHistory)
		return false
	}
	return true
}
