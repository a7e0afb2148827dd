package indexer

import (
	"context"

	"go.uber.org/zap"
)

// Fire-and-forget operations. Their failures are logged and counted as fallbacks
// but never fail the surrounding ingest, reindex or delete.
const (
	OpLexicalWrite          = "lexical_write"
	OpVectorWrite           = "vector_write"
	OpLexicalClear          = "lexical_clear"
	OpVectorClear           = "vector_clear"
	OpLexicalDeleteDocument = "lexical_delete_document"
	OpVectorDeleteDocument  = "vector_delete_document"
	OpBlobDelete            = "blob_delete"
	OpMarkDocumentFailed    = "mark_document_failed"
)

// Outcome is the result of a fire-and-forget operation.
type Outcome struct {
	Op      string
	Err     error
	Skipped bool
}

// OK reports whether the operation ran and succeeded.
func (o Outcome) OK() bool { return o.Err == nil && !o.Skipped }

// attempt runs fn as the named fire-and-forget operation. fields describe the target.
func (p *Pipeline) attempt(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) Outcome {
	if err := fn(ctx); err != nil {
		p.logger.Warn("best-effort operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
		p.metrics.RecordFallback(op)
		return Outcome{Op: op, Err: err}
	}
	return Outcome{Op: op}
}

// attemptLexical is attempt for operations that need the lexical index, skipped when
// lexical search is disabled.
func (p *Pipeline) attemptLexical(ctx context.Context, op string, fn func(context.Context) error, fields ...zap.Field) Outcome {
	if p.lexical == nil {
		return Outcome{Op: op, Skipped: true}
	}
	return p.attempt(ctx, op, fn, fields...)
}
