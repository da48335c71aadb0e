package dispatch

import (
	"context"
	"time"

	"github.com/CoreumFoundation/coreum-tools/pkg/logger"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AuditEvent is a fire-and-forget record of a submission lifecycle
// transition. It exists purely for operator visibility; the dispatch core
// never reads it back, per Non-goal (b) (all correctness-relevant state is
// in-memory).
type AuditEvent struct {
	SubmissionID string
	TraceID      string
	AccountIndex int
	Stage        string // "enqueued", "broadcast", "resolved"
	TxHash       string
	Err          string
	At           time.Time
}

// AuditSink records AuditEvents best-effort. NewFacade accepts a nil
// AuditSink and substitutes one that silently drops every event.
type AuditSink interface {
	record(ctx context.Context, ev AuditEvent)
	close()
}

// noopAuditSink is used when no audit persistence is configured.
type noopAuditSink struct{}

func (noopAuditSink) record(context.Context, AuditEvent) {}
func (noopAuditSink) close()                             {}

// postgresAuditSink appends AuditEvents to a single table over a plain
// pgx connection, the same direct-conn-no-pool style
// infra/apps/postgres/postgres.go uses for its own schema/health queries.
// A failed insert is logged and dropped; it never propagates to the
// submission path, since the audit log is explicitly non-authoritative.
type postgresAuditSink struct {
	conn *pgx.Conn
}

// NewPostgresAuditSink connects to dsn and returns a sink that appends to
// the dispatch_audit_events table. Callers are expected to have already
// created the table (schema migration is an operator concern, out of
// scope for this core).
func NewPostgresAuditSink(ctx context.Context, dsn string) (AuditSink, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect audit sink")
	}
	return &postgresAuditSink{conn: conn}, nil
}

func (s *postgresAuditSink) record(ctx context.Context, ev AuditEvent) {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO dispatch_audit_events
			(submission_id, trace_id, account_index, stage, tx_hash, err, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.SubmissionID, ev.TraceID, ev.AccountIndex, ev.Stage, ev.TxHash, ev.Err, ev.At)
	if err != nil {
		logger.Get(ctx).Warn("failed to persist audit event", zap.Error(err))
	}
}

func (s *postgresAuditSink) close() {
	_ = s.conn.Close(context.Background())
}
