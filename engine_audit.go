package actorauth

import (
	"context"

	"github.com/MrEthical07/actorauth/internal/audit"
	"github.com/MrEthical07/actorauth/internal/ids"
)

// auditRecord is everything an operation knows about itself when it ends.
type auditRecord struct {
	action     audit.ActionType
	sessionID  string
	identityID string
	role       string
	err        error
	extra      map[string]string
}

// emitAudit queues exactly one entry. It never fails the caller; sink
// problems are counted and logged by the dispatcher.
func (e *Engine) emitAudit(ctx context.Context, rec auditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	outcome := audit.OutcomeSuccess
	fields := make(map[string]string, len(rec.extra)+4)
	if rec.err != nil {
		outcome = audit.OutcomeFailure
		fields["error_code"] = KindOf(rec.err).String()
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		fields["ip"] = ip
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		fields["user_agent"] = ua
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		fields["request_id"] = rid
	}
	for k, v := range rec.extra {
		fields[k] = v
	}
	if len(fields) == 0 {
		fields = nil
	}

	created := e.now().UTC()
	// The entry must survive a caller that gave up after the operation ended.
	e.audit.Emit(context.WithoutCancel(ctx), audit.Entry{
		ID:         ids.NewAt(created),
		SessionID:  rec.sessionID,
		IdentityID: rec.identityID,
		Role:       rec.role,
		ActionType: rec.action,
		Outcome:    outcome,
		Context:    fields,
		CreatedAt:  created,
	})
}

func (e *Engine) warn(msg string, args ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Warn("actorauth: "+msg, args...)
}
