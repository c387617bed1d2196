package actorauth

import (
	"io"

	"github.com/MrEthical07/actorauth/internal/audit"
)

type (
	// AuditEntry is one append-only audit record.
	AuditEntry = audit.Entry
	// AuditSink receives audit entries from the engine's dispatcher.
	AuditSink = audit.Sink
	// AuditActionType names the audited operation.
	AuditActionType = audit.ActionType
	// AuditOutcome is success or failure.
	AuditOutcome = audit.Outcome
	NoOpSink     = audit.NoOpSink
	ChannelSink  = audit.ChannelSink
	// JSONWriterSink writes one JSON object per line.
	JSONWriterSink = audit.JSONWriterSink
	MultiSink      = audit.MultiSink
)

const (
	AuditActionRegister      = audit.ActionRegister
	AuditActionLogin         = audit.ActionLogin
	AuditActionRefresh       = audit.ActionRefresh
	AuditActionRefreshFailed = audit.ActionRefreshFailed
	AuditActionRevoke        = audit.ActionRevoke

	AuditOutcomeSuccess = audit.OutcomeSuccess
	AuditOutcomeFailure = audit.OutcomeFailure
)

// NewChannelSink returns a sink that forwards entries to a buffered channel.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink that writes JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
