package crmgate

import (
	"io"

	"go.uber.org/zap"

	internalaudit "github.com/prospectcrm/crmgate/internal/audit"
)

// AuditEvent is one session lifecycle record.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// NoOpSink drops audit events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink writes audit events into a buffered channel.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON document per event.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs audit events through a zap logger.
type ZapSink = internalaudit.ZapSink

const (
	AuditEventRestore        = internalaudit.EventRestore
	AuditEventLogin          = internalaudit.EventLogin
	AuditEventRegister       = internalaudit.EventRegister
	AuditEventLogout         = internalaudit.EventLogout
	AuditEventUnauthorized   = internalaudit.EventUnauthorized
	AuditEventIdentityUpdate = internalaudit.EventIdentityUpdate
)

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}
