// Package audit implements async event dispatching for session lifecycle
// operations (restore, login, register, logout, unauthorized, identity updates).
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, zap, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [Event]: structured record with ID, timestamp, type, session, user and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does NOT decide which
// events to emit; the flow functions do.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import crmgate or any sibling internal package.
//   - Record credentials or passwords in events.
package audit
