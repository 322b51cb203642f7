// Package router turns merged workflow events into transcript messages.
//
// Classification is a single rule applied uniformly: an event whose agent was
// started by the user (no sending agent) belongs to the direct channel, an
// event whose agent was started by another agent belongs to the internal
// channel. Tokens append only to the streaming message currently open in
// their node's channel; handoff and fan-out annotations are always internal
// and attributed to the sending agent.
//
// The router is pure classification and message construction. It never holds
// transcript state itself; it writes through a MessageSink, implemented by
// the session, which owns the messages and enforces their invariants.
package router
