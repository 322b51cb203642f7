// Package session holds the authoritative state for one visualization
// session: workflow identity, lifecycle status, turn count and the two-channel
// message transcript.
//
// The Session is the sole decision point for state transitions. Everything
// else observes: the router writes messages through the sink methods, the
// engine applies merged events in order, and consumers read via Snapshot.
// Internally a single mutex guards all state; snapshots are deep copies so
// readers never see a message mid-mutation.
//
// Status follows the workflow, not the process: a running orchestrator whose
// entry agent stopped without a terminal event leaves the session partial
// (awaiting the next user turn), while terminal events freeze it until an
// explicit Reset mints a fresh workflow identity.
package session
