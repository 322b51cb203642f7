// Package runner launches the orchestrator subprocess for one workflow turn
// and adapts its stdout into the event stream.
//
// The Runner builds the invocation from a TurnRequest (prompt, workflow and
// trace identity, turn number, optional conversation context), starts the
// process in its own process group, parses stdout as line-delimited events,
// and tails stderr into a bounded ring for failure diagnostics.
//
// # Stream guarantees
//   - Events arrive in stdout order; the channels close after the process
//     exits and the tail of the stream is delivered.
//   - The last event of every run is a synthesized StreamEnd carrying the
//     exit code, so consumers observe turn quiescence in event order.
//   - A non-zero exit without a prior terminal event synthesizes a
//     WorkflowError (status "failed", or "interrupted" when the run was
//     cancelled) before the StreamEnd; a turn never ends silently.
//
// Cancellation is cooperative: Cancel or context cancellation sends SIGTERM
// to the process group, escalating to SIGKILL after the grace period.
package runner
