// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing events and remote tool-event records with
// consistent identity and timestamps. Timestamps auto-advance between built
// events so dedup tuples stay distinct without per-call bookkeeping. These
// helpers are not intended for production usage.
package testutil
