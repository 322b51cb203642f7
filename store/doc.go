// Package store defines the remote tool-event store contract and its record
// model. Agents running in remote sandboxes append one record per tool-call
// edge (started, then completed or error) keyed by workflow id and a
// microsecond ISO-8601 sort key; the poller reads them back in sort-key order
// and converts each record into a typed event.
//
// The interface is deliberately small (append and an after-cursor query) so
// backends stay trivial to add. This package ships an in-memory store for
// tests and single-process setups; the postgres subpackage provides the
// durable implementation.
package store
