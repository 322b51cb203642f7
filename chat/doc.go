// Package chat aggregates streaming completions into observable exchanges.
//
// One Chat holds one conversation with a completion model: each Send streams
// the assistant's reply as token fragments while accumulating the full text,
// and a finished exchange joins the in-process history replayed with the next
// request. Rate limits are retried through the shared backoff policy as long
// as nothing has been streamed yet; once fragments are out, or on any
// terminal classification, the error surfaces immediately.
//
// A Response exposes the reply both ways: pull fragments with Next, or push
// them through Drive; Wait blocks for the outcome and Text returns the
// aggregate. Sends are serialized per Chat.
package chat
