// Package core provides the foundational domain types used by AgentTrace. It
// defines the core abstractions for:
//
//   - Events (a closed, type-tagged union covering the local orchestrator
//     stream and the remote tool-event store)
//   - Chat messages and conversation channels (direct vs. internal)
//   - Log entries (the renderable projection of accepted events)
//   - Graph topology snapshots emitted once per workflow run
//   - The error taxonomy shared by every ingesting component
//
// The package intentionally keeps implementation concerns (parsing loops,
// polling, merging, session orchestration) out of scope, exposing small types
// so higher packages can be built and tested against stable contracts. All
// exported identifiers include concise documentation to aid discoverability
// and external consumption.
package core
