// Package model defines the provider-agnostic completion abstractions used
// by the streaming chat aggregator.
//
// Core goals:
//   - Unify streaming generation behind a single interface (Model.Stream)
//   - Keep request/response shapes minimal and transport independent
//   - Classify provider failures into the shared error taxonomy
//     (core.ThrottleError, core.TerminalRemoteError) so retry decisions
//     never depend on vendor SDK types
//   - Facilitate lightweight scripting for tests (Mock)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so the chat layer remains decoupled from vendor SDKs.
package model
