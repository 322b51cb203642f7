// Package engine implements the session controller for AgentTrace.
//
// The Engine is the single owner of live visualization state. It launches the
// orchestrator subprocess for each conversation turn, polls the remote
// tool-event store for the same workflow, merges both streams into one
// ordered sequence and folds every accepted event into three read models:
// the workflow session (status, transcript, active agent), the bounded event
// log and the one-shot topology graph.
//
// # Conversation lifecycle
//
// A conversation maps onto one workflow identity and many turns:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Command = []string{"python", "-u", "orchestrator.py"}
//	    o.Store = toolEventStore
//	    o.Logger = logger
//	})
//	defer eng.Close()
//
//	if err := eng.Start(ctx, "my order is late"); err != nil {
//	    return err
//	}
//	// ... session reaches partial: the entry agent asked a question ...
//	if err := eng.Submit(ctx, "order id is ORD-5"); err != nil {
//	    return err
//	}
//
// Start spawns turn one and brings up the conversation pipeline: a poller on
// the session's workflow id, the merger, and the dispatch loop. Submit runs
// follow-up turns through the same pipeline, passing the accumulated
// direct-channel transcript to the orchestrator. Reset kills everything,
// mints a fresh workflow identity and clears the log; Close disposes the
// engine for good.
//
// # Read models and feeds
//
// Session(), Log(), LogFiltered(), AgentOptions() and Graph() return
// defensive copies safe to render from any goroutine. Events() exposes the
// merged event feed and Errors() the classified error stream; both are owned
// by the engine, never close before Close, and drop rather than block when
// consumers fall behind.
//
// # Concurrency model
//
// One dispatch goroutine applies merged events in order, so session state,
// transcript and log always agree on what happened. Turn subprocess streams
// are forwarded into a conversation-lifetime local channel; remote tool
// events keep flowing between and after turns, which is how eventually
// consistent telemetry lands in the transcript even when it arrives late.
// Cancellation is idempotent: Reset and Close share a sync.Once protected
// teardown that kills the subprocess, stops the poller and waits for every
// pipeline goroutine.
package engine
