// Package tether provides request-scoped execution isolation and event
// notification for AI agent tool calls.
//
// Shared, mutable agent state is the root cause of cross-user leakage in
// concurrent agent backends: a globally shared dispatcher or notifier can
// deliver one user's tool results to another user's channel. tether replaces
// that pattern with per-request ownership. Every request mints an immutable
// [ExecutionContext], and every component that touches user data (the
// [ToolDispatcher], the [EventEmitter]) is constructed against exactly one
// context and disposed with it.
//
// # Quick Start
//
// A typical request handler wires the pieces like this:
//
//	package main
//
//	import (
//	    "context"
//	    "fmt"
//
//	    "github.com/tetherframe/tether"
//	)
//
//	func handleRequest(ctx context.Context, userID, threadID, runID string) error {
//	    // 1. Mint the per-request execution context.
//	    execCtx, err := tether.NewExecutionContext(userID, threadID, runID)
//	    if err != nil {
//	        return err
//	    }
//
//	    // 2. Start a bus for lifecycle events.
//	    bus := tether.NewEventBus(tether.DefaultConfig().Bus)
//	    if err := bus.Start(ctx); err != nil {
//	        return err
//	    }
//
//	    // 3. Register tools and build the dispatcher.
//	    registry := tether.NewRegistry()
//	    registry.Register(tether.NewToolFunc("echo", func(ctx context.Context, params map[string]any) (any, error) {
//	        return params["message"], nil
//	    }))
//
//	    dispatcher, err := tether.NewToolDispatcher(execCtx, registry,
//	        tether.WithOwnedEventBus(bus),
//	        tether.WithPermissionGate(tether.AllowAllGate{}))
//	    if err != nil {
//	        return err
//	    }
//	    defer dispatcher.Cleanup()
//
//	    // 4. Dispatch.
//	    result, err := dispatcher.Dispatch(ctx, "echo", map[string]any{"message": "hi"})
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(result.Success, result.Result)
//	    return nil
//	}
//
// # ExecutionContext
//
// [ExecutionContext] is an immutable value carrying request identity: user
// ID, thread ID, run ID, and a minted request ID unique per context. Identity
// fields are validated at construction; placeholder values such as "default"
// or "registry" are rejected because they are the classic symptom of a shared
// fallback identity. Derivation methods ([ExecutionContext.WithSession],
// [ExecutionContext.WithChannel], [ExecutionContext.CreateChild]) return
// copies and never mutate the receiver, so a context can be handed to
// concurrent operations without locking.
//
// # ToolDispatcher
//
// [ToolDispatcher] resolves tools from a [ToolRegistry], consults an optional
// [PermissionGate], executes inside a failure boundary, and reports every
// outcome as a [DispatchResult]. Tool failures never escape as panics or
// returned errors; they come back as structured results so the agent loop can
// react to them.
//
// # EventBus and EventEmitter
//
// [EventBus] fans lifecycle events out to handler subscriptions, channel
// subscriptions, and [EventSink] implementations, with bounded history and
// at-least-once retry for failed deliveries. [EventEmitter] is the outbound
// edge: bound to one context and one [Transport], it refuses events stamped
// with a foreign run ID and sanitizes payloads (secret redaction, string and
// list truncation, path stripping) before anything reaches a client channel.
//
//	emitter, err := tether.NewEventEmitter(execCtx, transport)
//	if err != nil {
//	    return err
//	}
//	defer emitter.Dispose()
//
//	// Guard: runID must match the bound context or the send is refused.
//	err = emitter.NotifyToolExecuting(ctx, execCtx.RunID(), "search", params)
//
// An emitter also implements [EventSink], so it can be registered on a bus
// and forward matching events to its transport:
//
//	unregister := bus.RegisterSink(emitter)
//	defer unregister()
//
// # Subpackages
//
// The tools package adds JSON Schema parameter validation and a langchaingo
// adapter. The transport package provides WebSocket and in-memory [Transport]
// implementations.
package tether
