// Package main provides an interactive CLI for exercising the dispatch
// pipeline end to end: per-session ExecutionContext, ToolDispatcher,
// EventBus, EventEmitter, and an in-memory transport whose wire frames are
// printed as they arrive.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tetherframe/tether"
	"github.com/tetherframe/tether/tools"
	"github.com/tetherframe/tether/transport"
)

// ANSI color codes
const (
	colorReset   = "\033[0m"
	colorRed     = "\033[31m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
	colorBold    = "\033[1m"
	colorDim     = "\033[2m"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr,
			"%sError: %v%s\n",
			colorRed, err, colorReset)
		os.Exit(1)
	}
}

type menuItem struct {
	name        string
	description string
	run         func(ctx context.Context) error
}

func run() error {
	rl, err := readline.New(
		colorCyan +
			"Enter selection (or 'q' to quit): " +
			colorReset)
	if err != nil {
		return fmt.Errorf(
			"failed to create readline: %w", err)
	}
	defer rl.Close()

	menuItems := []menuItem{
		{
			name:        "Echo Round Trip",
			description: "Dispatch a tool and print the wire frames",
			run:         runEchoRoundTrip,
		},
		{
			name:        "Sensitive Parameter Redaction",
			description: "Show api_key and password redacted on the wire",
			run:         runRedaction,
		},
		{
			name:        "Tool Failure Sanitization",
			description: "Show filesystem paths stripped from error text",
			run:         runFailureSanitization,
		},
		{
			name:        "Permission Denial",
			description: "Dispatch against a gate that rejects the plan tier",
			run:         runPermissionDenial,
		},
		{
			name:        "Concurrent Session Isolation",
			description: "Two users dispatch at once; frames never cross channels",
			run:         runConcurrentIsolation,
		},
		{
			name:        "Interactive Dispatch",
			description: "Type tool invocations against a live session",
			run: func(ctx context.Context) error {
				return runInteractiveDispatch(ctx)
			},
		},
	}

	fmt.Printf("%s%sAvailable Scenarios:%s\n",
		colorBold, colorYellow, colorReset)
	fmt.Printf("%s%s%s\n",
		colorYellow,
		strings.Repeat("=", 20),
		colorReset)
	for i, item := range menuItems {
		fmt.Printf("  %s%d.%s %s%s%s - %s\n",
			colorCyan, i+1, colorReset,
			colorWhite, item.name, colorReset,
			item.description)
	}
	fmt.Println()

	for {
		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				fmt.Printf("\n%sGoodbye!%s\n",
					colorGreen, colorReset)
				return nil
			}
			return fmt.Errorf(
				"failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "q" || input == "Q" {
			fmt.Printf("%sGoodbye!%s\n",
				colorGreen, colorReset)
			return nil
		}

		num, err := strconv.Atoi(input)
		if err != nil || num < 1 || num > len(menuItems) {
			fmt.Printf(
				"%sInvalid selection. "+
					"Please enter 1-%d.%s\n\n",
				colorRed, len(menuItems), colorReset)
			continue
		}

		item := menuItems[num-1]
		fmt.Printf("\n%sRunning: %s%s\n",
			colorGreen, item.name, colorReset)
		if err := item.run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr,
				"%sError: %v%s\n",
				colorRed, err, colorReset)
		}

		fmt.Printf("\n%s%s%s\n\n",
			colorDim,
			strings.Repeat("-", 60),
			colorReset)
	}
}

// -----------------------------------------------------------------------------
// Session wiring
// -----------------------------------------------------------------------------

type demoSession struct {
	dispatcher *tether.ToolDispatcher
	wire       *transport.Memory
	channelID  string
}

func newDemoSession(userID, runID string, gate tether.PermissionGate) (*demoSession, error) {
	execCtx, err := tether.NewExecutionContext(userID, "thread-demo", runID)
	if err != nil {
		return nil, err
	}
	channelID := "channel-" + userID
	execCtx = execCtx.WithChannel(channelID)

	wire := transport.NewMemory()
	emitter, err := tether.NewEventEmitter(execCtx, wire)
	if err != nil {
		return nil, err
	}

	bus := tether.NewEventBus(tether.DefaultConfig().Bus)
	if err := bus.Start(context.Background()); err != nil {
		return nil, err
	}
	bus.RegisterSink(emitter)

	dispatcher, err := tether.NewToolDispatcher(execCtx, demoRegistry(),
		tether.WithPermissionGate(gate),
		tether.WithOwnedEventBus(bus),
		tether.WithAgentName("demo-agent"),
	)
	if err != nil {
		return nil, err
	}
	return &demoSession{
		dispatcher: dispatcher,
		wire:       wire,
		channelID:  channelID,
	}, nil
}

func demoRegistry() *tools.ValidatingRegistry {
	registry := tools.NewValidatingRegistry()

	_ = registry.RegisterWithSchema(
		tether.NewToolFunc("echo",
			func(_ context.Context, params map[string]any) (any, error) {
				return params["message"], nil
			}),
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"message": map[string]any{"type": "string"},
			},
			"required": []any{"message"},
		})

	_ = registry.Register(tether.NewToolFunc("connect",
		func(_ context.Context, params map[string]any) (any, error) {
			return map[string]any{"status": "connected"}, nil
		}))

	_ = registry.Register(tether.NewToolFunc("read_config",
		func(context.Context, map[string]any) (any, error) {
			return nil, errors.New(
				"open /etc/agent/secrets/config.yaml: permission denied")
		}))

	return registry
}

func printWire(s *demoSession) {
	for _, frame := range s.wire.Sent() {
		encoded, err := json.MarshalIndent(frame.Payload, "  ", "  ")
		if err != nil {
			encoded = []byte(fmt.Sprintf("%v", frame.Payload))
		}
		fmt.Printf("  %s[%s]%s %s%s%s\n",
			colorMagenta, frame.ChannelID, colorReset,
			colorDim, string(encoded), colorReset)
	}
	s.wire.Reset()
}

func printResult(result *tether.DispatchResult) {
	if result.Success {
		fmt.Printf("  %sResult: %v%s\n",
			colorGreen, result.Result, colorReset)
	} else {
		fmt.Printf("  %sFailed: %s%s\n",
			colorRed, result.Error, colorReset)
	}
}

// -----------------------------------------------------------------------------
// Scenarios
// -----------------------------------------------------------------------------

func runEchoRoundTrip(ctx context.Context) error {
	s, err := newDemoSession("user-1", "run-1", tether.AllowAllGate{})
	if err != nil {
		return err
	}
	defer s.dispatcher.Cleanup()

	result, err := s.dispatcher.Dispatch(ctx, "echo",
		map[string]any{"message": "hello from the demo"})
	if err != nil {
		return err
	}
	printResult(result)
	printWire(s)
	return nil
}

func runRedaction(ctx context.Context) error {
	s, err := newDemoSession("user-1", "run-1", tether.AllowAllGate{})
	if err != nil {
		return err
	}
	defer s.dispatcher.Cleanup()

	result, err := s.dispatcher.Dispatch(ctx, "connect", map[string]any{
		"host":     "db.internal",
		"api_key":  "sk-very-secret-value",
		"password": "hunter2",
	})
	if err != nil {
		return err
	}
	printResult(result)
	fmt.Printf("  %sNote the parameters block below: "+
		"secret values never reach the wire.%s\n",
		colorYellow, colorReset)
	printWire(s)
	return nil
}

func runFailureSanitization(ctx context.Context) error {
	s, err := newDemoSession("user-1", "run-1", tether.AllowAllGate{})
	if err != nil {
		return err
	}
	defer s.dispatcher.Cleanup()

	result, err := s.dispatcher.Dispatch(ctx, "read_config", nil)
	if err != nil {
		return err
	}
	printResult(result)
	fmt.Printf("  %sThe wire frame carries only the final "+
		"path segment, not the server's layout.%s\n",
		colorYellow, colorReset)
	printWire(s)
	return nil
}

func runPermissionDenial(ctx context.Context) error {
	s, err := newDemoSession("user-1", "run-1",
		planGate{allowedTier: "pro", actualTier: "free"})
	if err != nil {
		return err
	}
	defer s.dispatcher.Cleanup()

	result, err := s.dispatcher.Dispatch(ctx, "echo",
		map[string]any{"message": "should not run"})
	if err != nil {
		return err
	}
	printResult(result)
	printWire(s)
	return nil
}

func runConcurrentIsolation(ctx context.Context) error {
	alice, err := newDemoSession("alice", "run-a", tether.AllowAllGate{})
	if err != nil {
		return err
	}
	defer alice.dispatcher.Cleanup()

	bob, err := newDemoSession("bob", "run-b", tether.AllowAllGate{})
	if err != nil {
		return err
	}
	defer bob.dispatcher.Cleanup()

	done := make(chan error, 2)
	go func() {
		_, err := alice.dispatcher.Dispatch(ctx, "echo",
			map[string]any{"message": "alice's private message"})
		done <- err
	}()
	go func() {
		_, err := bob.dispatcher.Dispatch(ctx, "echo",
			map[string]any{"message": "bob's private message"})
		done <- err
	}()
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			return err
		}
	}

	fmt.Printf("  %sAlice's channel:%s\n", colorBold, colorReset)
	printWire(alice)
	fmt.Printf("  %sBob's channel:%s\n", colorBold, colorReset)
	printWire(bob)
	return nil
}

func runInteractiveDispatch(ctx context.Context) error {
	s, err := newDemoSession("user-1", "run-1", tether.AllowAllGate{})
	if err != nil {
		return err
	}
	defer s.dispatcher.Cleanup()

	fmt.Printf(
		"%sType '<tool> <message>' to dispatch "+
			"(tools: echo, connect, read_config). "+
			"Type 'exit' to return.%s\n",
		colorDim, colorReset)

	rl, err := readline.New(
		colorCyan + colorBold + "tool> " + colorReset)
	if err != nil {
		return fmt.Errorf(
			"failed to create readline: %w", err)
	}
	defer rl.Close()

	for {
		input, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				return nil
			}
			return fmt.Errorf(
				"failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return nil
		}

		toolName, message, _ := strings.Cut(input, " ")
		params := map[string]any{}
		if message != "" {
			params["message"] = message
		}

		result, err := s.dispatcher.Dispatch(ctx, toolName, params)
		if err != nil {
			fmt.Fprintf(os.Stderr,
				"%sDispatch error: %v%s\n",
				colorRed, err, colorReset)
			continue
		}
		printResult(result)
		printWire(s)
	}
}

// planGate denies every tool unless the session's plan tier matches.
type planGate struct {
	allowedTier string
	actualTier  string
}

func (g planGate) Check(query tether.PermissionQuery) tether.Decision {
	if g.actualTier != g.allowedTier {
		return tether.Decision{
			Allowed: false,
			Reason: fmt.Sprintf(
				"tool %q requires the %s plan",
				query.ToolName, g.allowedTier),
		}
	}
	return tether.Decision{Allowed: true}
}

func (g planGate) EndExecution(string, string) {}
