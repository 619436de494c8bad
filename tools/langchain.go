package tools

import (
	"context"
	"encoding/json"
	"fmt"

	lctools "github.com/tmc/langchaingo/tools"

	"github.com/tetherframe/tether"
)

// langChainTool adapts a langchaingo tool to the tether Tool interface.
//
// langchaingo tools take a single string input. If the parameter map carries
// an "input" string it is passed through untouched; any other map is
// JSON-encoded so structured parameters still reach the tool.
type langChainTool struct {
	tool lctools.Tool
}

// FromLangChain wraps a langchaingo tool so it can be registered on a
// tether registry and executed by a dispatcher.
func FromLangChain(tool lctools.Tool) tether.Tool {
	return &langChainTool{tool: tool}
}

func (t *langChainTool) Name() string {
	return t.tool.Name()
}

func (t *langChainTool) Invoke(ctx context.Context, params map[string]any) (any, error) {
	input, err := encodeLangChainInput(params)
	if err != nil {
		return nil, err
	}
	return t.tool.Call(ctx, input)
}

func encodeLangChainInput(params map[string]any) (string, error) {
	if len(params) == 0 {
		return "", nil
	}
	if s, ok := params["input"].(string); ok && len(params) == 1 {
		return s, nil
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("tools: encode langchain input: %w", err)
	}
	return string(encoded), nil
}

// tetherTool adapts a tether Tool to the langchaingo tool interface, for
// handing dispatcher-managed tools to a langchaingo agent.
//
// The string input is decoded as a JSON object when possible; otherwise it is
// passed as {"input": <raw string>}.
type tetherTool struct {
	tool        tether.Tool
	description string
}

// ToLangChain wraps a tether tool as a langchaingo tool. The description is
// surfaced through the langchaingo interface, which tether tools do not
// carry themselves.
func ToLangChain(tool tether.Tool, description string) lctools.Tool {
	return &tetherTool{tool: tool, description: description}
}

func (t *tetherTool) Name() string {
	return t.tool.Name()
}

func (t *tetherTool) Description() string {
	return t.description
}

func (t *tetherTool) Call(ctx context.Context, input string) (string, error) {
	var params map[string]any
	if err := json.Unmarshal([]byte(input), &params); err != nil || params == nil {
		params = map[string]any{"input": input}
	}

	result, err := t.tool.Invoke(ctx, params)
	if err != nil {
		return "", err
	}
	switch v := result.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("tools: encode result: %w", err)
		}
		return string(encoded), nil
	}
}

// Compile-time interface checks.
var (
	_ tether.Tool  = (*langChainTool)(nil)
	_ lctools.Tool = (*tetherTool)(nil)
)
