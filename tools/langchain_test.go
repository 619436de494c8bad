package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherframe/tether"
	"github.com/tetherframe/tether/internal/tt"
)

func TestFromLangChain(t *testing.T) {
	type input struct {
		params map[string]any
	}

	type expected struct {
		input string
	}

	tests := []struct {
		name     string
		input    input
		expected expected
	}{
		{
			name:     "single input string passes through untouched",
			input:    input{params: map[string]any{"input": "what is the weather"}},
			expected: expected{input: "what is the weather"},
		},
		{
			name:     "structured parameters are JSON encoded",
			input:    input{params: map[string]any{"city": "Oslo"}},
			expected: expected{input: `{"city":"Oslo"}`},
		},
		{
			name:     "empty parameters become empty input",
			input:    input{params: nil},
			expected: expected{input: ""},
		},
		{
			name:     "non-string input key is JSON encoded",
			input:    input{params: map[string]any{"input": 42}},
			expected: expected{input: `{"input":42}`},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lc := &stubLangChainTool{name: "weather", result: "sunny"}
			tool := FromLangChain(lc)
			assert.Equal(t, "weather", tool.Name())

			result, err := tool.Invoke(context.Background(), tc.input.params)
			require.NoError(t, err)
			assert.Equal(t, "sunny", result)
			assert.Equal(t, tc.expected.input, lc.lastInput)
		})
	}
}

func TestFromLangChain_PropagatesError(t *testing.T) {
	lc := &stubLangChainTool{name: "weather", err: errors.New("upstream down")}
	_, err := FromLangChain(lc).Invoke(context.Background(), map[string]any{"input": "x"})
	assert.EqualError(t, err, "upstream down")
}

func TestToLangChain(t *testing.T) {
	type input struct {
		callInput string
		result    any
	}

	type expected struct {
		params map[string]any
		output string
	}

	tests := []struct {
		name     string
		input    input
		expected expected
	}{
		{
			name:  "JSON object input decodes to parameter map",
			input: input{callInput: `{"city":"Oslo"}`, result: "sunny"},
			expected: expected{
				params: map[string]any{"city": "Oslo"},
				output: "sunny",
			},
		},
		{
			name:  "plain string input wraps as input parameter",
			input: input{callInput: "what is the weather", result: "sunny"},
			expected: expected{
				params: map[string]any{"input": "what is the weather"},
				output: "sunny",
			},
		},
		{
			name:  "structured result is JSON encoded",
			input: input{callInput: "x", result: map[string]any{"temp": 21.5}},
			expected: expected{
				params: map[string]any{"input": "x"},
				output: `{"temp":21.5}`,
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := tt.NewMockTool("weather").AddResult(tc.input.result)
			lc := ToLangChain(tool, "reports the weather")

			assert.Equal(t, "weather", lc.Name())
			assert.Equal(t, "reports the weather", lc.Description())

			output, err := lc.Call(context.Background(), tc.input.callInput)
			require.NoError(t, err)
			assert.Equal(t, tc.expected.output, output)
			assert.Equal(t, tc.expected.params, tool.CapturedParams[0])
		})
	}
}

func TestToLangChain_NilResultBecomesEmptyString(t *testing.T) {
	tool := tether.NewToolFunc("noop", func(context.Context, map[string]any) (any, error) {
		return nil, nil
	})
	output, err := ToLangChain(tool, "").Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "", output)
}

func TestToLangChain_PropagatesError(t *testing.T) {
	tool := tt.NewMockTool("broken").AddError(errors.New("no such index"))
	_, err := ToLangChain(tool, "").Call(context.Background(), "x")
	assert.EqualError(t, err, "no such index")
}

// ----------------------------------------------------------------------------
// Stubs
// ----------------------------------------------------------------------------

type stubLangChainTool struct {
	name      string
	result    string
	err       error
	lastInput string
}

func (s *stubLangChainTool) Name() string        { return s.name }
func (s *stubLangChainTool) Description() string { return "stub" }

func (s *stubLangChainTool) Call(_ context.Context, input string) (string, error) {
	s.lastInput = input
	if s.err != nil {
		return "", s.err
	}
	return s.result, nil
}
