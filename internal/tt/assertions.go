package tt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tetherframe/tether"
)

// -----------------------------------------------------------------------------
// Event Assertion Helpers
// -----------------------------------------------------------------------------

// ExpectedEvent is a partial ToolEvent for sequence assertions. Zero-value
// fields are skipped, so tests only pin down what they care about.
type ExpectedEvent struct {
	Type     tether.EventType
	ToolName string
	RunID    string
	Error    string
}

// AssertEventSequence asserts that actual matches the expected sequence by
// type (and tool name, run ID, and error where specified). Timestamps are
// asserted non-zero and monotonically non-decreasing; IDs are asserted
// non-empty and unique.
func AssertEventSequence(t *testing.T, expected []ExpectedEvent, actual []*tether.ToolEvent) {
	t.Helper()

	if !assert.Equal(t, len(expected), len(actual), "event count mismatch") {
		return
	}

	seenIDs := make(map[string]bool)
	var prevTimestamp time.Time
	for i, exp := range expected {
		act := actual[i]

		assert.Equal(t, exp.Type, act.Type, "event[%d].Type", i)
		if exp.ToolName != "" {
			assert.Equal(t, exp.ToolName, act.ToolName, "event[%d].ToolName", i)
		}
		if exp.RunID != "" {
			assert.Equal(t, exp.RunID, act.RunID, "event[%d].RunID", i)
		}
		if exp.Error != "" {
			assert.Equal(t, exp.Error, act.Error, "event[%d].Error", i)
		}

		assert.NotEmpty(t, act.ID, "event[%d].ID", i)
		assert.False(t, seenIDs[act.ID], "event[%d].ID %q duplicated", i, act.ID)
		seenIDs[act.ID] = true

		assert.False(t, act.Timestamp.IsZero(),
			"event[%d].Timestamp should not be zero", i)
		if !prevTimestamp.IsZero() {
			assert.True(t, !act.Timestamp.Before(prevTimestamp),
				"event[%d].Timestamp (%v) should be >= previous timestamp (%v)",
				i, act.Timestamp, prevTimestamp)
		}
		prevTimestamp = act.Timestamp
	}
}

// AssertAllFromRun asserts that every event carries the given run ID. Guards
// against cross-context leakage in fan-out tests.
func AssertAllFromRun(t *testing.T, runID string, events []*tether.ToolEvent) {
	t.Helper()
	for i, e := range events {
		assert.Equal(t, runID, e.RunID, "event[%d] leaked from a foreign run", i)
	}
}

// -----------------------------------------------------------------------------
// Wire Payload Assertion Helpers
// -----------------------------------------------------------------------------

// AssertWirePayload asserts the envelope of one transport payload: the
// fixed keys are present, the type and run ID match, and the timestamp
// parses as RFC 3339.
func AssertWirePayload(t *testing.T, payload map[string]any, eventType tether.EventType, runID string) {
	t.Helper()

	assert.Equal(t, string(eventType), payload["type"], "payload type")
	assert.Equal(t, runID, payload["run_id"], "payload run_id")
	assert.Contains(t, payload, "agent_name")
	assert.Contains(t, payload, "payload")

	ts, ok := payload["timestamp"].(string)
	if assert.True(t, ok, "timestamp should be a string") {
		_, err := time.Parse(time.RFC3339Nano, ts)
		assert.NoError(t, err, "timestamp should be RFC 3339")
	}
}
