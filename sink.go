package tether

// EventSink is an external delivery target (typically an EventEmitter
// bridging to a user's transport channel) registered on an EventBus.
//
// The bus maps each published event's type to the corresponding notification
// method. An event whose type maps to no method is a no-op delivery and is
// counted as failed for that sink.
//
// Implementations must be safe for sequential calls from the bus; the bus
// delivers one event at a time per publisher, in publish order.
type EventSink interface {
	OnAgentStarted(event *ToolEvent) error
	OnAgentThinking(event *ToolEvent) error
	OnToolExecuting(event *ToolEvent) error
	OnToolCompleted(event *ToolEvent) error
	OnToolProgress(event *ToolEvent) error
	OnAgentCompleted(event *ToolEvent) error
	OnAgentError(event *ToolEvent) error
	OnProgressUpdate(event *ToolEvent) error
	OnCustom(event *ToolEvent) error
}

// deliverToSink routes an event to the sink method matching its type.
// Returns (false, nil) when the type has no mapping.
func deliverToSink(sink EventSink, event *ToolEvent) (known bool, err error) {
	switch event.Type {
	case EventAgentStarted:
		return true, sink.OnAgentStarted(event)
	case EventAgentThinking:
		return true, sink.OnAgentThinking(event)
	case EventToolExecuting:
		return true, sink.OnToolExecuting(event)
	case EventToolCompleted:
		return true, sink.OnToolCompleted(event)
	case EventToolProgress:
		return true, sink.OnToolProgress(event)
	case EventAgentCompleted:
		return true, sink.OnAgentCompleted(event)
	case EventAgentError:
		return true, sink.OnAgentError(event)
	case EventProgressUpdate:
		return true, sink.OnProgressUpdate(event)
	case EventCustom:
		return true, sink.OnCustom(event)
	default:
		return false, nil
	}
}
