package convert

import "time"

// EventKind identifies the type of event emitted during a conversion.
type EventKind string

const (
	// EventConvertStarted is emitted before the root level is processed.
	EventConvertStarted EventKind = "convert.started"

	// EventInstanceExpanded is emitted after a subgraph instance is inlined.
	EventInstanceExpanded EventKind = "instance.expanded"

	// EventNodeDropped is emitted when a node is excluded from the output.
	EventNodeDropped EventKind = "node.dropped"

	// EventConvertFinished is emitted once the execution graph is complete.
	EventConvertFinished EventKind = "convert.finished"
)

// String returns the string representation of the EventKind.
func (k EventKind) String() string {
	return string(k)
}

// Reasons carried in the "reason" payload of EventNodeDropped.
const (
	DropDisabled    = "disabled"
	DropUIOnly      = "ui_only"
	DropUnknownType = "unknown_type"
	DropRecursive   = "recursive"
)

// Event is a small record of a conversion step.
type Event struct {
	Kind EventKind

	// ConvertID identifies one conversion call.
	ConvertID string

	// NodeID is the prefixed id of the node concerned, if any.
	NodeID string

	// NodeType is the node's type name, or a subgraph definition id.
	NodeType string

	Time    time.Time
	Elapsed time.Duration

	// Payload contains event-specific data.
	Payload map[string]any
}

// EventHandler receives conversion events synchronously.
type EventHandler func(Event)

// NewEvent creates a new event with the current timestamp.
func NewEvent(kind EventKind, convertID string) Event {
	return Event{
		Kind:      kind,
		ConvertID: convertID,
		Time:      time.Now(),
		Payload:   make(map[string]any),
	}
}

// WithNode sets the node information on the event.
func (e Event) WithNode(nodeID, nodeType string) Event {
	e.NodeID = nodeID
	e.NodeType = nodeType
	return e
}

// WithElapsed sets the elapsed duration on the event.
func (e Event) WithElapsed(elapsed time.Duration) Event {
	e.Elapsed = elapsed
	return e
}

// MultiEventHandler fans an event out to several handlers.
func MultiEventHandler(handlers ...EventHandler) EventHandler {
	return func(e Event) {
		for _, h := range handlers {
			if h != nil {
				h(e)
			}
		}
	}
}
