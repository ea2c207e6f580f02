package audit

import "time"

// EventType represents the type of audit event
type EventType string

const (
	// Decision events
	EventOperationChecked EventType = "decision.checked"
	EventThreatDetected   EventType = "decision.threat_detected"

	// Approval events
	EventApprovalRequested EventType = "approval.requested"
	EventApprovalGranted   EventType = "approval.granted"
	EventApprovalDenied    EventType = "approval.denied"
	EventApprovalExpired   EventType = "approval.expired"

	// Gate configuration events
	EventGateUpdated   EventType = "gate.updated"
	EventGatesImported EventType = "gate.imported"

	// Credential events
	EventPinSet      EventType = "pin.set"
	EventPinVerified EventType = "pin.verified"
	EventPinLocked   EventType = "pin.locked"
	EventPinReset    EventType = "pin.reset"

	// Kill switch events
	EventKillActivated EventType = "killswitch.activated"
	EventKillCleared   EventType = "killswitch.cleared"

	// System events
	EventServerStarted  EventType = "system.server_started"
	EventServerShutdown EventType = "system.server_shutdown"
)

// Result represents the outcome of an audited action
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultPending Result = "pending"
	ResultDenied  Result = "denied"
)

// Event represents a single audit event
type Event struct {
	// Core fields
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	EventType     EventType `json:"event_type"`
	Result        Result    `json:"result"`

	// Actor information
	Actor    string `json:"actor,omitempty"`
	SourceIP string `json:"source_ip,omitempty"`

	// Subject information
	Operation string `json:"operation,omitempty"`
	GateID    string `json:"gate_id,omitempty"`

	// Details
	Description string                 `json:"description,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`

	// Error information
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewEvent creates a new audit event with default values
func NewEvent(eventType EventType) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Result:    ResultPending,
		Metadata:  make(map[string]interface{}),
	}
}

// WithCorrelationID sets the correlation ID for event tracking
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithActor sets who triggered the event
func (e *Event) WithActor(actor string) *Event {
	e.Actor = actor
	return e
}

// WithOperation sets the operation and gate being decided
func (e *Event) WithOperation(operation, gateID string) *Event {
	e.Operation = operation
	e.GateID = gateID
	return e
}

// WithDescription sets a human-readable description
func (e *Event) WithDescription(desc string) *Event {
	e.Description = desc
	return e
}

// WithResult sets the result of the event
func (e *Event) WithResult(result Result) *Event {
	e.Result = result
	return e
}

// WithError sets error information
func (e *Event) WithError(err error, code string) *Event {
	if err != nil {
		e.Error = err.Error()
		e.ErrorCode = code
		e.Result = ResultFailure
	}
	return e
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	e.Metadata[key] = value
	return e
}
