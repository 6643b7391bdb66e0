package domain

import "time"

// Workflow instance statuses. An instance is resumable only while running;
// every other status is terminal.
const (
	WorkflowStatusRunning    = "running"
	WorkflowStatusComplete   = "complete"
	WorkflowStatusErrored    = "errored"
	WorkflowStatusTerminated = "terminated"
)

// WorkflowInstance is one durable run of a registered workflow. Params is the
// JSON-encoded input the run was started with; Failure holds the terminal
// error for errored instances.
type WorkflowInstance struct {
	ID        string    `json:"id"`
	Workflow  string    `json:"workflow"`
	Params    []byte    `json:"params"`
	Status    string    `json:"status"`
	Failure   string    `json:"failure"`
	CreatedOn time.Time `json:"created_on"`
	UpdatedOn time.Time `json:"updated_on"`
}

// WorkflowEvent is an external signal delivered to a running instance. Events
// are persisted before delivery so a crash between receipt and consumption
// cannot drop them; Consumed flips once a waiting step has taken the event.
type WorkflowEvent struct {
	Seq        int64     `json:"seq"`
	InstanceID string    `json:"instance_id"`
	Type       string    `json:"type"`
	Payload    []byte    `json:"payload"`
	Consumed   bool      `json:"consumed"`
	CreatedOn  time.Time `json:"created_on"`
}
