package api

const postMovesMaxSize = 64 * 1024 // 64 KiB

// Drop target kinds accepted by /api/moves.
const (
	targetCell        = "cell"
	targetRun         = "run"
	targetUnscheduled = "unscheduled"
)

// /POST /api/moves request body element
type moveCommand struct {
	IdempotencyKey string     `json:"idempotencyKey,omitempty"`
	OrderID        string     `json:"orderId"`
	Target         moveTarget `json:"target"`
}

type moveTarget struct {
	Kind     string `json:"kind"`
	Resource string `json:"resource,omitempty"`
	Date     string `json:"date,omitempty"`
	RunID    string `json:"runId,omitempty"`
	Index    *int   `json:"index,omitempty"`
}

// /POST /api/moves response body
type postMovesResponse struct {
	IdempotencyKeys []string `json:"idempotencyKeys,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// /POST /api/runs request body
type createRunRequest struct {
	Resource string `json:"resource"`
	Date     string `json:"date"`
	Name     string `json:"name"`
}

// /POST /api/runs response body
type createRunResponse struct {
	RunID string `json:"runId"`
}
