package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage is the envelope every client message is decoded into first.
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage reports which analysis a job is working on.
type WSProgressMessage struct {
	Type        string       `json:"type"`
	JobID       string       `json:"jobId"`
	Progress    int          `json:"progress"`
	Status      JobStatus    `json:"status"`
	Analysis    AnalysisKind `json:"analysis,omitempty"`
	CurrentStep string       `json:"currentStep,omitempty"`
}

type WSCompleteMessage struct {
	Type   string          `json:"type"`
	JobID  string          `json:"jobId"`
	Result *AnalysisBundle `json:"result"`
}

type WSErrorMessage struct {
	Type  string  `json:"type"`
	JobID string  `json:"jobId"`
	Error WSError `json:"error"`
}

type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
