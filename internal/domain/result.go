package domain

import "time"

// Stage names the pipeline step a strategy or failure belongs to.
type Stage string

const (
	StageGenerate Stage = "generate"
	StageNavigate Stage = "navigate"
	StageLocate   Stage = "locate"
	StageInput    Stage = "input"
	StageSubmit   Stage = "submit"
	StageVerify   Stage = "verify"
)

// ActionResult describes one execution attempt. It is built once per attempt
// and not modified after it is handed to sinks.
type ActionResult struct {
	TaskID     string            `json:"task_id"`
	Attempt    int               `json:"attempt"`
	Success    bool              `json:"success"`
	Strategies map[string]string `json:"strategies,omitempty"`
	Verified   bool              `json:"verified"`
	ErrorKind  ErrorKind         `json:"error_kind,omitempty"`
	Error      string            `json:"error,omitempty"`
	Artifact   string            `json:"artifact,omitempty"`
	ResultRef  string            `json:"result_ref,omitempty"`
	DurationMs int64             `json:"duration_ms"`
	FinishedAt time.Time         `json:"finished_at"`
}
