package domain

import "time"

// Job status values. A record starts pending and is moved forward only by its Worker.
const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

// JobRecord is the durable metadata of one processing request
type JobRecord struct {
	ID             string    `db:"id" json:"id"`
	InputText      *string   `db:"input_text" json:"inputText,omitempty"`
	InputFilePath  *string   `db:"input_file_path" json:"inputFilePath,omitempty"`
	OutputFilePath *string   `db:"output_file_path" json:"outputFilePath,omitempty"`
	Status         string    `db:"status" json:"status"`
	ErrorMessage   *string   `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt      time.Time `db:"-" json:"createdAt"`
	UpdatedAt      time.Time `db:"-" json:"updatedAt"`
}

// Completed reports whether the output reference has been recorded
func (r *JobRecord) Completed() bool {
	return r.OutputFilePath != nil && *r.OutputFilePath != ""
}

// JobParams are the execution parameters a Worker is provisioned with
type JobParams struct {
	JobID         string `json:"job_id" env:"JOB_ID,required"`
	InputText     string `json:"input_text,omitempty" env:"JOB_INPUT_TEXT"`
	InputFilePath string `json:"input_file_path,omitempty" env:"JOB_INPUT_FILE_PATH"`
}

// WorkerEnv is the environment-style configuration handed to every Worker
type WorkerEnv struct {
	Store      string `json:"store" env:"STORE_NAME,required"`
	Table      string `json:"table" env:"TABLE_NAME,required"`
	Credential string `json:"credential,omitempty" env:"WORKER_CREDENTIAL"`
	Network    string `json:"network,omitempty" env:"WORKER_NETWORK"`
}

// StringPtr returns nil for an empty string
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or ""
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
