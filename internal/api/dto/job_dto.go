package dto

// SubmitJobRequest is the body of POST /jobs. At least one field must be set.
type SubmitJobRequest struct {
	InputText string `json:"inputText"`
	FileName  string `json:"fileName"`
}

type SubmitJobResponse struct {
	ID string `json:"id"`
}

// UploadURLRequest is the body of POST /get-presigned-url
type UploadURLRequest struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

type UploadURLResponse struct {
	URL       string `json:"url"`
	Method    string `json:"method"`
	ExpiresAt string `json:"expiresAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ListJobsRequest struct {
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	ID             string `json:"id"`
	InputText      string `json:"inputText,omitempty"`
	InputFilePath  string `json:"inputFilePath,omitempty"`
	OutputFilePath string `json:"outputFilePath,omitempty"`
	Status         string `json:"status"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
	CreatedAt      string `json:"createdAt"`
	UpdatedAt      string `json:"updatedAt"`
}
