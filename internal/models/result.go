package models

type UploadResponse struct {
	ID           string `json:"id"`
	OriginalName string `json:"original_name"`
	FileType     string `json:"file_type"`
	Characters   int    `json:"characters"`
}

type OptimizeRequest struct {
	UserID         string `json:"user_id"`
	JobDescription string `json:"job_description"`
	Template       string `json:"template"`
	ForceRefresh   bool   `json:"force_refresh"`
}

type OptimizeResponse struct {
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	RunID      string `json:"run_id,omitempty"`
	Progress   *int   `json:"progress,omitempty"`
	Message    string `json:"message,omitempty"`
}

// StatusResponse is the payload polled by clients. optimizedContent mirrors
// optimizedText for clients that still read the old name.
type StatusResponse struct {
	DocumentID       string        `json:"document_id"`
	Status           string        `json:"status"`
	Progress         *int          `json:"progress,omitempty"`
	Message          string        `json:"message,omitempty"`
	OptimizedText    *string       `json:"optimizedText,omitempty"`
	OptimizedContent *string       `json:"optimizedContent,omitempty"`
	Result           *OptimizeData `json:"result,omitempty"`
	Error            *string       `json:"error,omitempty"`
}

type OptimizeData struct {
	AtsScore         *float64 `json:"atsScore,omitempty"`
	ImprovedAtsScore *float64 `json:"improvedAtsScore,omitempty"`
	Improvements     []string `json:"improvements,omitempty"`
	SelectedTemplate *string  `json:"selectedTemplate,omitempty"`
	Note             string   `json:"note,omitempty"`
}
