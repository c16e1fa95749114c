package models

// These structs define the JSON payloads exchanged with callers of the
// session HTTP surface.

// UploadResponse is returned when a document has been accepted.
type UploadResponse struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// StatusResponse is the status snapshot returned to pollers.
type StatusResponse struct {
	SessionID      string  `json:"session_id"`
	Status         string  `json:"status"`
	Message        string  `json:"message"`
	Progress       float64 `json:"progress"`
	CurrentStage   string  `json:"current_stage"`
	TotalPages     int     `json:"total_pages"`
	ProcessedPages int     `json:"processed_pages"`
	FinalOutput    *string `json:"final_output"`
}

// PageResponse carries the recognized and translated text of one page.
type PageResponse struct {
	PageNumber     int    `json:"page_number"`
	RawText        string `json:"raw_text"`
	TranslatedText string `json:"translated_text"`
	EditedText     string `json:"edited_text"`
}

// ImageResponse carries a rendered page as base64 PNG.
type ImageResponse struct {
	Image string `json:"image"`
}

// PageUpdateRequest overwrites the edited text of one page.
type PageUpdateRequest struct {
	PageNumber int    `json:"page_number"`
	EditedText string `json:"edited_text"`
}

// ReportRequest triggers report generation.
type ReportRequest struct {
	SessionID    string            `json:"session_id,omitempty"`
	ClientName   string            `json:"client_name,omitempty"`
	ChunkSize    int               `json:"chunk_size,omitempty"`
	Placeholders map[string]string `json:"placeholders,omitempty"`
}

// MessageResponse is the generic acknowledgement body.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// StatusResponseFromSession converts a snapshot into its wire form.
func StatusResponseFromSession(s *Session) StatusResponse {
	resp := StatusResponse{
		SessionID:      s.ID,
		Status:         string(s.Status),
		Message:        s.Message,
		Progress:       s.Progress,
		CurrentStage:   string(s.CurrentStage),
		TotalPages:     s.TotalPages,
		ProcessedPages: s.ProcessedPages,
	}
	if s.FinalOutput != "" {
		out := s.FinalOutput
		resp.FinalOutput = &out
	}
	return resp
}
