package models

import (
	"sort"
	"time"
)

// Status is the caller-visible lifecycle state of a session.
type Status string

const (
	StatusProcessing           Status = "processing"
	StatusReadyForReview       Status = "ready_for_review"
	StatusGeneratingReport     Status = "generating_report"
	StatusCompleted            Status = "completed"
	StatusCompletedWithWarning Status = "completed_with_warning"
	StatusError                Status = "error"
	StatusCancelled            Status = "cancelled"
)

// Stage is the fine-grained phase within a status.
type Stage string

const (
	StageInitialization       Stage = "initialization"
	StagePDFLoading           Stage = "pdf_loading"
	StageOCRTranslation       Stage = "ocr_translation"
	StageWaitingForReview     Stage = "waiting_for_review"
	StageStartingReport       Stage = "starting_report"
	StageGettingToken         Stage = "getting_token"
	StageProcessingChunks     Stage = "processing_chunks"
	StageGeneratingDocx       Stage = "generating_docx"
	StageCompleted            Stage = "completed"
	StageCompletedWithWarning Stage = "completed_with_warning"
	StageError                Stage = "error"
	StageCancelled            Stage = "cancelled"
)

// Session is one uploaded document's end-to-end processing job.
type Session struct {
	ID             string    `json:"session_id"`
	Status         Status    `json:"status"`
	Message        string    `json:"message"`
	Progress       float64   `json:"progress"`
	CurrentStage   Stage     `json:"current_stage"`
	TotalPages     int       `json:"total_pages"`
	ProcessedPages int       `json:"processed_pages"`
	FinalOutput    string    `json:"final_output,omitempty"`
	MarkdownPath   string    `json:"markdown_path,omitempty"`
	DocxPath       string    `json:"docx_path,omitempty"`
	SourceName     string    `json:"source_name,omitempty"`
	SourceHash     string    `json:"source_hash,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Pages map[int]*Page `json:"-"`
}

// Page is one page of the source document, keyed by its 1-based number.
type Page struct {
	Number         int    `json:"page_number"`
	RawText        string `json:"raw_text"`
	TranslatedText string `json:"translated_text"`
	EditedText     string `json:"edited_text"`
	ImageKey       string `json:"image_key,omitempty"`
}

// Chunk is a group of consecutive pages submitted as one generation call.
type Chunk struct {
	Index int
	Pages []int
	Texts []string
}

// Clone returns a deep copy that shares no mutable state with s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Pages = make(map[int]*Page, len(s.Pages))
	for n, p := range s.Pages {
		cp := *p
		c.Pages[n] = &cp
	}
	return &c
}

// OrderedPages returns the session's pages sorted by page number.
func (s *Session) OrderedPages() []Page {
	nums := make([]int, 0, len(s.Pages))
	for n := range s.Pages {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	out := make([]Page, 0, len(nums))
	for _, n := range nums {
		out = append(out, *s.Pages[n])
	}
	return out
}

// Busy reports whether a stage is running against the session.
func (s Status) Busy() bool {
	return s == StatusProcessing || s == StatusGeneratingReport
}
