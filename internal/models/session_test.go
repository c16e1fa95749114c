package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloneSharesNoPages(t *testing.T) {
	s := &Session{ID: "a", Pages: map[int]*Page{1: {Number: 1, EditedText: "one"}}}
	c := s.Clone()
	c.Pages[1].EditedText = "changed"
	c.Pages[2] = &Page{Number: 2}

	assert.Equal(t, "one", s.Pages[1].EditedText)
	assert.Len(t, s.Pages, 1)
	assert.Nil(t, (*Session)(nil).Clone())
}

func TestOrderedPages(t *testing.T) {
	s := &Session{Pages: map[int]*Page{10: {Number: 10}, 2: {Number: 2}, 7: {Number: 7}}}
	var nums []int
	for _, p := range s.OrderedPages() {
		nums = append(nums, p.Number)
	}
	assert.Equal(t, []int{2, 7, 10}, nums)
}

func TestBusy(t *testing.T) {
	assert.True(t, StatusProcessing.Busy())
	assert.True(t, StatusGeneratingReport.Busy())
	for _, st := range []Status{StatusReadyForReview, StatusCompleted, StatusCompletedWithWarning, StatusError, StatusCancelled} {
		assert.False(t, st.Busy(), st)
	}
}

func TestStatusResponseFinalOutput(t *testing.T) {
	s := &Session{ID: "a", Status: StatusReadyForReview}
	assert.Nil(t, StatusResponseFromSession(s).FinalOutput)

	s.Status = StatusCompleted
	s.FinalOutput = "# Report"
	resp := StatusResponseFromSession(s)
	require.NotNil(t, resp.FinalOutput)
	assert.Equal(t, "# Report", *resp.FinalOutput)
	assert.Equal(t, "completed", resp.Status)
}

func TestRecordFromSession(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Session{
		ID:           "a",
		Status:       StatusCompletedWithWarning,
		CurrentStage: StageCompletedWithWarning,
		Progress:     1,
		MarkdownPath: "data/a/report.md",
		FinalOutput:  "not mirrored",
		UpdatedAt:    now,
	}
	r := RecordFromSession(s)
	assert.Equal(t, "completed_with_warning", r.Status)
	assert.True(t, r.HasMarkdown)
	assert.False(t, r.HasDocx)
	assert.Equal(t, now, r.UpdatedAt)
}
