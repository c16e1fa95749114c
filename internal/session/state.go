package session

import (
	"fmt"

	"github.com/Lllllllleong/titlereportflow/internal/models"
)

// CanEdit reports whether page text may be overwritten in the given status.
// Pages are still being recorded while the page pipeline runs, so edits are
// refused only then. An edit made during report generation is picked up by
// the next run.
func CanEdit(status models.Status) bool {
	return status != models.StatusProcessing
}

// CanStartReport reports whether a report run may begin from status.
func CanStartReport(status models.Status) bool {
	switch status {
	case models.StatusReadyForReview,
		models.StatusCompleted,
		models.StatusCompletedWithWarning,
		models.StatusError,
		models.StatusCancelled:
		return true
	}
	return false
}

// ReportGuard is a Begin guard that admits a report run.
func ReportGuard(s *models.Session) error {
	if !CanStartReport(s.Status) {
		return fmt.Errorf("%w: report generation cannot start while session is %s", ErrBusy, s.Status)
	}
	if len(s.Pages) == 0 {
		return fmt.Errorf("%w: session has no pages to report on", ErrNoPages)
	}
	return nil
}
