package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"civic-issue-tracker/pkg/middleware"
	"civic-issue-tracker/pkg/response"
	"civic-issue-tracker/services/report-service/lifecycle"
)

var statusByKind = map[lifecycle.Kind]int{
	lifecycle.KindNotFound:          http.StatusNotFound,
	lifecycle.KindInvalidTransition: http.StatusConflict,
	lifecycle.KindUnmetPrerequisite: http.StatusUnprocessableEntity,
	lifecycle.KindValidation:        http.StatusBadRequest,
	lifecycle.KindConflict:          http.StatusConflict,
	lifecycle.KindStorage:           http.StatusInternalServerError,
}

var prerequisiteHints = map[lifecycle.Prerequisite]string{
	lifecycle.PrereqDepartment:       "no department assigned; assign one first",
	lifecycle.PrereqOfficer:          "no officer assigned; assign one before starting work",
	lifecycle.PrereqNoOpenAppeals:    "the report has open appeals; review them before closing",
	lifecycle.PrereqAppealableStatus: "the report is not in a state that can be appealed",
	lifecycle.PrereqReworkReachable:  "rework cannot be ordered from the report's current status",
}

// writeEngineError renders err with the HTTP status of its kind and a message
// the client can act on.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	kind := lifecycle.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		status = http.StatusInternalServerError
	}

	if kind == lifecycle.KindStorage {
		h.logger.Error("storage failure",
			zap.String("trace_id", middleware.GetTraceID(r)),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		response.ErrorWithDetails(w, status, "Internal server error", "", map[string]any{"kind": kind})
		return
	}

	response.ErrorWithDetails(w, status, userMessage(err), err.Error(), lifecycle.DetailsOf(err))
}

func userMessage(err error) string {
	var (
		notFound   *lifecycle.NotFoundError
		transition *lifecycle.TransitionError
		prereq     *lifecycle.PrerequisiteError
		validation *lifecycle.ValidationError
	)
	switch {
	case errors.As(err, &notFound):
		return fmt.Sprintf("%s %d not found", notFound.Resource, notFound.ID)
	case errors.As(err, &transition):
		if errors.Is(err, lifecycle.ErrNoOpTransition) {
			return fmt.Sprintf("%s is already %s", transition.Machine, transition.To)
		}
		return fmt.Sprintf("cannot move %s from %s to %s", transition.Machine, transition.From, transition.To)
	case errors.As(err, &prereq):
		hints := make([]string, 0, len(prereq.Missing))
		for _, p := range prereq.Missing {
			if hint, ok := prerequisiteHints[p]; ok {
				hints = append(hints, hint)
			} else {
				hints = append(hints, string(p))
			}
		}
		return strings.Join(hints, "; ")
	case errors.As(err, &validation):
		return validation.Error()
	case errors.Is(err, lifecycle.ErrConflict):
		return "the record was modified by someone else; reload and try again"
	}
	return "Internal server error"
}
