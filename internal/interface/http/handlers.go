package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/coursehub/certification-hub/internal/application/command"
	"github.com/coursehub/certification-hub/internal/application/query"
	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/internal/domain/shared"
	"github.com/coursehub/certification-hub/internal/interface/http/handlers"
	"github.com/coursehub/certification-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"name":    "Certification Hub API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":      "/health",
			"progress":    "/api/v1/courses/{courseID}/progress",
			"attempts":    "/api/v1/courses/{courseID}/attempts",
			"certificate": "/api/v1/courses/{courseID}/certificate",
			"verify":      "/api/v1/certificates/verify/{code}",
		},
	}

	writeJSON(w, r, http.StatusOK, info)
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, r, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, r, http.StatusOK, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.config.Version,
	})
}

// handleReady handles the readiness check endpoint (for Kubernetes).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness check endpoint (for Kubernetes).
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleMarkUnitComplete handles POST /api/v1/courses/{courseID}/units/{unitID}/complete
func (s *Server) handleMarkUnitComplete(w http.ResponseWriter, r *http.Request) {
	if s.deps.MarkUnitComplete == nil {
		writeNotConfigured(w, "mark unit complete")
		return
	}

	result, err := s.deps.MarkUnitComplete.Handle(r.Context(), command.MarkUnitCompleteCommand{
		UserID:   currentUser(r),
		CourseID: r.PathValue("courseID"),
		UnitID:   r.PathValue("unitID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// handleGetProgress handles GET /api/v1/courses/{courseID}/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetProgress == nil {
		writeNotConfigured(w, "progress")
		return
	}

	result, err := s.deps.GetProgress.Handle(r.Context(), courseQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// handleGetStatus handles GET /api/v1/courses/{courseID}/status
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetStatus == nil {
		writeNotConfigured(w, "status")
		return
	}

	status, err := s.deps.GetStatus.Handle(r.Context(), courseQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, status)
}

// ══════════════════════════════════════════════════════════════════════════════
// EXAM HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleStartAttempt handles POST /api/v1/courses/{courseID}/attempts.
// Answers 201 for a new attempt and 200 when an in-progress one is resumed.
func (s *Server) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	if s.deps.StartAttempt == nil {
		writeNotConfigured(w, "start attempt")
		return
	}

	result, err := s.deps.StartAttempt.Handle(r.Context(), command.StartAttemptCommand{
		UserID:   currentUser(r),
		CourseID: r.PathValue("courseID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, r, status, query.NewAttemptView(result.Attempt))
}

// handleGetAttemptHistory handles GET /api/v1/courses/{courseID}/attempts
func (s *Server) handleGetAttemptHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetAttemptHistory == nil {
		writeNotConfigured(w, "attempt history")
		return
	}

	result, err := s.deps.GetAttemptHistory.Handle(r.Context(), courseQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// handleGetAttempt handles GET /api/v1/attempts/{attemptID}
func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetAttempt == nil {
		writeNotConfigured(w, "attempt")
		return
	}

	result, err := s.deps.GetAttempt.Handle(r.Context(), query.GetAttemptQuery{
		AttemptID: r.PathValue("attemptID"),
		UserID:    currentUser(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// handleSaveAnswer handles PUT /api/v1/attempts/{attemptID}/answers/{questionID}.
// The body is {"selected": [...]} for choice questions and {"text": "..."}
// for short answers.
func (s *Server) handleSaveAnswer(w http.ResponseWriter, r *http.Request) {
	if s.deps.SaveAnswer == nil {
		writeNotConfigured(w, "save answer")
		return
	}

	var answer exam.Answer
	if err := json.NewDecoder(r.Body).Decode(&answer); err != nil {
		writeJSONErrorWithDetails(w, http.StatusBadRequest, "invalid_body", "Request body must be a JSON answer", err.Error())
		return
	}

	attempt, err := s.deps.SaveAnswer.Handle(r.Context(), command.SaveAnswerCommand{
		AttemptID:  r.PathValue("attemptID"),
		UserID:     currentUser(r),
		QuestionID: r.PathValue("questionID"),
		Answer:     answer,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, query.NewAttemptView(attempt))
}

// handleSubmitAttempt handles POST /api/v1/attempts/{attemptID}/submit
func (s *Server) handleSubmitAttempt(w http.ResponseWriter, r *http.Request) {
	if s.deps.SubmitAttempt == nil {
		writeNotConfigured(w, "submit attempt")
		return
	}

	attempt, err := s.deps.SubmitAttempt.Handle(r.Context(), command.SubmitAttemptCommand{
		AttemptID: r.PathValue("attemptID"),
		UserID:    currentUser(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	logger.FromContext(r.Context()).Info("attempt submitted",
		logger.AttemptID(attempt.ID),
		logger.CourseID(attempt.CourseID),
		logger.Int("percentage", attempt.Percentage),
		logger.Bool("passed", attempt.Passed),
	)

	writeJSON(w, r, http.StatusOK, query.NewAttemptView(attempt))
}

// ══════════════════════════════════════════════════════════════════════════════
// CERTIFICATE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetCertificate handles GET /api/v1/courses/{courseID}/certificate
func (s *Server) handleGetCertificate(w http.ResponseWriter, r *http.Request) {
	if s.deps.GetCertificate == nil {
		writeNotConfigured(w, "certificate")
		return
	}

	result, err := s.deps.GetCertificate.Handle(r.Context(), courseQuery(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// handleVerifyCertificate handles GET /api/v1/certificates/verify/{code}
func (s *Server) handleVerifyCertificate(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.VerifyCertificate.Handle(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// statusForError maps domain error kinds to HTTP status codes and error codes.
func statusForError(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, shared.ErrTimeout):
		return http.StatusGatewayTimeout, "timeout"
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case shared.IsInvalidState(err):
		return http.StatusConflict, "invalid_state"
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case shared.IsForbidden(err):
		return http.StatusForbidden, "forbidden"
	case shared.IsNotEligible(err):
		return http.StatusForbidden, "not_eligible"
	case shared.IsRenderFailure(err):
		return http.StatusBadGateway, "render_failure"
	case shared.IsStorageFailure(err), errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// writeError writes err as a JSON error response. Server-side failures are
// logged with the full chain; clients only see the domain message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusForError(err)

	message := http.StatusText(status)
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) && status < http.StatusInternalServerError {
		message = domainErr.Message
	}

	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			logger.String("path", r.URL.Path),
			logger.Status(status),
			logger.Err(err),
		)
	}

	writeJSONError(w, status, code, message)
}

// writeNotConfigured answers 501 for endpoints whose handler is not wired.
func writeNotConfigured(w http.ResponseWriter, name string) {
	writeJSONError(w, http.StatusNotImplemented, "not_implemented", name+" handler not configured")
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// currentUser returns the learner id set by the identity middleware.
func currentUser(r *http.Request) string {
	userID, _ := handlers.UserIDFromContext(r.Context())
	return userID
}

// courseQuery builds the (user, course) key from the request.
func courseQuery(r *http.Request) query.GetProgressQuery {
	return query.GetProgressQuery{
		UserID:   currentUser(r),
		CourseID: r.PathValue("courseID"),
	}
}
