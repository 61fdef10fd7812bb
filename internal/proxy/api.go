package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/case-sentinel/internal/audit"
	"github.com/raaihank/case-sentinel/internal/privacy"
	"github.com/raaihank/case-sentinel/internal/session"
	"github.com/raaihank/case-sentinel/internal/validator"
	"github.com/raaihank/case-sentinel/internal/websocket"
)

type textRequest struct {
	Text string `json:"text"`
}

type structuredRequest struct {
	Data json.RawMessage `json:"data"`
}

type structuredResponse struct {
	Data   privacy.Value   `json:"data"`
	Result *privacy.Result `json:"result"`
}

type restoreRequest struct {
	Text      string          `json:"text"`
	Data      json.RawMessage `json:"data,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Mappings  []privacy.Match `json:"mappings,omitempty"`
}

type verifyRequest struct {
	Original   string          `json:"original"`
	Anonymized string          `json:"anonymized"`
	Mappings   []privacy.Match `json:"mappings"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body := r.Body
	if s.config.Server.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// validationStatus maps validator errors to HTTP status codes
func validationStatus(err error) int {
	if errors.Is(err, validator.ErrPromptInjection) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusBadRequest
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	text, err := s.validator.Validate(req.Text)
	if err != nil {
		writeError(w, validationStatus(err), err.Error())
		return
	}

	res := s.anonymizer.AnonymizeText(text)
	if err := s.sessions.Save(r.Context(), res); err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to save session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store session")
		return
	}

	s.afterAnonymize(r, audit.OpAnonymize, res, start)
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnonymizeStructured(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req structuredRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}
	v, err := privacy.ParseJSON(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid data")
		return
	}
	if err := s.validator.Screen(v.Strings()...); err != nil {
		writeError(w, validationStatus(err), err.Error())
		return
	}

	out, res := s.anonymizer.AnonymizeValue(v)
	if err := s.sessions.Save(r.Context(), res); err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to save session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store session")
		return
	}

	s.afterAnonymize(r, audit.OpAnonymizeStructured, res, start)
	writeJSON(w, http.StatusOK, structuredResponse{Data: out, Result: res})
}

// mappingsFor resolves the mappings of a restore request, preferring
// explicit mappings over a stored session
func (s *Server) mappingsFor(w http.ResponseWriter, r *http.Request, req restoreRequest) ([]privacy.Match, bool) {
	if len(req.Mappings) > 0 {
		return req.Mappings, true
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "session_id or mappings is required")
		return nil, false
	}
	res, err := s.sessions.Load(r.Context(), req.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found or expired")
		return nil, false
	}
	if err != nil {
		s.logger.WithRequestID(getRequestID(r.Context())).Error("Failed to load session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return res.Mappings, true
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req restoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	mappings, ok := s.mappingsFor(w, r, req)
	if !ok {
		return
	}

	restored := privacy.RestoreText(req.Text, mappings)
	s.afterRestore(r, req.SessionID, len(mappings), start)
	writeJSON(w, http.StatusOK, map[string]string{"text": restored})
}

func (s *Server) handleRestoreStructured(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req restoreRequest
	if !s.decode(w, r, &req) {
		return
	}
	if len(req.Data) == 0 {
		writeError(w, http.StatusBadRequest, "data is required")
		return
	}
	v, err := privacy.ParseJSON(req.Data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid data")
		return
	}
	mappings, ok := s.mappingsFor(w, r, req)
	if !ok {
		return
	}

	restored := privacy.RestoreValue(v, mappings)
	s.afterRestore(r, req.SessionID, len(mappings), start)
	writeJSON(w, http.StatusOK, map[string]privacy.Value{"data": restored})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !s.decode(w, r, &req) {
		return
	}

	report := s.auditor.Verify(req.Original, req.Anonymized, req.Mappings)

	requestID := getRequestID(r.Context())
	issues := make([]string, 0, len(report.Issues))
	event := audit.NewEvent(audit.OpVerify, requestID, nil)
	event.TotalCount = len(report.Issues)
	for _, issue := range report.Issues {
		issues = append(issues, string(issue.Kind))
		event.Counts[string(issue.Kind)]++
		s.metrics.VerificationIssues.WithLabelValues(string(issue.Kind)).Inc()
	}
	s.record(r.Context(), event)
	s.metrics.Operations.WithLabelValues(string(audit.OpVerify)).Inc()

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeVerification,
		RequestID: requestID,
		Data: websocket.VerificationEvent{
			RequestID: requestID,
			Kind:      "verify",
			Valid:     report.IsValid,
			Issues:    issues,
		},
	})
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	text, err := s.validator.Validate(req.Text)
	if err != nil {
		writeError(w, validationStatus(err), err.Error())
		return
	}
	s.metrics.Operations.WithLabelValues("detect").Inc()
	writeJSON(w, http.StatusOK, s.anonymizer.Preview(text))
}

func (s *Server) handleRegression(w http.ResponseWriter, r *http.Request) {
	report := s.auditor.RunRegressionSuite()
	s.metrics.RegressionAccuracy.Set(report.Accuracy)
	s.metrics.Operations.WithLabelValues("regression").Inc()

	requestID := getRequestID(r.Context())
	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeVerification,
		RequestID: requestID,
		Data: websocket.VerificationEvent{
			RequestID: requestID,
			Kind:      "regression",
			Valid:     report.Failed == 0,
			Accuracy:  report.Accuracy,
		},
	})
	writeJSON(w, http.StatusOK, report)
}

// afterAnonymize records the audit event, metrics and live event of one
// anonymization. None of them carry original values.
func (s *Server) afterAnonymize(r *http.Request, op audit.Operation, res *privacy.Result, start time.Time) {
	requestID := getRequestID(r.Context())

	s.record(r.Context(), audit.NewEvent(op, requestID, res))
	s.metrics.ObserveDetections(string(op), countsByKey(res.Mappings))

	s.logger.WithRequestID(requestID).WithSession(res.SessionID).Info("Anonymization completed",
		zap.String("operation", string(op)),
		zap.Int("pii_count", res.Stats.TotalCount),
	)

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeAnonymization,
		RequestID: requestID,
		Data: websocket.AnonymizationEvent{
			RequestID:       requestID,
			SessionID:       res.SessionID,
			Operation:       string(op),
			Path:            r.URL.Path,
			ClientIP:        websocket.ClientIP(r),
			TotalCount:      res.Stats.TotalCount,
			CountByCategory: res.Stats.CountByCategory,
			ProcessingMS:    float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

func (s *Server) afterRestore(r *http.Request, sessionID string, mappings int, start time.Time) {
	requestID := getRequestID(r.Context())

	event := audit.NewEvent(audit.OpRestore, requestID, nil)
	event.SessionID = sessionID
	event.TotalCount = mappings
	s.record(r.Context(), event)
	s.metrics.Operations.WithLabelValues(string(audit.OpRestore)).Inc()

	s.wsHub.BroadcastEvent(websocket.Event{
		Type:      websocket.EventTypeRestoration,
		RequestID: requestID,
		Data: websocket.RestorationEvent{
			RequestID:    requestID,
			SessionID:    sessionID,
			Path:         r.URL.Path,
			Mappings:     mappings,
			ProcessingMS: float64(time.Since(start).Microseconds()) / 1000,
		},
	})
}

// record stores an audit event. A failing audit store is logged but does
// not fail the request.
func (s *Server) record(ctx context.Context, e *audit.Event) {
	if err := s.recorder.Record(ctx, e); err != nil {
		s.logger.WithRequestID(e.RequestID).Error("Failed to record audit event",
			zap.String("operation", string(e.Operation)),
			zap.Error(err),
		)
	}
}

func countsByKey(mappings []privacy.Match) map[string]int {
	counts := make(map[string]int)
	for _, m := range mappings {
		counts[m.Category.String()]++
	}
	return counts
}
