package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Damatnic/CoreV6-sub001/internal/consent"
	"github.com/Damatnic/CoreV6-sub001/internal/crisis"
	"github.com/Damatnic/CoreV6-sub001/internal/errs"
	"github.com/Damatnic/CoreV6-sub001/internal/scheduler"
	"github.com/Damatnic/CoreV6-sub001/internal/session"
)

// HTTPHandler exposes the trust-core operations and the admin surface over
// HTTP. Request bodies deliberately mirror the engine option structs.
type HTTPHandler struct {
	logger    *zap.Logger
	crisis    *crisis.Engine
	sessions  *session.Manager
	consents  *consent.Engine
	alerts    crisis.AlertStore
	scheduler *scheduler.Scheduler
}

func NewHTTPHandler(
	logger *zap.Logger,
	crisisEngine *crisis.Engine,
	sessions *session.Manager,
	consents *consent.Engine,
	alerts crisis.AlertStore,
	sched *scheduler.Scheduler,
) *HTTPHandler {
	return &HTTPHandler{
		logger:    logger,
		crisis:    crisisEngine,
		sessions:  sessions,
		consents:  consents,
		alerts:    alerts,
		scheduler: sched,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/detect", h.handleDetect).Methods(http.MethodPost)
	api.HandleFunc("/alerts/stats", h.handleAlertStats).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{alert_id}/handle", h.handleAlertHandled).Methods(http.MethodPost)

	api.HandleFunc("/sessions", h.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/stats", h.handleSessionStats).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{session_id}", h.handleGetSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{session_id}/activity", h.handleActivity).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{session_id}/terminate", h.handleTerminate).Methods(http.MethodPost)

	api.HandleFunc("/consents", h.handleRequestConsent).Methods(http.MethodPost)
	api.HandleFunc("/consents/{consent_id}/grant", h.handleGrant).Methods(http.MethodPost)
	api.HandleFunc("/consents/{consent_id}/deny", h.handleDeny).Methods(http.MethodPost)
	api.HandleFunc("/consents/{consent_id}/withdraw", h.handleWithdraw).Methods(http.MethodPost)
	api.HandleFunc("/users/{user_id}/compliance", h.handleComplianceReport).Methods(http.MethodGet)

	api.HandleFunc("/tasks", h.handleTasks).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Crisis

type detectRequest struct {
	Text        string `json:"text"`
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id,omitempty"`
	Locale      string `json:"locale,omitempty"`
	CountryCode string `json:"country_code,omitempty"`
	Source      string `json:"source,omitempty"`
}

func (h *HTTPHandler) handleDetect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.crisis.Detect(r.Context(), req.Text, req.UserID, crisis.DetectionContext{
		SessionID:   req.SessionID,
		Locale:      req.Locale,
		CountryCode: req.CountryCode,
		Source:      req.Source,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) handleAlertHandled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		HandledBy string `json:"handled_by"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.crisis.HandleAlert(r.Context(), mux.Vars(r)["alert_id"], req.HandledBy); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "handled"})
}

func (h *HTTPHandler) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.alerts.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Sessions

func (h *HTTPHandler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var opts session.CreateOptions
	if !h.decode(w, r, &opts) {
		return
	}
	record, err := h.sessions.Create(r.Context(), opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

func (h *HTTPHandler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	record, err := h.sessions.GetSession(r.Context(), mux.Vars(r)["session_id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	if record == nil {
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

type activityRequest struct {
	Action    string `json:"action"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

func (h *HTTPHandler) handleActivity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if !h.decode(w, r, &req) {
		return
	}
	err := h.sessions.UpdateActivity(r.Context(), mux.Vars(r)["session_id"], req.Action, session.ActivityContext{
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	terminated, err := h.sessions.TerminateSession(r.Context(), mux.Vars(r)["session_id"], req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]bool{"terminated": terminated})
}

func (h *HTTPHandler) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sessions.Stats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Consent

type consentRequest struct {
	UserID         string     `json:"user_id"`
	ConsentType    string     `json:"consent_type"`
	LegalBasis     string     `json:"legal_basis"`
	Purpose        string     `json:"purpose"`
	DataCategories []string   `json:"data_categories"`
	Method         string     `json:"consent_method"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

func (h *HTTPHandler) handleRequestConsent(w http.ResponseWriter, r *http.Request) {
	var req consentRequest
	if !h.decode(w, r, &req) {
		return
	}
	record, err := h.consents.RequestConsent(r.Context(), consent.RequestOptions{
		UserID:         req.UserID,
		Type:           consent.Type(req.ConsentType),
		LegalBasis:     consent.LegalBasis(req.LegalBasis),
		Purpose:        req.Purpose,
		DataCategories: req.DataCategories,
		Method:         req.Method,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, record)
}

func (h *HTTPHandler) handleGrant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"consent_method"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	record, err := h.consents.Grant(r.Context(), mux.Vars(r)["consent_id"], req.Method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

func (h *HTTPHandler) handleDeny(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	record, err := h.consents.Deny(r.Context(), mux.Vars(r)["consent_id"], req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, record)
}

func (h *HTTPHandler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	record, retention, err := h.consents.Withdraw(r.Context(), mux.Vars(r)["consent_id"], req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"consent":   record,
		"retention": retention,
	})
}

func (h *HTTPHandler) handleComplianceReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.consents.Report(r.Context(), mux.Vars(r)["user_id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// Admin

func (h *HTTPHandler) handleTasks(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.scheduler.Tasks())
}

// Helpers

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.KindValidation:
		status = http.StatusBadRequest
	case errs.KindNotFound:
		status = http.StatusNotFound
	case errs.KindConflict:
		status = http.StatusConflict
	case errs.KindSecurityViolation:
		status = http.StatusForbidden
	}
	h.logger.Error("request failed", zap.Error(err))
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}
