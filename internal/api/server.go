package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Kerhoff/tripbot/internal/apperr"
	"github.com/Kerhoff/tripbot/internal/repository"
	"github.com/Kerhoff/tripbot/internal/service"
)

// UserHeader carries the acting user's ID. The API sits behind a gateway
// that authenticates callers and sets it.
const UserHeader = "X-User-ID"

// Server provides the HTTP API.
type Server struct {
	svc    *service.Service
	logger *logrus.Logger
	mux    *http.ServeMux
}

// NewServer creates a Server, registers all routes, and returns it.
func NewServer(svc *service.Service, logger *logrus.Logger) *Server {
	s := &Server{svc: svc, logger: logger, mux: http.NewServeMux()}
	s.routes()
	return s
}

// Handler returns the http.Handler that can be passed to http.Server.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// ---------------------------------------------------------------------------
// Routes
// ---------------------------------------------------------------------------

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	// Plans
	s.mux.HandleFunc("GET /api/plans", s.withUser(s.handleDiscover))
	s.mux.HandleFunc("POST /api/plans", s.withUser(s.handleCreatePlan))
	s.mux.HandleFunc("GET /api/plans/current", s.withUser(s.handleCurrentPlan))
	s.mux.HandleFunc("GET /api/plans/history", s.withUser(s.handleHistory))
	s.mux.HandleFunc("GET /api/plans/{id}", s.withUser(s.handleGetPlan))
	s.mux.HandleFunc("GET /api/plans/{id}/members", s.withUser(s.handleMembers))
	s.mux.HandleFunc("GET /api/plans/{id}/pending", s.withUser(s.handlePending))

	// Owner actions
	s.mux.HandleFunc("POST /api/plans/{id}/start", s.withUser(s.handleStart))
	s.mux.HandleFunc("POST /api/plans/{id}/complete", s.withUser(s.handleComplete))
	s.mux.HandleFunc("POST /api/plans/{id}/cancel", s.withUser(s.handleCancel))
	s.mux.HandleFunc("POST /api/plans/{id}/invitations", s.withUser(s.handleInvite))
	s.mux.HandleFunc("POST /api/plans/{id}/applications/{userID}", s.withUser(s.handleDecideApplication))

	// Membership
	s.mux.HandleFunc("POST /api/plans/{id}/apply", s.withUser(s.handleApply))
	s.mux.HandleFunc("POST /api/plans/{id}/withdraw", s.withUser(s.handleWithdraw))
	s.mux.HandleFunc("POST /api/plans/{id}/invitation", s.withUser(s.handleRespondInvitation))

	// Users
	s.mux.HandleFunc("PUT /api/me/email", s.withUser(s.handleSetEmail))
	s.mux.HandleFunc("GET /api/me/notifications", s.withUser(s.handleNotifications))
}

// ---------------------------------------------------------------------------
// JSON helpers
// ---------------------------------------------------------------------------

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			s.logger.WithError(err).Error("failed to encode JSON response")
		}
	}
}

type errorBody struct {
	Error   string      `json:"error"`
	Kind    apperr.Kind `json:"kind"`
	Reason  string      `json:"reason,omitempty"`
	Details any         `json:"details,omitempty"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperr.KindInternal {
		s.logger.WithError(err).Error("request failed")
		s.respondJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Kind: apperr.KindInternal})
		return
	}
	s.respondJSON(w, appErr.Kind.HTTPStatus(), errorBody{
		Error:   appErr.Message,
		Kind:    appErr.Kind,
		Reason:  appErr.Reason,
		Details: appErr.Details,
	})
}

// decodeJSON reads the request body into dst.
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return apperr.Validation("request body is empty", nil)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return apperr.Validation(fmt.Sprintf("invalid JSON: %v", err), nil)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for bodies that may be omitted.
func decodeOptionalJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(r, dst)
}

// pathID extracts a path value and converts it to int64.
func pathID(r *http.Request, name string) (int64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation(name+" must be a positive integer", map[string]string{name: raw})
	}
	return id, nil
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID int64)

// withUser requires the acting user header.
func (s *Server) withUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(UserHeader)
		userID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || userID <= 0 {
			s.respondJSON(w, http.StatusUnauthorized, errorBody{
				Error: UserHeader + " header is required",
				Kind:  apperr.KindForbidden,
			})
			return
		}
		next(w, r, userID)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}

func filtersFrom(r *http.Request) repository.PlanFilters {
	q := r.URL.Query()
	f := repository.PlanFilters{Destination: q.Get("destination"), Keyword: q.Get("q")}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		f.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		f.Offset = v
	}
	return f
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.logger.WithError(err).Warn("health check failed")
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ---------------------------------------------------------------------------
// Plans
// ---------------------------------------------------------------------------

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request, userID int64) {
	plans, err := s.svc.ListDiscoverable(r.Context(), userID, filtersFrom(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plans)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request, userID int64) {
	var in service.CreatePlanInput
	if err := decodeJSON(r, &in); err != nil {
		s.respondError(w, err)
		return
	}
	plan, err := s.svc.CreatePlan(r.Context(), userID, in)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, plan)
}

func (s *Server) handleCurrentPlan(w http.ResponseWriter, r *http.Request, userID int64) {
	d, err := s.svc.CurrentPlan(r.Context(), userID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if d == nil {
		s.respondError(w, apperr.New(apperr.KindNotFound, "NO_CURRENT_PLAN", "no current travel plan"))
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, userID int64) {
	plans, err := s.svc.HistoryPlans(r.Context(), userID, filtersFrom(r))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plans)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	d, err := s.svc.GetPlan(r.Context(), userID, planID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, d)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	members, err := s.svc.ListMembers(r.Context(), userID, planID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, members)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	pending, err := s.svc.ListPending(r.Context(), userID, planID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, pending)
}

// ---------------------------------------------------------------------------
// Owner actions
// ---------------------------------------------------------------------------

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	plan, err := s.svc.StartPlan(r.Context(), userID, planID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	plan, err := s.svc.CompletePlan(r.Context(), userID, planID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req cancelRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	plan, err := s.svc.CancelPlan(r.Context(), userID, planID, req.Reason)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, plan)
}

type inviteRequest struct {
	UserID int64  `json:"user_id"`
	Handle string `json:"handle"` // @username or email
}

func (s *Server) handleInvite(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req inviteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	inviteeID := req.UserID
	if inviteeID == 0 {
		invitee, err := s.svc.FindUser(r.Context(), req.Handle)
		if err != nil {
			s.respondError(w, err)
			return
		}
		inviteeID = invitee.ID
	}

	m, err := s.svc.Invite(r.Context(), userID, planID, inviteeID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, m)
}

type decisionRequest struct {
	Decision string `json:"decision"`
	Message  string `json:"message"`
}

func (s *Server) handleDecideApplication(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	applicantID, err := pathID(r, "userID")
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	decision, err := service.ParseDecision(req.Decision)
	if err != nil {
		s.respondError(w, err)
		return
	}

	m, err := s.svc.HandleApplication(r.Context(), userID, planID, applicantID, decision, req.Message)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

// ---------------------------------------------------------------------------
// Membership
// ---------------------------------------------------------------------------

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	m, err := s.svc.Apply(r.Context(), userID, planID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, m)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	m, err := s.svc.CancelApplication(r.Context(), userID, planID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

func (s *Server) handleRespondInvitation(w http.ResponseWriter, r *http.Request, userID int64) {
	planID, err := pathID(r, "id")
	if err != nil {
		s.respondError(w, err)
		return
	}
	var req decisionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	decision, err := service.ParseDecision(req.Decision)
	if err != nil {
		s.respondError(w, err)
		return
	}

	m, err := s.svc.HandleInvitation(r.Context(), userID, planID, decision, req.Message)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

type emailRequest struct {
	Email string `json:"email"`
}

func (s *Server) handleSetEmail(w http.ResponseWriter, r *http.Request, userID int64) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	user, err := s.svc.SetEmail(r.Context(), userID, req.Email)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request, userID int64) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := s.svc.RecentNotifications(r.Context(), userID, limit)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}
