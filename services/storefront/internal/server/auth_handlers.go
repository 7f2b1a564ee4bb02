package server

import (
	"net/http"

	"bananastore/internal/util"
	"bananastore/pkg/domain"
	"bananastore/services/storefront/internal/apperr"
	"bananastore/services/storefront/internal/authflow"
	"bananastore/services/storefront/internal/security"
)

type credentialsRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	ConnectDiscord bool   `json:"connectDiscord"`
}

type verifyOTPRequest struct {
	OTPToken string `json:"otpToken"`
	Code     string `json:"code"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type authStateResponse struct {
	Flow authflow.Flow `json:"flow"`
	User *domain.User  `json:"user,omitempty"`
}

// flowErrorResponse carries the flow alongside the error so the form can
// re-render the step it is on.
type flowErrorResponse struct {
	Error string         `json:"error"`
	Flow  *authflow.Flow `json:"flow,omitempty"`
}

func writeFlowError(w http.ResponseWriter, r *http.Request, err error, flow authflow.Flow) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		util.LoggerFromContext(r.Context()).Error("auth flow failed", "path", r.URL.Path, "err", err)
	}
	resp := flowErrorResponse{Error: apperr.UserMessage(err)}
	if flow.State != "" {
		resp.Flow = &flow
	}
	writeJSON(w, status, resp)
}

// finishFlow writes a flow result and records the audit event.
func (s *Server) finishFlow(w http.ResponseWriter, r *http.Request, event string, res authflow.Result, err error) {
	if err != nil {
		s.audit(r, event, security.OutcomeFail, "reason", apperr.UserMessage(err))
		writeFlowError(w, r, err, res.Flow)
		return
	}
	attrs := []any{"state", string(res.Flow.State)}
	if res.User != nil {
		if !s.signedIn(w, r, event) {
			writeError(w, http.StatusInternalServerError, "session unavailable")
			return
		}
		attrs = append(attrs, "user_id", res.User.ID)
	}
	s.audit(r, event, security.OutcomeSuccess, attrs...)
	writeJSON(w, http.StatusOK, res)
}

// signedIn rotates the session id after a completed sign-in. On failure the
// old session is signed out.
func (s *Server) signedIn(w http.ResponseWriter, r *http.Request, event string) bool {
	err := s.rotateSession(w, r)
	if err == nil {
		return true
	}
	util.LoggerFromContext(r.Context()).Error("session rotation failed", "event", event, "err", err)
	if signOutErr := s.users.SignOut(r.Context(), sessionScope(r)); signOutErr != nil {
		util.LoggerFromContext(r.Context()).Error("sign out after failed rotation", "err", signOutErr)
	}
	s.audit(r, event, security.OutcomeFail, "reason", "session_rotation")
	return false
}

func (s *Server) handleAuthState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	scope := sessionScope(r)
	flow, err := s.auth.State(r.Context(), scope)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	user, err := s.users.Current(r.Context(), scope)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authStateResponse{Flow: flow, User: user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", security.OutcomeRateLimited)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.login", security.OutcomeFail, "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.auth.Login(r.Context(), sessionScope(r), req.Email, req.Password, req.ConnectDiscord)
	s.finishFlow(w, r, "auth.login", res, err)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.registerLimiter, "too many signup attempts") {
		s.audit(r, "auth.register", security.OutcomeRateLimited)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.register", security.OutcomeFail, "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.auth.Register(r.Context(), sessionScope(r), req.Email, req.Password)
	s.finishFlow(w, r, "auth.register", res, err)
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.verifyOTPLimiter, "too many verification attempts") {
		s.audit(r, "auth.verify_otp", security.OutcomeRateLimited)
		return
	}
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		s.audit(r, "auth.verify_otp", security.OutcomeFail, "reason", "invalid_json")
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.auth.VerifyOTP(r.Context(), sessionScope(r), req.OTPToken, req.Code)
	s.finishFlow(w, r, "auth.verify_otp", res, err)
}

func (s *Server) handleAuthMode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req modeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	mode, ok := authflow.ParseMode(req.Mode)
	if !ok {
		writeError(w, http.StatusBadRequest, "mode must be login or register")
		return
	}
	flow, err := s.auth.SetMode(r.Context(), sessionScope(r), mode)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authStateResponse{Flow: flow})
}

func (s *Server) handleAuthReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	flow, err := s.auth.Reset(r.Context(), sessionScope(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, authStateResponse{Flow: flow})
}

// handleLogout drops the user and any in-progress flow, then moves the
// browser to a fresh session so old cart and chat state is left behind.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	scope := sessionScope(r)
	ctx := r.Context()
	if err := s.users.SignOut(ctx, scope); err != nil {
		writeAppError(w, r, err)
		return
	}
	if _, err := s.auth.Reset(ctx, scope); err != nil {
		util.LoggerFromContext(ctx).Warn("auth flow reset on logout failed", "err", err)
	}
	if err := s.checkout.Close(ctx, scope); err != nil {
		util.LoggerFromContext(ctx).Warn("checkout close on logout failed", "err", err)
	}
	if _, err := s.startSession(w); err != nil {
		writeAppError(w, r, err)
		return
	}
	s.audit(r, "auth.logout", security.OutcomeSuccess)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiscordStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res, err := s.auth.Connect(r.Context(), sessionScope(r))
	s.finishFlow(w, r, "auth.discord.start", res, err)
}

func (s *Server) handleDiscordConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.loginLimiter, "too many login attempts") {
		s.audit(r, "auth.login", security.OutcomeRateLimited)
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := s.auth.ConnectFromSignIn(r.Context(), sessionScope(r), req.Email, req.Password)
	s.finishFlow(w, r, "auth.login", res, err)
}

func (s *Server) handleDiscordDismiss(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	res, err := s.auth.Dismiss(r.Context(), sessionScope(r))
	s.finishFlow(w, r, "auth.discord.dismiss", res, err)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	user, err := s.users.Current(r.Context(), sessionScope(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleAuthCallback is the Discord return page for links started from the
// sign-in form. The outcome is read back through /api/auth/state.
func (s *Server) handleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	cb, ok := authflow.ParseCallback(r.URL.Query())
	if !ok {
		s.redirectFrontend(w, r, "/auth")
		return
	}
	res, err := s.auth.Resume(r.Context(), sessionScope(r), authflow.OriginAuth, cb, nil)
	if err != nil {
		s.audit(r, "auth.discord.resume", security.OutcomeFail, "status", cb.Status, "reason", apperr.UserMessage(err))
		s.redirectFrontend(w, r, "/auth")
		return
	}
	if res.User != nil {
		if !s.signedIn(w, r, "auth.discord.resume") {
			s.redirectFrontend(w, r, "/auth")
			return
		}
		s.audit(r, "auth.discord.resume", security.OutcomeSuccess, "user_id", res.User.ID)
		s.redirectFrontend(w, r, "/dashboard")
		return
	}
	s.audit(r, "auth.discord.resume", security.OutcomeFail, "status", cb.Status)
	s.redirectFrontend(w, r, "/auth")
}

// handleDashboardCallback is the Discord return page for links started from
// the dashboard. Failures are shown once on the next dashboard load.
func (s *Server) handleDashboardCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	cb, ok := authflow.ParseCallback(r.URL.Query())
	if !ok {
		s.redirectFrontend(w, r, "/dashboard")
		return
	}
	ctx := r.Context()
	scope := sessionScope(r)
	current, err := s.users.Current(ctx, scope)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if current == nil {
		s.redirectFrontend(w, r, "/auth")
		return
	}
	res, err := s.auth.Resume(ctx, scope, authflow.OriginDashboard, cb, current)
	if err != nil {
		s.audit(r, "auth.discord.resume", security.OutcomeFail, "status", cb.Status, "user_id", current.ID, "reason", apperr.UserMessage(err))
		if notifyErr := s.dashboard.Notify(ctx, scope, apperr.UserMessage(err)); notifyErr != nil {
			util.LoggerFromContext(ctx).Warn("dashboard notice write failed", "err", notifyErr)
		}
	} else {
		s.audit(r, "auth.discord.resume", security.OutcomeSuccess, "user_id", current.ID, "linked", res.User != nil)
	}
	s.redirectFrontend(w, r, "/dashboard")
}
