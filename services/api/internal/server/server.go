package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"wellnest/internal/metrics"
	"wellnest/internal/ratelimit"
	"wellnest/internal/util"
	"wellnest/pkg/domain"
	"wellnest/services/api/internal/app"
	"wellnest/services/api/internal/security"
)

const maxBodyBytes = 1 << 20

// Profile pictures may arrive as data: URLs, so profile updates get more room.
const maxProfileBodyBytes = 8 << 20

// Config wires required dependencies for the HTTP server.
type Config struct {
	App             *app.App
	LoginLimiter    ratelimit.Limiter
	SignupLimiter   ratelimit.Limiter
	TrustedProxies  *util.TrustedProxies
	FrontendOrigins []string
	Alerter         *security.Alerter
}

// Server exposes the WellNest HTTP API.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	loginLimiter   ratelimit.Limiter
	signupLimiter  ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	origins        []string
	alerter        *security.Alerter
}

// New constructs the server with routes configured. Nil limiters disable
// rate limiting for that route.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server: app is required")
	}
	s := &Server{
		app:            cfg.App,
		mux:            http.NewServeMux(),
		loginLimiter:   cfg.LoginLimiter,
		signupLimiter:  cfg.SignupLimiter,
		trustedProxies: cfg.TrustedProxies,
		origins:        cfg.FrontendOrigins,
		alerter:        cfg.Alerter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRecover(util.WithRequestID(util.WithRequestLog("api",
		util.WithSecurityHeaders(util.WithCORS(s.origins, metrics.InstrumentHandler(s.mux))))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	// auth
	s.mux.HandleFunc("POST /api/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/signup", s.handleSignup)
	s.mux.Handle("POST /api/logout", s.authenticated(s.handleLogout))

	// user
	s.mux.Handle("GET /api/user", s.authenticated(s.handleGetUser))
	s.mux.Handle("PATCH /api/user", s.authenticated(s.handleUpdateUser))
	s.mux.Handle("PUT /api/user", s.authenticated(s.handleUpdateUser))

	// journal
	s.mux.Handle("GET /api/journal", s.authenticated(s.handleListEntries))
	s.mux.Handle("POST /api/journal", s.authenticated(s.handleAddEntry))
	s.mux.Handle("GET /api/journal/export", s.authenticated(s.handleExportEntries))
	s.mux.Handle("POST /api/analyze", s.authenticated(s.handleAnalyze))

	// payments; /api/intasend is the path older web clients call
	for _, prefix := range []string{"/api/payment", "/api/intasend"} {
		s.mux.HandleFunc("POST "+prefix+"/initialize", s.handleCheckoutInitialize)
		s.mux.HandleFunc("GET "+prefix+"/verify/{reference}", s.handleCheckoutVerify)
		s.mux.HandleFunc("POST "+prefix+"/webhook", s.handleWebhook)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, string)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "authorize", "failure", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, app.ErrUnauthorized.Error())
			return
		}
		userID, err := s.app.UserIDFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, app.ErrUnauthorized) {
				s.audit(r, "authorize", "failure", "reason", "invalid_token")
			}
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, userID)
	})
}

type authRequest struct {
	Email    string `json:"email"`
	Pass     string `json:"pass"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (req authRequest) password() string {
	if req.Pass != "" {
		return req.Pass
	}
	return req.Password
}

type authResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.loginLimiter) {
		s.audit(r, "login", "rate_limited")
		return
	}
	var req authRequest
	if err := decodeJSON(r, maxBodyBytes, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Email, req.password())
	if err != nil {
		if errors.Is(err, app.ErrInvalidCredentials) {
			s.audit(r, "login", "failure", "reason", "invalid_credentials")
		}
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if !s.allowRate(w, r, s.signupLimiter) {
		s.audit(r, "signup", "rate_limited")
		return
	}
	var req authRequest
	if err := decodeJSON(r, maxBodyBytes, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	user, token, err := s.app.SignUp(r.Context(), req.Email, req.password(), req.Name)
	if err != nil {
		if errors.Is(err, app.ErrEmailAlreadyExists) {
			s.audit(r, "signup", "failure", "reason", "email_exists")
		}
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "signup", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{Token: token, User: user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, userID string) {
	token, _ := bearerToken(r)
	if err := s.app.Logout(r.Context(), token); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "logout", "success", "user_id", userID)
	w.WriteHeader(http.StatusNoContent)
}

// user handlers
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := s.app.GetUser(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type profileRequest struct {
	Name           *string `json:"name"`
	IsPremium      *bool   `json:"isPremium"`
	ProfilePicture *string `json:"profilePicture"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request, userID string) {
	var req profileRequest
	if err := decodeJSON(r, maxProfileBodyBytes, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	user, err := s.app.UpdateProfile(r.Context(), userID, app.ProfileUpdate{
		Name:           req.Name,
		IsPremium:      req.IsPremium,
		ProfilePicture: req.ProfilePicture,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// journal handlers
func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request, userID string) {
	entries, err := s.app.ListEntries(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type entryRequest struct {
	Content  *string          `json:"content"`
	Analysis *domain.Analysis `json:"analysis"`
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request, userID string) {
	var req entryRequest
	if err := decodeJSON(r, maxBodyBytes, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	entry, err := s.app.AddEntry(r.Context(), userID, req.Content, req.Analysis)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleExportEntries(w http.ResponseWriter, r *http.Request, userID string) {
	text, err := s.app.ExportEntries(r.Context(), userID)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="wellnest-journal.txt"`)
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, text)
}

type analyzeRequest struct {
	Text    string `json:"text"`
	Content string `json:"content"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, userID string) {
	var req analyzeRequest
	if err := decodeJSON(r, maxBodyBytes, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	text := req.Text
	if text == "" {
		text = req.Content
	}
	analysis, err := s.app.Analyze(r.Context(), userID, text)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

// payment handlers
type checkoutRequest struct {
	Email       string          `json:"email"`
	Amount      json.RawMessage `json:"amount"`
	RedirectURL string          `json:"redirect_url"`
}

func (s *Server) handleCheckoutInitialize(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, maxBodyBytes, &req); err != nil {
		s.writeAppError(w, r, err)
		return
	}
	resp, err := s.app.InitializeCheckout(r.Context(), app.CheckoutInput{
		Email:       req.Email,
		Amount:      req.Amount,
		RedirectURL: req.RedirectURL,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeRaw(w, resp.Status, resp.Body)
}

func (s *Server) handleCheckoutVerify(w http.ResponseWriter, r *http.Request) {
	resp, err := s.app.VerifyPayment(r.Context(), r.PathValue("reference"))
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeRaw(w, resp.Status, resp.Body)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeAppError(w, r, app.ErrInvalidJSON)
		return
	}
	if err := s.app.HandleWebhook(r.Context(), body); err != nil {
		if errors.Is(err, app.ErrInvalidWebhook) {
			s.audit(r, "payment_webhook", "failure", "reason", "challenge_mismatch")
		}
		s.writeAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{app.ErrInvalidJSON, http.StatusBadRequest},
	{app.ErrEmailAndPasswordRequired, http.StatusBadRequest},
	{app.ErrPasswordTooLong, http.StatusBadRequest},
	{app.ErrContentRequired, http.StatusBadRequest},
	{app.ErrInvalidProfilePicture, http.StatusBadRequest},
	{app.ErrTextRequired, http.StatusBadRequest},
	{app.ErrEmailAndAmountRequired, http.StatusBadRequest},
	{app.ErrInvalidCredentials, http.StatusUnauthorized},
	{app.ErrUnauthorized, http.StatusUnauthorized},
	{app.ErrInvalidWebhook, http.StatusUnauthorized},
	{app.ErrUserNotFound, http.StatusNotFound},
	{app.ErrEmailAlreadyExists, http.StatusConflict},
	{app.ErrAnalysisDisabled, http.StatusServiceUnavailable},
	{app.ErrPaymentsDisabled, http.StatusServiceUnavailable},
}

// writeAppError is the single translation point from app errors to HTTP.
// Sentinels answer with their own message, never with wrapped detail.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			writeError(w, m.status, m.err.Error())
			return
		}
	}

	var upErr *app.UpstreamError
	if errors.As(err, &upErr) {
		msg := "Payment provider request failed"
		if upErr.Service == "gemini" {
			msg = "Failed to analyze text"
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": msg, "details": string(upErr.Body)})
		return
	}
	var parseErr *app.ParseError
	if errors.As(err, &parseErr) {
		util.LoggerFromContext(r.Context()).Error("analysis reply unparseable", "upstream", "gemini", "err", parseErr.Err)
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":   "Parsing Gemini response failed",
			"details": parseErr.Err.Error(),
			"raw":     string(parseErr.Raw),
		})
		return
	}

	util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	ip := util.ClientIP(r, s.trustedProxies)
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", ip,
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)

	result, err := s.alerter.Observe(r.Context(), event, outcome, ip)
	if err != nil {
		logger.Warn("security alert counter failed", "event", event, "err", err)
		return
	}
	if result.Triggered {
		metrics.SecurityAlert(event, outcome)
		logger.Error("security_alert",
			"event", event,
			"outcome", outcome,
			"ip", ip,
			"count", result.Count,
			"threshold", result.Threshold,
			"window", result.Window.String(),
		)
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trustedProxies)
	ok, retryAfter := limiter.Allow(r.Context(), key)
	if ok {
		return true
	}
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
	return false
}

func decodeJSON(r *http.Request, limit int64, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, limit)).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", app.ErrInvalidJSON, err)
	}
	return nil
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeRaw relays an upstream reply unchanged.
func writeRaw(w http.ResponseWriter, status int, body []byte) {
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
