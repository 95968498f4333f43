package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"crop-planner/internal/auth"
	"crop-planner/internal/cache"
	"crop-planner/internal/config"
	"crop-planner/internal/models"
	"crop-planner/internal/predict"
	"crop-planner/internal/telemetry"
	"crop-planner/internal/theme"
)

// Messages shown on the login screen.
const (
	msgMissingCredentials = "Please enter both email and password."
	msgGoogleFailed       = "Google sign-in failed."
)

type Predictor interface {
	Predict(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResult, error)
}

type RateLimiter interface {
	IsRateLimited(ctx context.Context, key string, maxRequests int) bool
}

type Handler struct {
	cfg      *config.Config
	sessions *auth.Sessions
	svc      Predictor
	store    cache.Store
	limiter  RateLimiter
	views    *views

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewHandler wires the screens. limiter may be nil.
func NewHandler(cfg *config.Config, sessions *auth.Sessions, svc Predictor, store cache.Store, limiter RateLimiter) (*Handler, error) {
	v, err := newViews()
	if err != nil {
		return nil, err
	}
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		svc:      svc,
		store:    store,
		limiter:  limiter,
		views:    v,
		inflight: make(map[string]struct{}),
	}, nil
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request, title string) pageData {
	theme.AdvertiseHint(w)
	data := pageData{
		Title:      title,
		AppName:    h.cfg.AppName,
		AppVersion: h.cfg.AppVersion,
		Theme:      theme.FromRequest(r),
	}
	if sess, ok := auth.FromContext(r.Context()); ok {
		data.User = sess.User
	}
	return data
}

func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sessions.Load(r); err == nil {
		http.Redirect(w, r, "/app", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

// Login screen

func (h *Handler) renderLogin(w http.ResponseWriter, r *http.Request, status int, email, loginErr string) {
	data := h.page(w, r, "Login")
	data.Email = email
	data.Error = loginErr
	data.GoogleEnabled = h.cfg.EnableGoogleLogin
	data.EmailEnabled = h.cfg.EnableEmailLogin
	data.GoogleClientID = h.cfg.GoogleClientID
	data.GoogleLoginURI = absoluteURL(r, "/auth/google")
	h.views.render(w, status, "login.html", data)
}

func (h *Handler) LoginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := h.sessions.Load(r); err == nil {
		http.Redirect(w, r, "/app", http.StatusSeeOther)
		return
	}
	h.renderLogin(w, r, http.StatusOK, "", "")
}

func (h *Handler) PasswordLogin(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.EnableEmailLogin {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	email := r.PostFormValue("email")
	user, err := auth.PasswordLogin(email, r.PostFormValue("password"))
	if err != nil {
		slog.Debug("Password login rejected", "error", err)
		h.renderLogin(w, r, http.StatusBadRequest, email, loginMessage(err))
		return
	}

	h.completeLogin(w, r, user, "password")
}

func loginMessage(err error) string {
	if errors.Is(err, auth.ErrMissingCredentials) {
		return msgMissingCredentials
	}
	return "Sign-in failed."
}

// GoogleLogin receives the Google Identity Services redirect-mode POST.
func (h *Handler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.EnableGoogleLogin {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// Double-submit check: GIS sets the same token as cookie and form field.
	if c, err := r.Cookie("g_csrf_token"); err == nil {
		if c.Value == "" || c.Value != r.PostFormValue("g_csrf_token") {
			slog.Warn("Google login CSRF token mismatch")
			http.Error(w, "Failed to verify double submit cookie", http.StatusBadRequest)
			return
		}
	}

	user, err := auth.DecodeGoogleCredential(r.PostFormValue("credential"))
	if err != nil {
		slog.Error("Google login failed", "error", err)
		h.renderLogin(w, r, http.StatusBadRequest, "", msgGoogleFailed)
		return
	}

	h.completeLogin(w, r, user, "google")
}

func (h *Handler) completeLogin(w http.ResponseWriter, r *http.Request, user *models.User, method string) {
	sess, err := h.sessions.Issue(w, user)
	if err != nil {
		slog.Error("Failed to issue session", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	slog.Info("User authenticated", "method", method, "session_id", sess.ID, "user", user.DisplayName())
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, err := h.sessions.Load(r); err == nil {
		if err := h.store.Delete(r.Context(), sess.ID); err != nil {
			slog.Warn("Failed to drop view state", "session_id", sess.ID, "error", err)
		}
	}
	h.sessions.Clear(w)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// Prediction screen

func (h *Handler) loadState(ctx context.Context, sessionID string) *models.ViewState {
	state, err := h.store.Load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			slog.Error("Failed to load view state", "session_id", sessionID, "error", err)
		}
		return &models.ViewState{}
	}

	if state.Loading && !h.isInFlight(sessionID) {
		// The request that set Loading is gone, most likely with a
		// previous process.
		slog.Warn("Dropping abandoned loading state", "session_id", sessionID)
		state.Loading = false
	}
	return state
}

func (h *Handler) saveState(ctx context.Context, sessionID string, state *models.ViewState) {
	if err := h.store.Save(ctx, sessionID, state); err != nil {
		slog.Error("Failed to save view state", "session_id", sessionID, "error", err)
	}
}

func (h *Handler) acquire(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, busy := h.inflight[sessionID]; busy {
		return false
	}
	h.inflight[sessionID] = struct{}{}
	return true
}

func (h *Handler) release(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inflight, sessionID)
}

func (h *Handler) isInFlight(sessionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, busy := h.inflight[sessionID]
	return busy
}

func (h *Handler) renderApp(w http.ResponseWriter, r *http.Request, status int, state *models.ViewState) {
	data := h.page(w, r, "Prediction")
	data.State = state
	data.Fields = formFields(state.Form)
	h.views.render(w, status, "app.html", data)
}

func (h *Handler) AppPage(w http.ResponseWriter, r *http.Request) {
	sess, _ := auth.FromContext(r.Context())
	h.renderApp(w, r, http.StatusOK, h.loadState(r.Context(), sess.ID))
}

type submitOutcome struct {
	status int
	state  *models.ViewState
	result *models.PredictionResult
	err    error
}

// submit runs one prediction for the session. Local validation errors and
// concurrent submissions never reach the prediction endpoint.
func (h *Handler) submit(ctx context.Context, sessionID string, form models.PredictionForm) submitOutcome {
	state := h.loadState(ctx, sessionID)
	flow := predict.NewSession(state)

	req, err := form.Request()
	if err != nil {
		telemetry.ObservePrediction(telemetry.OutcomeInvalid)
		flow.Invalid(form, err)
		h.saveState(ctx, sessionID, state)
		return submitOutcome{status: http.StatusBadRequest, state: state, err: err}
	}

	if !h.acquire(sessionID) {
		telemetry.ObservePrediction(telemetry.OutcomeBusy)
		return submitOutcome{status: http.StatusConflict, state: state, err: predict.ErrInFlight}
	}
	defer h.release(sessionID)

	if err := flow.Begin(form); err != nil {
		telemetry.ObservePrediction(telemetry.OutcomeBusy)
		return submitOutcome{status: http.StatusConflict, state: state, err: err}
	}
	h.saveState(ctx, sessionID, state)

	start := time.Now()
	result, err := h.svc.Predict(ctx, req)
	if err != nil {
		slog.Error("Prediction failed", "session_id", sessionID, "error", err, "duration", time.Since(start))
		telemetry.ObservePrediction(telemetry.OutcomeError)
		flow.Fail(err)
		// The browser may be gone; the outcome is still recorded.
		h.saveState(context.WithoutCancel(ctx), sessionID, state)
		return submitOutcome{status: http.StatusBadGateway, state: state, err: err}
	}

	slog.Info("Prediction served", "session_id", sessionID, "crop", result.PredictedCrop,
		"yield", result.PredictedYield, "duration", time.Since(start))
	telemetry.ObservePrediction(telemetry.OutcomeSuccess)
	flow.Succeed(result)
	h.saveState(context.WithoutCancel(ctx), sessionID, state)
	return submitOutcome{status: http.StatusOK, state: state, result: result}
}

func (h *Handler) SubmitPrediction(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	sess, _ := auth.FromContext(r.Context())

	form := models.PredictionForm{
		N:            r.PostFormValue("N"),
		P:            r.PostFormValue("P"),
		K:            r.PostFormValue("K"),
		Temperature:  r.PostFormValue("temperature"),
		Humidity:     r.PostFormValue("humidity"),
		PH:           r.PostFormValue("ph"),
		Rainfall:     r.PostFormValue("rainfall"),
		PreviousCrop: r.PostFormValue("previous_crop"),
	}

	out := h.submit(r.Context(), sess.ID, form)
	if errors.Is(out.err, predict.ErrInFlight) {
		busy := *out.state
		busy.Error = out.err.Error()
		h.renderApp(w, r, out.status, &busy)
		return
	}
	h.renderApp(w, r, out.status, out.state)
}

// apiPredictBody is the JSON shape of /api/predict. Pointers tell a missing
// field from a zero.
type apiPredictBody struct {
	N            *float64 `json:"N"`
	P            *float64 `json:"P"`
	K            *float64 `json:"K"`
	Temperature  *float64 `json:"temperature"`
	Humidity     *float64 `json:"humidity"`
	PH           *float64 `json:"ph"`
	Rainfall     *float64 `json:"rainfall"`
	PreviousCrop *string  `json:"previous_crop"`
}

func formatNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func (b apiPredictBody) form() models.PredictionForm {
	form := models.PredictionForm{
		N:           formatNumber(b.N),
		P:           formatNumber(b.P),
		K:           formatNumber(b.K),
		Temperature: formatNumber(b.Temperature),
		Humidity:    formatNumber(b.Humidity),
		PH:          formatNumber(b.PH),
		Rainfall:    formatNumber(b.Rainfall),
	}
	if b.PreviousCrop != nil {
		form.PreviousCrop = *b.PreviousCrop
	}
	return form
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("JSON encode error", "error", err)
	}
}

func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

func (h *Handler) APIPredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.limiter != nil && h.cfg.RateLimitPerMinute > 0 {
		ip := clientIP(r)
		if h.limiter.IsRateLimited(ctx, ip, h.cfg.RateLimitPerMinute) {
			slog.Warn("Rate limit exceeded", "ip", ip)
			writeJSON(w, http.StatusTooManyRequests, models.ErrorResponse{Error: "Too many requests"})
			return
		}
	}

	var body apiPredictBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "invalid JSON body: " + err.Error()})
		return
	}

	sess, _ := auth.FromContext(ctx)
	out := h.submit(ctx, sess.ID, body.form())
	if out.err != nil {
		writeJSON(w, out.status, models.ErrorResponse{Error: out.err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out.result)
}

// Theme

func (h *Handler) ToggleTheme(w http.ResponseWriter, r *http.Request) {
	next := theme.Toggle(theme.FromRequest(r))
	theme.Save(w, next)
	http.Redirect(w, r, backTo(r), http.StatusSeeOther)
}

// backTo returns the local path of the Referer, or "/".
func backTo(r *http.Request) string {
	ref, err := url.Parse(r.Referer())
	if err != nil || ref.Path == "" || !strings.HasPrefix(ref.Path, "/") || strings.HasPrefix(ref.Path, "//") {
		return "/"
	}
	if ref.Host != "" && ref.Host != r.Host {
		return "/"
	}
	if ref.RawQuery != "" {
		return ref.Path + "?" + ref.RawQuery
	}
	return ref.Path
}

func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}
