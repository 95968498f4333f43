package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crop-planner/internal/auth"
	"crop-planner/internal/cache"
	"crop-planner/internal/config"
	"crop-planner/internal/models"
	"crop-planner/internal/predict"
	"crop-planner/internal/theme"
)

type fakePredictor struct {
	mu       sync.Mutex
	requests []models.PredictionRequest
	result   *models.PredictionResult
	err      error
	block    chan struct{}
	started  chan struct{}
}

func (f *fakePredictor) Predict(ctx context.Context, req *models.PredictionRequest) (*models.PredictionResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, *req)
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.result, f.err
}

func (f *fakePredictor) calls() []models.PredictionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.PredictionRequest(nil), f.requests...)
}

type fakeLimiter struct{ limited bool }

func (l fakeLimiter) IsRateLimited(context.Context, string, int) bool { return l.limited }

type testEnv struct {
	cfg      *config.Config
	sessions *auth.Sessions
	store    *cache.MemoryStore
	handler  *Handler
	router   http.Handler
}

func testConfig() *config.Config {
	return &config.Config{
		AppName:           "Smart Crop Rotation Planner",
		AppVersion:        "test",
		GoogleClientID:    "client-123",
		EnableGoogleLogin: true,
		EnableEmailLogin:  true,
	}
}

func newEnv(t *testing.T, svc Predictor, mutate ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	env := &testEnv{
		cfg:      cfg,
		sessions: auth.NewSessions("test-secret", false),
		store:    cache.NewMemoryStore(time.Hour),
	}
	h, err := NewHandler(cfg, env.sessions, svc, env.store, nil)
	require.NoError(t, err)
	env.handler = h
	env.router = h.Routes()
	return env
}

func (e *testEnv) login(t *testing.T, user *models.User) (*http.Cookie, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	sess, err := e.sessions.Issue(rec, user)
	require.NoError(t, err)
	return rec.Result().Cookies()[0], sess.ID
}

func (e *testEnv) do(req *http.Request, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func fullForm() url.Values {
	return url.Values{
		"N":             {"90"},
		"P":             {"42"},
		"K":             {"43"},
		"temperature":   {"20.8"},
		"humidity":      {"82"},
		"ph":            {"6.5"},
		"rainfall":      {"202.9"},
		"previous_crop": {"maize"},
	}
}

func TestIndexRedirects(t *testing.T) {
	env := newEnv(t, &fakePredictor{})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	cookie, _ := env.login(t, &models.User{Name: "Asha"})
	rec = env.do(httptest.NewRequest(http.MethodGet, "/", nil), cookie)
	assert.Equal(t, "/app", rec.Header().Get("Location"))
}

func TestLoginPageRendersBothPaths(t *testing.T) {
	env := newEnv(t, &fakePredictor{})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/login", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data-client_id="client-123"`)
	assert.Contains(t, body, "/auth/google")
	assert.Contains(t, body, `action="/login"`)
	assert.Contains(t, body, "or continue with email")
}

func TestLoginEmptyPasswordShowsError(t *testing.T) {
	env := newEnv(t, &fakePredictor{})

	rec := env.do(postForm("/login", url.Values{"email": {"farmer@example.com"}, "password": {""}}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please enter both email and password.")
	assert.Contains(t, rec.Body.String(), `value="farmer@example.com"`)
	assert.Empty(t, rec.Result().Cookies(), "no session is issued")
}

func TestLoginMessage(t *testing.T) {
	assert.Equal(t, "Please enter both email and password.", loginMessage(auth.ErrMissingCredentials))
	assert.Equal(t, "Please enter both email and password.",
		loginMessage(fmt.Errorf("login: %w", auth.ErrMissingCredentials)))
	assert.Equal(t, "Sign-in failed.", loginMessage(errors.New("backend down")))
}

func TestPasswordLoginOpensApp(t *testing.T) {
	env := newEnv(t, &fakePredictor{})

	rec := env.do(postForm("/login", url.Values{"email": {"farmer@example.com"}, "password": {"pw"}}))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/app", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	app := env.do(httptest.NewRequest(http.MethodGet, "/app", nil), cookies[0])
	require.Equal(t, http.StatusOK, app.Code)
	assert.Contains(t, app.Body.String(), "Welcome, farmer")
	assert.Contains(t, app.Body.String(), `name="previous_crop"`)
}

func TestEmailLoginDisabled(t *testing.T) {
	env := newEnv(t, &fakePredictor{}, func(c *config.Config) { c.EnableEmailLogin = false })

	rec := env.do(postForm("/login", url.Values{"email": {"a@b.c"}, "password": {"pw"}}))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	page := env.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.NotContains(t, page.Body.String(), `action="/login"`)
}

func TestGoogleLogin(t *testing.T) {
	env := newEnv(t, &fakePredictor{})
	credential, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"name":    "Asha Rao",
		"email":   "asha@example.com",
		"picture": "https://example.com/asha.png",
	}).SignedString([]byte("whatever"))
	require.NoError(t, err)

	req := postForm("/auth/google", url.Values{"credential": {credential}, "g_csrf_token": {"tok"}})
	rec := env.do(req, &http.Cookie{Name: "g_csrf_token", Value: "tok"})

	require.Equal(t, http.StatusSeeOther, rec.Code)
	app := env.do(httptest.NewRequest(http.MethodGet, "/app", nil), rec.Result().Cookies()[0])
	assert.Contains(t, app.Body.String(), "Welcome, Asha Rao")
	assert.Contains(t, app.Body.String(), "https://example.com/asha.png")
}

func TestGoogleLoginRejectsBadCredential(t *testing.T) {
	env := newEnv(t, &fakePredictor{})

	rec := env.do(postForm("/auth/google", url.Values{"credential": {"garbage"}}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	mismatch := env.do(postForm("/auth/google", url.Values{"credential": {"x"}, "g_csrf_token": {"a"}}),
		&http.Cookie{Name: "g_csrf_token", Value: "b"})
	assert.Equal(t, http.StatusBadRequest, mismatch.Code)
}

func TestAppRequiresSession(t *testing.T) {
	env := newEnv(t, &fakePredictor{})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/app", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = env.do(postForm("/app/predict", fullForm()))
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestSubmitIssuesOneTypedRequest(t *testing.T) {
	svc := &fakePredictor{result: &models.PredictionResult{PredictedCrop: "rice", PredictedYield: 4.2}}
	env := newEnv(t, svc)
	cookie, sid := env.login(t, &models.User{Name: "Asha"})

	rec := env.do(postForm("/app/predict", fullForm()), cookie)

	require.Equal(t, http.StatusOK, rec.Code)
	calls := svc.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, models.PredictionRequest{
		N: 90, P: 42, K: 43,
		Temperature: 20.8, Humidity: 82, PH: 6.5, Rainfall: 202.9,
		PreviousCrop: "maize",
	}, calls[0])

	body := rec.Body.String()
	assert.Contains(t, body, `<strong id="predicted-crop">rice</strong>`)
	assert.Contains(t, body, `<strong id="predicted-yield">4.2</strong>`)

	state, err := env.store.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.False(t, state.Loading)
	assert.Equal(t, "maize", state.Form.PreviousCrop)
}

func TestSubmitMissingFieldSkipsNetwork(t *testing.T) {
	svc := &fakePredictor{result: &models.PredictionResult{PredictedCrop: "rice"}}
	env := newEnv(t, svc)
	cookie, _ := env.login(t, &models.User{Name: "Asha"})

	for _, field := range []string{"N", "temperature", "previous_crop"} {
		values := fullForm()
		values.Set(field, "")

		rec := env.do(postForm("/app/predict", values), cookie)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing required field: "+field)
	}
	assert.Empty(t, svc.calls())
}

func TestSubmitNonFiniteNumberIsLocalError(t *testing.T) {
	svc := &fakePredictor{result: &models.PredictionResult{PredictedCrop: "rice", PredictedYield: 4.2}}
	env := newEnv(t, svc)
	cookie, sid := env.login(t, &models.User{Name: "Asha"})

	ok := env.do(postForm("/app/predict", fullForm()), cookie)
	require.Equal(t, http.StatusOK, ok.Code)

	for _, value := range []string{"NaN", "Infinity", "inf"} {
		values := fullForm()
		values.Set("ph", value)

		rec := env.do(postForm("/app/predict", values), cookie)

		assert.Equal(t, http.StatusBadRequest, rec.Code, value)
		assert.Contains(t, rec.Body.String(), "ph must be a number")
		assert.Contains(t, rec.Body.String(), ">rice<", "previous result is kept")
	}
	assert.Len(t, svc.calls(), 1)

	state, err := env.store.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "ph must be a number", state.Error)
	assert.NotNil(t, state.Result)
}

func TestSubmitServerErrorClearsPreviousResult(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusOK)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code := int(status.Load()); code != http.StatusOK {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(`{"predicted_crop":"rice","predicted_yield":4.2}`))
	}))
	defer upstream.Close()

	env := newEnv(t, predict.NewClient(upstream.URL+"/api/predict/"))
	cookie, sid := env.login(t, &models.User{Name: "Asha"})

	ok := env.do(postForm("/app/predict", fullForm()), cookie)
	require.Contains(t, ok.Body.String(), "predicted-crop")

	status.Store(http.StatusInternalServerError)
	rec := env.do(postForm("/app/predict", fullForm()), cookie)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "Server error: 500")
	assert.NotContains(t, rec.Body.String(), "predicted-crop")

	state, err := env.store.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.Nil(t, state.Result)
	assert.Equal(t, "Server error: 500", state.Error)
}

func TestSubmitSuccessClearsPriorError(t *testing.T) {
	svc := &fakePredictor{err: errors.New("dial tcp: connection refused")}
	env := newEnv(t, svc)
	cookie, _ := env.login(t, &models.User{Name: "Asha"})

	rec := env.do(postForm("/app/predict", fullForm()), cookie)
	assert.Contains(t, rec.Body.String(), "dial tcp: connection refused")

	svc.err = nil
	svc.result = &models.PredictionResult{PredictedCrop: "rice", PredictedYield: 4.2}
	rec = env.do(postForm("/app/predict", fullForm()), cookie)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
	assert.Contains(t, rec.Body.String(), ">rice<")
	assert.Contains(t, rec.Body.String(), ">4.2<")
}

func TestSubmitWhileLoadingIsRejected(t *testing.T) {
	svc := &fakePredictor{
		result:  &models.PredictionResult{PredictedCrop: "rice", PredictedYield: 4.2},
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	env := newEnv(t, svc)
	cookie, _ := env.login(t, &models.User{Name: "Asha"})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		done <- env.do(postForm("/app/predict", fullForm()), cookie)
	}()
	<-svc.started

	page := env.do(httptest.NewRequest(http.MethodGet, "/app", nil), cookie)
	assert.Contains(t, page.Body.String(), "Predicting...")

	second := env.do(postForm("/app/predict", fullForm()), cookie)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Contains(t, second.Body.String(), "prediction already in progress")

	close(svc.block)
	first := <-done
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Len(t, svc.calls(), 1)
}

func TestAbandonedLoadingStateIsReset(t *testing.T) {
	svc := &fakePredictor{result: &models.PredictionResult{PredictedCrop: "rice", PredictedYield: 4.2}}
	env := newEnv(t, svc)
	cookie, sid := env.login(t, &models.User{Name: "Asha"})

	require.NoError(t, env.store.Save(context.Background(), sid, &models.ViewState{Loading: true}))

	rec := env.do(postForm("/app/predict", fullForm()), cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, svc.calls(), 1)
}

func TestLogoutDropsState(t *testing.T) {
	env := newEnv(t, &fakePredictor{})
	cookie, sid := env.login(t, &models.User{Name: "Asha"})
	require.NoError(t, env.store.Save(context.Background(), sid, &models.ViewState{Error: "x"}))

	rec := env.do(httptest.NewRequest(http.MethodPost, "/logout", nil), cookie)

	assert.Equal(t, "/login", rec.Header().Get("Location"))
	_, err := env.store.Load(context.Background(), sid)
	assert.ErrorIs(t, err, cache.ErrNotFound)
	cleared := rec.Result().Cookies()
	require.Len(t, cleared, 1)
	assert.Negative(t, cleared[0].MaxAge)
}

func TestThemeToggleTwiceRestores(t *testing.T) {
	env := newEnv(t, &fakePredictor{})

	initial := env.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Contains(t, initial.Body.String(), `<html lang="en" class="light">`)

	toggle := httptest.NewRequest(http.MethodPost, "/theme", nil)
	toggle.Header.Set("Referer", "http://example.com/login")
	first := env.do(toggle)
	assert.Equal(t, "/login", first.Header().Get("Location"))
	dark := first.Result().Cookies()[0]
	assert.Equal(t, string(theme.Dark), dark.Value)

	darkPage := env.do(httptest.NewRequest(http.MethodGet, "/login", nil), dark)
	assert.Contains(t, darkPage.Body.String(), `<html lang="en" class="dark">`)

	second := env.do(httptest.NewRequest(http.MethodPost, "/theme", nil), dark)
	light := second.Result().Cookies()[0]
	assert.Equal(t, string(theme.Light), light.Value)
	assert.Positive(t, light.MaxAge)

	final := env.do(httptest.NewRequest(http.MethodGet, "/login", nil), light)
	assert.Contains(t, final.Body.String(), `<html lang="en" class="light">`)
}

func TestThemeFollowsSystemHint(t *testing.T) {
	env := newEnv(t, &fakePredictor{})

	req := httptest.NewRequest(http.MethodGet, "/login", nil)
	req.Header.Set(theme.HintHeader, "dark")
	rec := env.do(req)

	assert.Contains(t, rec.Body.String(), `class="dark"`)
	assert.Equal(t, theme.HintHeader, rec.Header().Get("Accept-CH"))
}

func TestBackToIgnoresForeignReferer(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/theme", nil)
	req.Header.Set("Referer", "https://evil.example/app")
	assert.Equal(t, "/", backTo(req))

	req.Header.Set("Referer", "http://example.com/app?x=1")
	assert.Equal(t, "/app?x=1", backTo(req))
}

func apiRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAPIPredict(t *testing.T) {
	svc := &fakePredictor{result: &models.PredictionResult{PredictedCrop: "rice", PredictedYield: 4.2}}
	env := newEnv(t, svc)
	cookie, _ := env.login(t, &models.User{Name: "Asha"})

	body := `{"N":90,"P":42,"K":43,"temperature":20.8,"humidity":82,"ph":6.5,"rainfall":202.9,"previous_crop":"maize"}`
	req := apiRequest(body)
	req.Header.Set("Authorization", "Bearer "+cookie.Value)
	rec := env.do(req)

	require.Equal(t, http.StatusOK, rec.Code)
	var result models.PredictionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, models.PredictionResult{PredictedCrop: "rice", PredictedYield: 4.2}, result)
	require.Len(t, svc.calls(), 1)
	assert.Equal(t, 202.9, svc.calls()[0].Rainfall)
}

func TestAPIPredictErrors(t *testing.T) {
	svc := &fakePredictor{err: &predict.StatusError{Code: 500}}
	env := newEnv(t, svc)
	cookie, _ := env.login(t, &models.User{Name: "Asha"})

	unauth := env.do(apiRequest(`{}`))
	assert.Equal(t, http.StatusUnauthorized, unauth.Code)

	missing := env.do(apiRequest(`{"N":0,"P":1}`), cookie)
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.JSONEq(t, `{"error":"missing required field: K"}`, missing.Body.String())
	assert.Empty(t, svc.calls())

	upstream := env.do(apiRequest(`{"N":0,"P":1,"K":2,"temperature":3,"humidity":4,"ph":5,"rainfall":6,"previous_crop":"rice"}`), cookie)
	assert.Equal(t, http.StatusBadGateway, upstream.Code)
	assert.JSONEq(t, `{"error":"Server error: 500"}`, upstream.Body.String())
}

func TestAPIPredictRateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMinute = 1
	sessions := auth.NewSessions("test-secret", false)
	h, err := NewHandler(cfg, sessions, &fakePredictor{}, cache.NewMemoryStore(time.Hour), fakeLimiter{limited: true})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	_, err = sessions.Issue(rec, &models.User{Name: "Asha"})
	require.NoError(t, err)

	req := apiRequest(`{}`)
	req.AddCookie(rec.Result().Cookies()[0])
	out := httptest.NewRecorder()
	h.Routes().ServeHTTP(out, req)

	assert.Equal(t, http.StatusTooManyRequests, out.Code)
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, &fakePredictor{})
	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())

	metrics := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, metrics.Code)
}
