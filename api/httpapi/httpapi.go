package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	wsadapter "questline/adapters/websocket"
	"questline/core"
	"questline/engine"
	"questline/realtime"
)

// RequestObserver records served requests, typically into Prometheus.
type RequestObserver interface {
	ObserveRequest(method string, status int, elapsed time.Duration)
}

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup is how long an idle client bucket is kept.
	RateLimitCleanup time.Duration
	// Seeder enables PUT {prefix}/users/{id}. Nil leaves the route unregistered.
	Seeder engine.Seeder
	// Logger receives access logs. Nil disables request logging.
	Logger *slog.Logger
	// Metrics, if set, observes every request.
	Metrics RequestObserver
}

type api struct {
	svc    *engine.ProgressionService
	seeder engine.Seeder
	log    *slog.Logger
}

// NewMux builds an http.Handler exposing the progression REST API and WebSocket stream.
// Routes:
//   - GET  {prefix}/healthz
//   - GET  {prefix}/quests?category=&difficulty=
//   - PUT  {prefix}/users/{id}
//   - GET  {prefix}/users/{id}
//   - POST {prefix}/users/{id}/quests/{quest}/complete
//   - GET  {prefix}/users/{id}/badges
//   - POST {prefix}/users/{id}/badges/evaluate
//   - GET  {prefix}/users/{id}/spin
//   - POST {prefix}/users/{id}/spin
//   - GET  {prefix}/leaderboard?limit=N
//   - WS   {prefix}/ws?user=<id>
func NewMux(svc *engine.ProgressionService, hub *realtime.Hub, opts Options) http.Handler {
	a := &api{svc: svc, seeder: opts.Seeder, log: opts.Logger}
	if a.log == nil {
		a.log = slog.Default()
	}
	mux := http.NewServeMux()
	route := func(method, path string, h http.HandlerFunc) {
		mux.HandleFunc(method+" "+withPrefix(opts.PathPrefix, path), h)
	}

	route(http.MethodGet, "/healthz", a.health)
	route(http.MethodGet, "/quests", a.listQuests)
	if a.seeder != nil {
		route(http.MethodPut, "/users/{id}", a.putUser)
	}
	route(http.MethodGet, "/users/{id}", a.getUser)
	route(http.MethodPost, "/users/{id}/quests/{quest}/complete", a.completeQuest)
	route(http.MethodGet, "/users/{id}/badges", a.getBadges)
	route(http.MethodPost, "/users/{id}/badges/evaluate", a.evaluateBadges)
	route(http.MethodGet, "/users/{id}/spin", a.canSpin)
	route(http.MethodPost, "/users/{id}/spin", a.spin)
	route(http.MethodGet, "/leaderboard", a.leaderboard)
	if hub != nil {
		mux.Handle(http.MethodGet+" "+withPrefix(opts.PathPrefix, "/ws"), wsadapter.HandlerWithOptions(hub, wsadapter.Options{Logger: a.log}))
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})

	var handler http.Handler = mux
	if len(opts.APIKeys) > 0 {
		handler = withAPIKeyAuth(handler, opts.APIKeys, withPrefix(opts.PathPrefix, "/healthz"))
	}
	if opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, opts.AllowCORSOrigin)
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup))
	}
	if opts.Metrics != nil {
		handler = withMetrics(handler, opts.Metrics)
	}
	if opts.Logger != nil {
		handler = RequestLogger(opts.Logger)(handler)
	}
	return handler
}

// health verifies the catalog can be read from storage.
func (a *api) health(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	if _, err := a.svc.ListQuests(r.Context(), engine.QuestFilter{}); err != nil {
		a.log.Error("health check failed", "error", err)
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
		writeJSONStatus(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, status)
}

func (a *api) listQuests(w http.ResponseWriter, r *http.Request) {
	q := questsQuery{
		Category:   r.URL.Query().Get("category"),
		Difficulty: r.URL.Query().Get("difficulty"),
	}
	if !validInput(w, q) {
		return
	}
	quests, err := a.svc.ListQuests(r.Context(), engine.QuestFilter{
		Category:   core.Category(q.Category),
		Difficulty: core.Difficulty(q.Difficulty),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	out := make([]questView, 0, len(quests))
	for _, qu := range quests {
		out = append(out, questView{Quest: qu, Difficulty: qu.Difficulty()})
	}
	writeJSON(w, out)
}

func (a *api) putUser(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	var body putUserRequest
	if !decodeBody(w, r, &body, true) {
		return
	}
	p, created, err := a.seeder.PutProfile(r.Context(), core.Profile{ID: user, DisplayName: body.DisplayName})
	if err != nil {
		a.fail(w, r, core.Persistence("put profile", err))
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONStatus(w, status, p)
}

func (a *api) getUser(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	view, err := a.svc.GetProgress(r.Context(), user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, view)
}

func (a *api) completeQuest(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	quest := questPath{ID: r.PathValue("quest")}
	if !validInput(w, quest) {
		return
	}
	var body completeRequest
	if !decodeBody(w, r, &body, false) {
		return
	}
	res, err := a.svc.CompleteQuest(r.Context(), user, core.QuestID(quest.ID), body.Notes)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) getBadges(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	badges, err := a.svc.GetBadges(r.Context(), user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, badges)
}

func (a *api) evaluateBadges(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	granted, err := a.svc.EvaluateBadges(r.Context(), user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if granted == nil {
		granted = []core.Badge{}
	}
	writeJSON(w, evaluateResponse{NewBadges: granted})
}

func (a *api) canSpin(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	can, err := a.svc.CanSpin(r.Context(), user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, canSpinResponse{CanSpin: can})
}

func (a *api) spin(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	res, err := a.svc.SpinWheel(r.Context(), user)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, res)
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	q := leaderboardQuery{}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be an integer", nil)
			return
		}
		q.Limit = n
	}
	if !validInput(w, q) {
		return
	}
	rows, err := a.svc.GetLeaderboard(r.Context(), q.Limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, rows)
}

func userParam(w http.ResponseWriter, r *http.Request) (core.UserID, bool) {
	p := userPath{ID: r.PathValue("id")}
	if !validInput(w, p) {
		return "", false
	}
	user, err := core.NormalizeUserID(core.UserID(p.ID))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
		return "", false
	}
	return user, true
}

func withPrefix(prefix, path string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if prefix[len(prefix)-1] == '/' {
		return prefix[:len(prefix)-1] + path
	}
	return prefix + path
}
