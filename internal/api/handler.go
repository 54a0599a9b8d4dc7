package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pulsefeed/pulsefeed/internal/domain"
	"github.com/pulsefeed/pulsefeed/internal/feedstore"
	"github.com/pulsefeed/pulsefeed/internal/hub"
	"github.com/pulsefeed/pulsefeed/internal/livefeed"
	"github.com/pulsefeed/pulsefeed/internal/schedule"
	"github.com/pulsefeed/pulsefeed/internal/triage"
)

// Default query limits and windows.
const (
	defaultFeedLimit     = 50
	defaultBreakingLimit = 20
	defaultWindowHours   = 24
	defaultRunsLimit     = 20
)

// Handler serves every HTTP surface: the REST API, the WebSocket feed,
// and /metrics.
type Handler struct {
	feed    *livefeed.Service
	store   feedstore.Store
	engine  *schedule.Engine
	triager *triage.Triager
	hub     *hub.Hub
	log     *slog.Logger
	router  *mux.Router
}

// New builds the Handler and registers all routes. auth wraps the API
// and WebSocket routes; pass a pass-through middleware when auth is
// disabled.
func New(feed *livefeed.Service, st feedstore.Store, engine *schedule.Engine,
	triager *triage.Triager, h *hub.Hub, auth mux.MiddlewareFunc, log *slog.Logger) http.Handler {

	a := &Handler{
		feed:    feed,
		store:   st,
		engine:  engine,
		triager: triager,
		hub:     h,
		log:     log,
		router:  mux.NewRouter(),
	}

	a.router.HandleFunc("/api/v1/health", a.health).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(auth)
	v1.HandleFunc("/feed", a.getFeed).Methods(http.MethodGet)
	v1.HandleFunc("/feed/breaking", a.getBreaking).Methods(http.MethodGet)
	v1.HandleFunc("/feed/stats", a.getStats).Methods(http.MethodGet)
	v1.HandleFunc("/feed/refresh", a.postRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/items", a.postItem).Methods(http.MethodPost)
	v1.HandleFunc("/items/{id}", a.getItem).Methods(http.MethodGet)
	v1.HandleFunc("/items/{id}/triage", a.postRetriage).Methods(http.MethodPost)
	v1.HandleFunc("/schedules", a.listSchedules).Methods(http.MethodGet)
	v1.HandleFunc("/schedules", a.createSchedule).Methods(http.MethodPost)
	v1.HandleFunc("/schedules/{id}", a.getSchedule).Methods(http.MethodGet)
	v1.HandleFunc("/schedules/{id}", a.updateSchedule).Methods(http.MethodPut)
	v1.HandleFunc("/schedules/{id}", a.deleteSchedule).Methods(http.MethodDelete)
	v1.HandleFunc("/schedules/{id}/pause", a.pauseSchedule).Methods(http.MethodPost)
	v1.HandleFunc("/schedules/{id}/resume", a.resumeSchedule).Methods(http.MethodPost)
	v1.HandleFunc("/schedules/{id}/run", a.runSchedule).Methods(http.MethodPost)
	v1.HandleFunc("/schedules/{id}/runs", a.listRuns).Methods(http.MethodGet)
	v1.HandleFunc("/digests/{id}", a.getDigest).Methods(http.MethodGet)
	v1.HandleFunc("/ws/status", a.wsStatus).Methods(http.MethodGet)

	ws := a.router.PathPrefix("/ws/pulse").Subrouter()
	ws.Use(auth)
	ws.HandleFunc("", a.serveWS).Methods(http.MethodGet)
	ws.HandleFunc("/{domain}", a.serveWS).Methods(http.MethodGet)

	return a.router
}

// --- feed -------------------------------------------------------------------

func (a *Handler) getFeed(w http.ResponseWriter, r *http.Request) {
	q := livefeed.FeedQuery{
		Domain:        r.URL.Query().Get("domain"),
		WindowHours:   intParam(r, "hours", 0),
		BreakingOnly:  boolParam(r, "breaking_only"),
		ValidatedOnly: boolParam(r, "validated_only"),
		PassedOnly:    boolParam(r, "passed_triage_only"),
		Limit:         intParam(r, "limit", defaultFeedLimit),
	}
	items, err := a.feed.Feed(r.Context(), q)
	if err != nil {
		a.internalErr(w, "feed query", err)
		return
	}
	jsonResp(w, http.StatusOK, items)
}

func (a *Handler) getBreaking(w http.ResponseWriter, r *http.Request) {
	maxAge := time.Duration(intParam(r, "max_age_hours", defaultWindowHours)) * time.Hour
	items, err := a.feed.BreakingNews(r.Context(),
		r.URL.Query().Get("domain"), intParam(r, "limit", defaultBreakingLimit), maxAge)
	if err != nil {
		a.internalErr(w, "breaking query", err)
		return
	}
	jsonResp(w, http.StatusOK, items)
}

func (a *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(intParam(r, "hours", defaultWindowHours)) * time.Hour
	stats, err := a.feed.Stats(r.Context(), r.URL.Query().Get("domain"), window)
	if err != nil {
		a.internalErr(w, "stats query", err)
		return
	}
	jsonResp(w, http.StatusOK, stats)
}

func (a *Handler) postRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Hours <= 0 {
		req.Hours = defaultWindowHours
	}
	res, err := a.feed.Refresh(r.Context(), req.Domain, time.Duration(req.Hours)*time.Hour)
	if err != nil {
		a.internalErr(w, "refresh", err)
		return
	}
	jsonResp(w, http.StatusOK, res)
}

// --- items ------------------------------------------------------------------

func (a *Handler) postItem(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Domain == "" || req.Title == "" {
		jsonErr(w, http.StatusBadRequest, "domain and title are required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	item := domain.ContentItem{
		ID:              req.ID,
		Domain:          req.Domain,
		Title:           req.Title,
		Abstract:        req.Abstract,
		Source:          req.Source,
		URL:             req.URL,
		ValidatedSource: req.ValidatedSource,
	}
	if req.PublishedAt != "" {
		ts, err := time.Parse(time.RFC3339, req.PublishedAt)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "published_at must be RFC 3339")
			return
		}
		item.PublishedAt = &ts
	}

	created, err := a.feed.Ingest(r.Context(), item)
	if err != nil {
		a.internalErr(w, "ingest", err)
		return
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	jsonResp(w, code, ingestResponse{ID: item.ID, Created: created})
}

func (a *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := a.store.GetItem(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, feedstore.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		a.internalErr(w, "get item", err)
		return
	}
	jsonResp(w, http.StatusOK, item)
}

// postRetriage re-runs triage for one item, replacing its verdict. This
// is an operator action; automatic triage never revisits a decided
// item.
func (a *Handler) postRetriage(w http.ResponseWriter, r *http.Request) {
	if a.triager == nil {
		jsonErr(w, http.StatusServiceUnavailable, "triage is not configured")
		return
	}
	id := mux.Vars(r)["id"]
	item, err := a.store.GetItem(r.Context(), id)
	if errors.Is(err, feedstore.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		a.internalErr(w, "get item", err)
		return
	}

	res := a.triager.One(r.Context(), item.ContentItem)
	if err := a.store.SetVerdict(r.Context(), id, res.Verdict); err != nil {
		a.internalErr(w, "persist verdict", err)
		return
	}
	jsonResp(w, http.StatusOK, res.Verdict)
}

// --- schedules --------------------------------------------------------------

func (a *Handler) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := a.store.ListSchedules(r.Context(), boolParam(r, "active"))
	if err != nil {
		a.internalErr(w, "list schedules", err)
		return
	}
	jsonResp(w, http.StatusOK, schedules)
}

func (a *Handler) createSchedule(w http.ResponseWriter, r *http.Request) {
	var sc domain.ScheduleConfig
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	created, err := a.engine.Create(r.Context(), sc)
	if err != nil {
		if errors.Is(err, feedstore.ErrConflict) {
			jsonErr(w, http.StatusConflict, "schedule already exists")
			return
		}
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusCreated, created)
}

func (a *Handler) getSchedule(w http.ResponseWriter, r *http.Request) {
	sc, err := a.store.GetSchedule(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, feedstore.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		a.internalErr(w, "get schedule", err)
		return
	}
	jsonResp(w, http.StatusOK, sc)
}

func (a *Handler) updateSchedule(w http.ResponseWriter, r *http.Request) {
	var sc domain.ScheduleConfig
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid json body")
		return
	}
	sc.ID = mux.Vars(r)["id"]
	updated, err := a.engine.Update(r.Context(), sc)
	if errors.Is(err, feedstore.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, updated)
}

func (a *Handler) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	err := a.store.DeleteSchedule(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, feedstore.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		a.internalErr(w, "delete schedule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Handler) pauseSchedule(w http.ResponseWriter, r *http.Request) {
	a.setScheduleActive(w, r, a.engine.Pause)
}

func (a *Handler) resumeSchedule(w http.ResponseWriter, r *http.Request) {
	a.setScheduleActive(w, r, a.engine.Resume)
}

func (a *Handler) setScheduleActive(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id string) error) {
	id := mux.Vars(r)["id"]
	err := op(r.Context(), id)
	if errors.Is(err, feedstore.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		a.internalErr(w, "update schedule", err)
		return
	}
	sc, err := a.store.GetSchedule(r.Context(), id)
	if err != nil {
		a.internalErr(w, "get schedule", err)
		return
	}
	jsonResp(w, http.StatusOK, sc)
}

func (a *Handler) runSchedule(w http.ResponseWriter, r *http.Request) {
	res, err := a.engine.RunNow(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, feedstore.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "schedule not found")
		return
	}
	if err != nil {
		a.internalErr(w, "run schedule", err)
		return
	}
	// A run already in flight is reported, not errored.
	code := http.StatusAccepted
	if !res.Started {
		code = http.StatusOK
	}
	jsonResp(w, code, res)
}

func (a *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := a.store.GetSchedule(r.Context(), id); errors.Is(err, feedstore.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "schedule not found")
		return
	}
	runs, err := a.store.ListRuns(r.Context(), id, intParam(r, "limit", defaultRunsLimit))
	if err != nil {
		a.internalErr(w, "list runs", err)
		return
	}
	jsonResp(w, http.StatusOK, runs)
}

func (a *Handler) getDigest(w http.ResponseWriter, r *http.Request) {
	d, err := a.store.GetDigest(r.Context(), mux.Vars(r)["id"])
	if errors.Is(err, feedstore.ErrNotFound) {
		jsonErr(w, http.StatusNotFound, "digest not found")
		return
	}
	if err != nil {
		a.internalErr(w, "get digest", err)
		return
	}
	jsonResp(w, http.StatusOK, d)
}

// --- websocket / misc -------------------------------------------------------

func (a *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	a.hub.Serve(w, r, mux.Vars(r)["domain"])
}

func (a *Handler) wsStatus(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]any{
		"total":   a.hub.Count(),
		"domains": a.hub.Status(),
	})
}

func (a *Handler) health(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, healthResponse{
		Status:      "ok",
		Subscribers: a.hub.Count(),
		Time:        time.Now().UTC().Format(time.RFC3339),
	})
}

// --- helpers ----------------------------------------------------------------

func (a *Handler) internalErr(w http.ResponseWriter, op string, err error) {
	a.log.Error("api: "+op+" failed", "error", err)
	jsonErr(w, http.StatusInternalServerError, "internal error")
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func boolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}
