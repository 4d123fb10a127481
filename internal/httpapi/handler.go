// Package httpapi exposes the social graph over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/listing"
	"github.com/mindlog/social_layer/internal/logging"
	"github.com/mindlog/social_layer/internal/metrics"
	"github.com/mindlog/social_layer/internal/middleware"
	"github.com/mindlog/social_layer/internal/poststats"
	"github.com/mindlog/social_layer/internal/relationship"
	"github.com/mindlog/social_layer/internal/storage"
)

// Services are the components the handlers call.
type Services struct {
	Store     *relationship.Store
	Toggler   *relationship.Toggler
	Assembler *listing.Assembler
	Stats     *poststats.Aggregator
	Posts     storage.PostStore
	Unread    storage.NotificationStore
	Metrics   *metrics.Metrics
	Logger    *logging.Logger
}

// Options configure the HTTP surface. Zero values disable the optional
// middleware.
type Options struct {
	ServiceName string
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	CORSOrigins []string
	PageSize    int
	// Timeout bounds the backend work of one request.
	Timeout time.Duration
}

type handler struct {
	svc      Services
	pageSize int
	timeout  time.Duration
}

// NewHandler returns the router with middleware applied.
func NewHandler(svc Services, opts Options) http.Handler {
	h := &handler{svc: svc, pageSize: opts.PageSize, timeout: opts.Timeout}
	if h.pageSize <= 0 {
		h.pageSize = graph.DefaultPageSize
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "socialgraph"
	}

	r := mux.NewRouter()
	if opts.Auth != nil {
		r.Use(opts.Auth.Handler)
	}
	r.Use(middleware.LoggingMiddleware(svc.Logger))
	if svc.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(opts.ServiceName, svc.Metrics))
	}

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if svc.Metrics != nil {
		r.Handle("/metrics", svc.Metrics.Handler()).Methods(http.MethodGet)
	}

	mutate := func(fn http.HandlerFunc) http.Handler {
		var next http.Handler = fn
		if opts.RateLimiter != nil {
			next = opts.RateLimiter.Handler(next)
		}
		return middleware.RequireUserID(next)
	}

	api := r.PathPrefix("/v1").Subrouter()
	api.HandleFunc("/users/{id}/followers", h.followers).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/following", h.following).Methods(http.MethodGet)
	api.Handle("/users/{id}/relationship", middleware.RequireUserID(http.HandlerFunc(h.relationship))).Methods(http.MethodGet)
	api.Handle("/users/{id}/{kind:follow|block|mute}", middleware.RequireUserID(http.HandlerFunc(h.toggleView))).Methods(http.MethodGet)
	api.Handle("/users/{id}/{kind:follow|block|mute}", mutate(h.toggleSet)).Methods(http.MethodPut, http.MethodDelete)

	api.HandleFunc("/posts/stats", h.postStats).Methods(http.MethodGet, http.MethodPost)
	api.HandleFunc("/posts/{id}/likers", h.likers).Methods(http.MethodGet)
	api.HandleFunc("/posts/{id}/reposters", h.reposters).Methods(http.MethodGet)
	api.Handle("/posts/{id}/{kind:repost}", middleware.RequireUserID(http.HandlerFunc(h.toggleView))).Methods(http.MethodGet)
	api.Handle("/posts/{id}/{kind:repost}", mutate(h.toggleSet)).Methods(http.MethodPut, http.MethodDelete)

	api.Handle("/me/unread", middleware.RequireUserID(http.HandlerFunc(h.unread))).Methods(http.MethodGet)

	// Tracing and CORS wrap the router so they also cover 404, 405 and
	// preflight replies.
	return middleware.Tracing(middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(r))
}

func (h *handler) context(r *http.Request) (context.Context, context.CancelFunc) {
	if h.timeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), h.timeout)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) followers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, listing.Followers(h.svc.Store, mux.Vars(r)["id"]))
}

func (h *handler) following(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, listing.Following(h.svc.Store, mux.Vars(r)["id"]))
}

func (h *handler) likers(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, listing.Likers(h.svc.Posts, mux.Vars(r)["id"]))
}

func (h *handler) reposters(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, listing.Reposters(h.svc.Store, h.svc.Posts, mux.Vars(r)["id"]))
}

func (h *handler) list(w http.ResponseWriter, r *http.Request, src listing.EdgeSource) {
	limit := h.pageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBadRequest(w, r, "limit must be a positive integer")
			return
		}
		limit = n
	}
	cursor := graph.Cursor(r.URL.Query().Get("cursor"))

	ctx, cancel := h.context(r)
	defer cancel()
	page, err := h.svc.Assembler.Assemble(ctx, src, middleware.GetUserID(r.Context()), cursor, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) relationship(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := h.context(r)
	defer cancel()
	rel, err := h.svc.Store.Relationship(ctx, middleware.GetUserID(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

type toggleResponse struct {
	relationship.ToggleView
	CascadeWarning string `json:"cascade_warning,omitempty"`
}

func (h *handler) toggleView(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ctx, cancel := h.context(r)
	defer cancel()
	view, err := h.svc.Toggler.View(ctx, graph.EdgeKind(vars["kind"]), middleware.GetUserID(r.Context()), vars["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResponse{ToggleView: view})
}

// toggleSet makes the edge exist on PUT and removes it on DELETE.
func (h *handler) toggleSet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, err := graph.ParseEdgeKind(vars["kind"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := h.context(r)
	defer cancel()
	view, err := h.svc.Toggler.Set(ctx, kind, middleware.GetUserID(r.Context()), vars["id"], r.Method == http.MethodPut)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := toggleResponse{ToggleView: view}
	if view.Warning != nil {
		resp.CascadeWarning = view.Warning.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type statsRequest struct {
	PostIDs []string `json:"post_ids"`
}

type statsResponse struct {
	Stats map[string]graph.PostStats `json:"stats"`
}

func (h *handler) postStats(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if r.Method == http.MethodPost {
		var req statsRequest
		if err := decodeJSON(r, &req); err != nil {
			writeBadRequest(w, r, err.Error())
			return
		}
		ids = req.PostIDs
	} else {
		for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}

	ctx, cancel := h.context(r)
	defer cancel()
	stats, err := h.svc.Stats.Aggregate(ctx, ids, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: stats})
}

type unreadResponse struct {
	UserID string `json:"user_id"`
	Count  int    `json:"count"`
}

func (h *handler) unread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	ctx, cancel := h.context(r)
	defer cancel()
	count, err := h.svc.Unread.CountUnread(ctx, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, unreadResponse{UserID: userID, Count: count})
}
