// Package server exposes the engineer-facing and dispatch-facing HTTP listeners
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cloud-shuttle/fieldsync/internal/dispatch"
	"github.com/cloud-shuttle/fieldsync/internal/logging"
	"github.com/cloud-shuttle/fieldsync/internal/socket"
	"github.com/cloud-shuttle/fieldsync/pkg/types"
)

// HeaderEngineerID names the authenticated engineer. It is set by the
// authenticating proxy in front of the app listener.
const HeaderEngineerID = "X-Engineer-ID"

const maxDispatchBody = 1 << 20

// SessionManager creates and ends engineer sessions
type SessionManager interface {
	Create(ctx context.Context) (*types.Session, error)
	Identify(ctx context.Context, sessionID, engineerID string) error
	Destroy(ctx context.Context, sessionID string) error
}

// DispatchHandler processes one dispatch message
type DispatchHandler interface {
	Handle(ctx context.Context, body []byte) ([]byte, error)
}

// Deps holds the collaborators of the listeners
type Deps struct {
	Sessions SessionManager
	Socket   http.Handler
	Dispatch DispatchHandler
	Gatherer prometheus.Gatherer
	// Health reports storage reachability for /healthz
	Health        func(ctx context.Context) error
	SessionMaxAge time.Duration
	Logger        *slog.Logger
}

type handlers struct {
	Deps
	logger *slog.Logger
}

// NewAppRouter routes the engineer-facing listener
func NewAppRouter(d Deps) *mux.Router {
	h := &handlers{Deps: d, logger: logging.Component(d.Logger, "server")}

	router := mux.NewRouter()
	router.HandleFunc("/sessions", h.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/sessions", h.handleLogout).Methods(http.MethodDelete)
	router.Handle("/ws", d.Socket).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.handleHealth).Methods(http.MethodGet)
	if d.Gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	router.Use(h.loggingMiddleware)
	return router
}

// NewDispatchRouter routes the dispatch-facing listener
func NewDispatchRouter(d Deps) *mux.Router {
	h := &handlers{Deps: d, logger: logging.Component(d.Logger, "server")}

	router := mux.NewRouter()
	router.HandleFunc("/DispatchInterface", h.handleInterfaceReady).Methods(http.MethodGet)
	router.HandleFunc("/DispatchInterface", h.handleDispatch).Methods(http.MethodPost)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusUnauthorized, "Not found.")
	})
	router.Use(h.loggingMiddleware)
	return router
}

func (h *handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	engineerID := r.Header.Get(HeaderEngineerID)
	if engineerID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + HeaderEngineerID})
		return
	}

	sess, err := h.Sessions.Create(r.Context())
	if err != nil {
		h.logger.Error("creating session failed", "engineer", engineerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create session"})
		return
	}
	if err := h.Sessions.Identify(r.Context(), sess.ID, engineerID); err != nil {
		h.logger.Error("identifying session failed", "engineer", engineerID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not create session"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     socket.CookieName,
		Value:    sess.ID,
		Path:     "/",
		MaxAge:   int(h.SessionMaxAge / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.Info("engineer logged in", "engineer", engineerID, "session", sess.ID)
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": sess.ID, "engineerId": engineerID})
}

func (h *handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(socket.CookieName)
	if err == nil {
		if err := h.Sessions.Destroy(r.Context(), cookie.Value); err != nil {
			h.logger.Warn("destroying session failed", "session", cookie.Value, "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{Name: socket.CookieName, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		if err := h.Health(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) handleInterfaceReady(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "Interface ready.")
}

func (h *handlers) handleDispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDispatchBody))
	if err != nil {
		writeText(w, http.StatusBadRequest, "could not read message")
		return
	}

	ack, err := h.Dispatch.Handle(r.Context(), body)
	if err != nil {
		if dispatch.IsMalformed(err) {
			writeText(w, http.StatusBadRequest, err.Error())
			return
		}
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeText(w, http.StatusOK, string(ack))
}

func (h *handlers) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("request handled", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// Server runs both listeners
type Server struct {
	app      *http.Server
	dispatch *http.Server
	logger   *slog.Logger
}

// New creates the listeners
func New(appAddr, dispatchAddr string, d Deps) *Server {
	return &Server{
		app: &http.Server{
			Addr:        appAddr,
			Handler:     NewAppRouter(d),
			ReadTimeout: 30 * time.Second,
			IdleTimeout: 2 * time.Minute,
		},
		dispatch: &http.Server{
			Addr:         dispatchAddr,
			Handler:      NewDispatchRouter(d),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: time.Minute,
			IdleTimeout:  time.Minute,
		},
		logger: logging.Component(d.Logger, "server"),
	}
}

// Run serves until ctx is cancelled, then shuts both listeners down
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range []*http.Server{s.app, s.dispatch} {
		srv := srv
		g.Go(func() error {
			s.logger.Info("listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(s.app.Shutdown(shutdownCtx), s.dispatch.Shutdown(shutdownCtx))
	})

	return g.Wait()
}
