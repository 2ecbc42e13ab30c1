// Package httpapi exposes engine status, group control and Prometheus
// metrics over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ghalamif/AegisArchive/internal/app/engine"
	"github.com/ghalamif/AegisArchive/internal/domain"
)

// Engine is the part of *engine.Engine served over HTTP.
type Engine interface {
	Name() string
	RunID() string
	Channels() []*engine.Channel
	Channel(name string) (*engine.Channel, bool)
	Groups() []*engine.Group
	Group(id domain.GroupID) (*engine.Group, bool)
}

type Server struct {
	eng      Engine
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   chi.Router
}

func NewServer(eng Engine, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{eng: eng, gatherer: gatherer, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)
	r.Use(middleware.Recoverer)
	r.Use(logMiddleware(s.logger))

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", s.health)

	r.Route("/channels", func(r chi.Router) {
		r.Get("/", s.listChannels)
		r.Get("/{name}", s.getChannel)
		r.Post("/{name}/reset", s.resetChannel)
	})
	r.Route("/groups", func(r chi.Router) {
		r.Get("/", s.listGroups)
		r.Post("/{id}/enable", s.enableGroup)
		r.Post("/{id}/disable", s.disableGroup)
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"engine": s.eng.Name(),
		"run_id": s.eng.RunID(),
	})
}

func (s *Server) listChannels(w http.ResponseWriter, _ *http.Request) {
	channels := s.eng.Channels()
	out := make([]ChannelInfo, 0, len(channels))
	for _, ch := range channels {
		out = append(out, channelInfo(ch))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) getChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.eng.Channel(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.writeJSON(w, http.StatusOK, channelInfo(ch))
}

func (s *Server) resetChannel(w http.ResponseWriter, r *http.Request) {
	ch, ok := s.eng.Channel(chi.URLParam(r, "name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	ch.Reset()
	s.writeJSON(w, http.StatusOK, channelInfo(ch))
}

func (s *Server) listGroups(w http.ResponseWriter, _ *http.Request) {
	groups := s.eng.Groups()
	out := make([]GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, groupInfo(g))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) enableGroup(w http.ResponseWriter, r *http.Request) {
	s.switchGroup(w, r, (*engine.Group).Enable)
}

func (s *Server) disableGroup(w http.ResponseWriter, r *http.Request) {
	s.switchGroup(w, r, (*engine.Group).Disable)
}

func (s *Server) switchGroup(w http.ResponseWriter, r *http.Request, fn func(*engine.Group, context.Context) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid group id", http.StatusBadRequest)
		return
	}
	g, ok := s.eng.Group(domain.GroupID(id))
	if !ok {
		http.NotFound(w, r)
		return
	}

	if err := fn(g, r.Context()); err != nil {
		if errors.Is(err, engine.ErrFilterAuthority) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		// Channel bookkeeping failures do not undo the switch.
		s.logger.Warn("group_switch_partial", zap.Int64("group_id", id), zap.Error(err))
	}
	s.writeJSON(w, http.StatusOK, groupInfo(g))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("http_encode_failed", zap.Error(err))
	}
}

func logMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http_request",
				zap.String("method", r.Method),
				zap.String("uri", r.RequestURI),
				zap.Int("status", ww.Status()),
				zap.Int("size", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}
