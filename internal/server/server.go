package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digkill/TGSpeechBot/internal/worker"
)

// Dispatcher accepts a decoded update for background processing.
type Dispatcher interface {
	Dispatch(ctx context.Context, update tgbotapi.Update) error
}

// Broadcaster reaches every known user.
type Broadcaster interface {
	UserIDs() []int64
	SendText(chatID int64, text string) error
}

const shutdownGrace = 10 * time.Second

type Config struct {
	Addr        string
	WebhookPath string
	Username    string
	Password    string
}

// Server exposes the webhook endpoint and the operator routes.
type Server struct {
	cfg         Config
	log         *slog.Logger
	dispatcher  Dispatcher
	broadcaster Broadcaster
	router      *chi.Mux
}

func NewServer(cfg Config, log *slog.Logger, dispatcher Dispatcher, broadcaster Broadcaster) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log,
		dispatcher:  dispatcher,
		broadcaster: broadcaster,
		router:      chi.NewRouter(),
	}
	s.router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	s.router.Get("/", s.handleIndex)
	s.router.Post(cfg.WebhookPath, s.handleWebhook)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.With(s.adminAuth()).Post("/broadcast", s.handleBroadcast)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.Addr, "webhook_path", s.cfg.WebhookPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http listen: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "Bot Running")
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "malformed update", http.StatusBadRequest)
		return
	}

	// The update outlives the request.
	err = s.dispatcher.Dispatch(context.WithoutCancel(r.Context()), update)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
	case errors.Is(err, worker.ErrOverloaded):
		s.log.Warn("webhook overloaded", "update_id", update.UpdateID)
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		s.log.Error("dispatch update", "update_id", update.UpdateID, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

type broadcastResult struct {
	Sent  int `json:"sent"`
	Total int `json:"total"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	ids := s.broadcaster.UserIDs()
	res := broadcastResult{Total: len(ids)}
	for _, id := range ids {
		if err := s.broadcaster.SendText(id, body.Message); err != nil {
			s.log.Warn("broadcast to user", "user_id", id, "err", err)
			continue
		}
		res.Sent++
	}
	s.log.Info("broadcast finished", "sent", res.Sent, "total", res.Total)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		s.log.Warn("encode broadcast result", "err", err)
	}
}

// adminAuth guards operator routes. With no password configured nothing gets through.
func (s *Server) adminAuth() func(http.Handler) http.Handler {
	if s.cfg.Password == "" {
		return func(http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			})
		}
	}
	return middleware.BasicAuth("speechbot", map[string]string{s.cfg.Username: s.cfg.Password})
}
