// Package server exposes the read-only status surface and the admin
// endpoints over HTTP, plus the live feed via the WebSocket hub.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cyclebot/internal/domain"
	"github.com/alanyoungcy/cyclebot/internal/server/middleware"
	"github.com/alanyoungcy/cyclebot/internal/server/ws"
)

// StatusProvider is what the server needs from the engine.
type StatusProvider interface {
	Statuses() []domain.AccountStatus
	Positions() []domain.Position
}

// DustAdmin is the out-of-band blacklist clearing surface, backed by the
// risk store and, when configured, the Redis mirror.
type DustAdmin interface {
	ClearDust(ctx context.Context, account, symbol string) error
}

// Config holds the listener parameters.
type Config struct {
	Port   int
	APIKey string
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server. hub may be nil when no event bus is configured;
// the /ws route is then omitted. dust may be nil to disable the admin
// surface entirely.
func New(cfg Config, provider StatusProvider, dust DustAdmin, hub *ws.Hub, logger *slog.Logger) *Server {
	log := logger.With(slog.String("component", "server"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /status", handleStatus(provider))
	mux.HandleFunc("GET /positions", handlePositions(provider))
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
	if dust != nil {
		auth := middleware.Auth(cfg.APIKey)
		mux.Handle("DELETE /accounts/{account}/dust/{symbol}",
			auth(http.HandlerFunc(handleClearDust(dust, log))))
	}

	handler := middleware.Logging(log)(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleStatus(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": provider.Statuses(),
		})
	}
}

func handlePositions(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		positions := provider.Positions()
		if positions == nil {
			positions = []domain.Position{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"positions": positions,
		})
	}
}

// handleClearDust removes one symbol from an account's dust blacklist. This
// is the only supported way to lift a blacklist entry while the engine runs.
func handleClearDust(dust DustAdmin, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := r.PathValue("account")
		symbol := r.PathValue("symbol")
		if account == "" || symbol == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "account and symbol are required"})
			return
		}

		if err := dust.ClearDust(r.Context(), account, symbol); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
				return
			}
			logger.ErrorContext(r.Context(), "dust clear failed",
				slog.String("account", account),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}

		logger.InfoContext(r.Context(), "dust entry cleared",
			slog.String("account", account), slog.String("symbol", symbol))
		writeJSON(w, http.StatusOK, map[string]string{
			"account": account,
			"symbol":  symbol,
			"status":  "cleared",
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
