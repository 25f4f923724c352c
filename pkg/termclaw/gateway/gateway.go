// Package gateway provides the HTTP intake for termclaw. Any transport or
// script can POST raw commands and callback strings here; the gateway is not
// itself a messaging transport, just the local end one can bridge to.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jholhewres/termclaw/pkg/termclaw/bridge"
)

// Config holds the gateway listen settings.
type Config struct {
	Address   string
	AuthToken string
}

// Relay is what the gateway forwards inbound payloads to.
type Relay interface {
	HandleCommand(ctx context.Context, token, command string) (string, error)
	HandleCallback(ctx context.Context, data string) (string, error)
	PendingPrompts() (map[string]bridge.PendingPrompt, error)
}

// Gateway is the HTTP intake server.
type Gateway struct {
	relay     Relay
	config    Config
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time
}

// New creates a Gateway.
func New(relay Relay, cfg Config, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1:8791"
	}
	return &Gateway{
		relay:  relay,
		config: cfg,
		logger: logger.With("component", "gateway"),
	}
}

// Handler builds the routed and authenticated handler. Exposed separately
// from Start for tests.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/v1/command", g.handleCommand)
	mux.HandleFunc("/v1/callback", g.handleCallback)
	mux.HandleFunc("/v1/prompts", g.handlePrompts)
	return g.authMiddleware(mux)
}

// Start starts the HTTP server in the background.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:    g.config.Address,
		Handler: g.Handler(),
	}

	// Warn when the gateway has no auth token and is bound to a non-loopback
	// address: the API injects keystrokes into live terminals.
	if g.config.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.config.Address)
		if host == "" {
			host = "0.0.0.0"
		}
		ip := net.ParseIP(host)
		isLoopback := ip != nil && ip.IsLoopback()
		if !isLoopback && host != "localhost" {
			g.logger.Warn("SECURITY: gateway has no auth token and is bound to a non-loopback address",
				"address", g.config.Address)
		}
	}

	go func() {
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server error", "error", err)
		}
	}()
	g.logger.Info("gateway started", "address", g.config.Address)
	return nil
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("gateway stopping...")
	return g.server.Shutdown(ctx)
}

type commandRequest struct {
	Token   string `json:"token"`
	Command string `json:"command"`
}

type callbackRequest struct {
	Data string `json:"data"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(g.startedAt).Round(time.Second).String(),
	})
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Token == "" || req.Command == "" {
		g.writeError(w, "token and command are required", http.StatusBadRequest)
		return
	}

	reply, err := g.relay.HandleCommand(r.Context(), req.Token, req.Command)
	if err != nil {
		g.logger.Error("command handling failed", "error", err)
		g.writeError(w, "command handling failed", http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, replyResponse{Reply: reply})
}

func (g *Gateway) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Data == "" {
		g.writeError(w, "data is required", http.StatusBadRequest)
		return
	}

	reply, err := g.relay.HandleCallback(r.Context(), req.Data)
	if err != nil {
		g.logger.Error("callback handling failed", "error", err)
		g.writeError(w, "callback handling failed", http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, replyResponse{Reply: reply})
}

// handlePrompts lets a polling client discover pending prompt ids so it can
// answer them through /v1/callback.
func (g *Gateway) handlePrompts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	prompts, err := g.relay.PendingPrompts()
	if err != nil {
		g.logger.Error("listing pending prompts failed", "error", err)
		g.writeError(w, "listing pending prompts failed", http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"prompts": prompts})
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Warn("failed to encode response", "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	g.writeJSON(w, status, map[string]string{"error": msg})
}
