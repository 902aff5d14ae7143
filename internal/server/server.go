// ABOUTME: Top-level server: wires storage, auth, chat, and the REST API
// ABOUTME: Owns the HTTP listener lifecycle and graceful shutdown

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skilloc/skilloc/internal/account"
	"github.com/skilloc/skilloc/internal/auth"
	"github.com/skilloc/skilloc/internal/chat"
	"github.com/skilloc/skilloc/internal/config"
	"github.com/skilloc/skilloc/internal/conversation"
	"github.com/skilloc/skilloc/internal/dedupe"
	"github.com/skilloc/skilloc/internal/directory"
	"github.com/skilloc/skilloc/internal/presence"
	"github.com/skilloc/skilloc/internal/store"
)

// dedupTTL is how long a REST dedup key replays its original record.
const (
	dedupTTL     = 10 * time.Minute
	dedupMaxSize = 10000
)

// Server is the assembled Skilloc backend: record store, account service,
// conversation log, presence tracker, router, websocket ingress, and the
// REST API, behind one HTTP listener.
type Server struct {
	config   *config.Config
	logger   *slog.Logger
	records  store.Records
	accounts *account.Service
	log      *conversation.Log
	tracker  *presence.Tracker
	router   *chat.Router
	dir      *directory.Directory
	dedup    *dedupe.Cache

	httpServer *http.Server
}

// New assembles a server from configuration. The caller owns the returned
// server and must Run it; resources are released when Run returns.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	records, err := openRecords(cfg)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("creating verifier: %w", err)
	}

	s := &Server{
		config:   cfg,
		logger:   logger.With("component", "server"),
		records:  records,
		accounts: account.NewService(records, verifier, cfg.Auth.TokenTTL, logger),
		log:      conversation.NewLog(records, logger),
		tracker:  presence.NewTracker(logger),
		dir:      directory.New(records, logger),
		dedup:    dedupe.New(dedupTTL, dedupMaxSize),
	}
	s.router = chat.NewRouter(s.log, s.tracker, s.accounts, logger)

	wsHandler := chat.NewHandler(verifier, s.tracker, s.router, chat.Config{
		HandshakeTimeout: cfg.Chat.HandshakeTimeout,
		WriteTimeout:     cfg.Chat.WriteTimeout,
		PongWait:         cfg.Chat.PongWait,
		SendTimeout:      cfg.Chat.SendTimeout,
		MaxMessageSize:   cfg.Chat.MaxMessageSize,
	}, logger)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(verifier, wsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func openRecords(cfg *config.Config) (store.Records, error) {
	switch cfg.Database.Driver {
	case "", "jsonfile":
		return store.NewJSONStore(cfg.Database.Dir)
	case "sqlite":
		return store.NewSQLiteStore(cfg.Database.Path)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// routes builds the HTTP mux. Authenticated endpoints sit behind the
// bearer-token middleware; registration, login, and the public directory
// lookups do not.
func (s *Server) routes(verifier auth.Verifier, wsHandler *chat.Handler) http.Handler {
	mux := http.NewServeMux()
	authed := auth.Middleware(verifier)

	mux.Handle("/ws", wsHandler)

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /api/client/register", s.handleClientRegister)
	mux.HandleFunc("POST /api/worker/register", s.handleWorkerRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("GET /api/services", s.handleServices)
	mux.HandleFunc("GET /api/workerdb", s.handleWorkerDB)
	mux.HandleFunc("POST /api/nearby", s.handleNearby)
	mux.Handle("POST /api/client/search", s.optionalIdentity(verifier, http.HandlerFunc(s.handleClientSearch)))

	mux.Handle("GET /api/me", authed(http.HandlerFunc(s.handleMe)))
	mux.Handle("POST /api/client/location", authed(http.HandlerFunc(s.handleClientLocation)))
	mux.Handle("POST /api/messages", authed(http.HandlerFunc(s.handleSendMessage)))
	mux.Handle("GET /api/messages", authed(http.HandlerFunc(s.handleGetMessages)))

	if s.config.Static.Enabled {
		mux.Handle("/", http.FileServer(http.Dir(s.config.Static.Dir)))
	}

	return mux
}

// optionalIdentity attaches an identity when a valid bearer token is
// present but lets anonymous requests through. Client search uses it to
// fall back to the caller's stored coordinates.
func (s *Server) optionalIdentity(verifier auth.Verifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if strings.HasPrefix(header, "Bearer ") {
			token := strings.TrimPrefix(header, "Bearer ")
			if id, err := verifier.Verify(token); err == nil {
				r = r.WithContext(auth.WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP listener and blocks until the context is canceled or
// the server fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		s.closeResources()
		return fmt.Errorf("listening on %s: %w", s.config.Server.HTTPAddr, err)
	}

	s.logger.Info("server listening", "addr", ln.Addr().String())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		// The run context is already canceled; shutdown gets its own.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	s.closeResources()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (s *Server) closeResources() {
	s.dedup.Close()
	if err := s.records.Close(); err != nil {
		s.logger.Error("closing record store", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
