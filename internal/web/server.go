// Package web provides the HTTP server for rent-finder: the landing and
// session pages, the JSON API used by the CLI, and the live feed.
package web

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evcraddock/rent-finder/internal/docstore"
	"github.com/evcraddock/rent-finder/internal/identity"
	"github.com/evcraddock/rent-finder/internal/logging"
	"github.com/evcraddock/rent-finder/internal/metrics"
	"github.com/evcraddock/rent-finder/internal/rental"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

// requestTimeout bounds how long a page or API read waits for the
// membership gate and the first snapshot.
const requestTimeout = 10 * time.Second

// Server is the rent-finder HTTP server.
type Server struct {
	cfg        Config
	store      *docstore.Store
	identities *identity.Provider
	passkeys   *identity.PasskeyStore
	pk         *passkeyHandlers
	queue      *rental.Queue
	metrics    *metrics.Metrics
	templates  *template.Template
	mux        *http.ServeMux
	upgrader   websocket.Upgrader
	now        func() time.Time
}

// NewServer creates a web server with the given database.
func NewServer(db *sql.DB, cfg Config) (*Server, error) {
	funcMap := template.FuncMap{
		"formatMoney":     rental.FormatMoney,
		"formatOptional":  tmplFormatOptional,
		"formatNumber":    tmplFormatNumber,
		"formatFrequency": tmplFormatFrequency,
		"formatIndex":     tmplFormatIndex,
		"formatDate":      tmplFormatDate,
		"shareURL":        func(sid string) string { return rental.ShareURL(cfg.BaseURL, sid) },
	}

	tmpl, err := template.New("").Funcs(funcMap).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parsing templates: %w", err)
	}

	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = identity.DefaultTokenTTL
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080"
	}

	m := metrics.New()
	s := &Server{
		cfg:        cfg,
		store:      docstore.New(db, rental.AccessPolicy{}, docstore.WithMetrics(m)),
		identities: identity.NewProvider(db, identity.NewTokenManager(cfg.secret(), cfg.TokenTTL)),
		passkeys:   identity.NewPasskeyStore(db),
		queue:      rental.NewQueue(rental.LogNotifier{}, m),
		metrics:    m,
		templates:  tmpl,
		mux:        http.NewServeMux(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		now: time.Now,
	}
	s.upgrader.CheckOrigin = s.checkOrigin

	pk, err := newPasskeyHandlers(s)
	if err != nil {
		return nil, fmt.Errorf("creating passkey handlers: %w", err)
	}
	s.pk = pk

	staticContent, err := fs.Sub(staticFS, "static")
	if err != nil {
		return nil, fmt.Errorf("creating static sub-fs: %w", err)
	}

	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticContent))))
	s.mux.HandleFunc("/health", handleHealth)
	s.mux.Handle("/metrics", m.Handler())

	s.mux.HandleFunc("/", s.handleLanding)
	s.mux.HandleFunc("/sessions", s.handleCreateSession)
	s.mux.HandleFunc("/session/", s.handleSessionRoute)

	s.mux.HandleFunc("/passkey/register/begin", pk.handleBeginRegistration)
	s.mux.HandleFunc("/passkey/register/finish", pk.handleFinishRegistration)
	s.mux.HandleFunc("/passkey/login/begin", pk.handleBeginLogin)
	s.mux.HandleFunc("/passkey/login/finish", pk.handleFinishLogin)
	s.mux.HandleFunc("/cli/auth", s.handleCLIAuth)
	s.mux.HandleFunc("/settings", s.handleSettings)
	s.mux.HandleFunc("/settings/passkeys/delete", s.handlePasskeyDelete)

	s.mux.HandleFunc("/api/identity", s.handleAPIIdentity)
	s.mux.HandleFunc("/api/sessions", s.handleAPISessions)
	s.mux.HandleFunc("/api/sessions/", s.handleAPISessions)

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.withIdentity(s.mux).ServeHTTP(w, r)
}

// ListenAndServe starts the HTTP server and shuts it down when ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           logging.RequestLogger(s),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting web UI", "addr", "http://localhost"+srv.Addr, "base_url", s.cfg.BaseURL)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return s.Close(shutdownCtx)
}

// Close waits for in-flight writes to settle.
func (s *Server) Close(ctx context.Context) error {
	if err := s.queue.Close(ctx); err != nil {
		return fmt.Errorf("closing write queue: %w", err)
	}
	return nil
}

// checkOrigin accepts websocket upgrades from the configured base URL and
// from clients that send no Origin header, such as the CLI.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.cfg.DevMode {
		return true
	}
	return strings.EqualFold(strings.TrimRight(origin, "/"), strings.TrimRight(s.cfg.BaseURL, "/"))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	apiJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}
