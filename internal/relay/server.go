package relay

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/tetherdev/tether/internal/auth"
	"github.com/tetherdev/tether/internal/remote"
)

// Config holds the relay's externally supplied settings.
type Config struct {
	RemoteRoot string // all sync destinations must resolve inside this root
	Audience   string // expected token audience for this project
	Shell      string // shell for terminal sessions (default $SHELL, then bash)

	// MirrorDelete permits delete-on-mirror for /sync/initial. Requests
	// still have to ask for it explicitly; this only unlocks the option.
	MirrorDelete bool

	// InputRate bounds terminal input frames per second per channel.
	InputRate  rate.Limit
	InputBurst int
}

// Server brokers file-sync requests and terminal channels between the
// client and the remote workstation's execution surface.
type Server struct {
	cfg      Config
	guard    *auth.Guard
	executor *remote.Executor
	sessions *Registry
	mux      *http.ServeMux
}

func NewServer(cfg Config, guard *auth.Guard, executor *remote.Executor) *Server {
	if cfg.Shell == "" {
		cfg.Shell = "bash"
	}
	if cfg.InputRate <= 0 {
		cfg.InputRate = rate.Limit(200)
	}
	if cfg.InputBurst <= 0 {
		cfg.InputBurst = 500
	}
	s := &Server{
		cfg:      cfg,
		guard:    guard,
		executor: executor,
		sessions: NewRegistry(),
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /sync", s.handleSync)
	s.mux.HandleFunc("POST /sync/initial", s.handleInitialSync)
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.handleChannel)
	return s
}

// Sessions exposes the terminal session registry.
func (s *Server) Sessions() *Registry {
	return s.sessions
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs the relay until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
