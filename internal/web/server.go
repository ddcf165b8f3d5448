package web

import (
	"context"
	"io/fs"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
}

// NewServer creates a server configured for the given address and dependencies.
func NewServer(addr string, deps Deps) *Server {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("web: failed to sub static fs: %v", err)
	}

	return &Server{
		addr:     addr,
		handlers: NewHandlers(deps, subFS),
	}
}

// Router returns the configured route tree.
func (s *Server) Router() http.Handler {
	h := s.handlers
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stream/start", h.HandleStreamStart).Methods("POST")
	api.HandleFunc("/stream/stop", h.HandleStreamStop).Methods("POST")
	api.HandleFunc("/stream/frame", h.HandleStreamFrame).Methods("GET")
	api.HandleFunc("/capture-sequence-stream", h.HandleCaptureSequence).Methods("GET")
	api.HandleFunc("/analyze-sequence", h.HandleAnalyzeSequence).Methods("POST")
	api.HandleFunc("/save-to-storage", h.HandleSaveToStorage).Methods("POST")
	api.HandleFunc("/storage/status", h.HandleStorageStatus).Methods("GET")
	api.HandleFunc("/pwm/set", h.HandlePWMSet).Methods("POST")
	api.HandleFunc("/config", h.HandleGetConfig).Methods("GET")
	api.HandleFunc("/config", h.HandleUpdateConfig).Methods("POST")
	api.HandleFunc("/get-image/{folder}/{filename}", h.HandleGetImage).Methods("GET")
	api.HandleFunc("/system/info", h.HandleSystemInfo).Methods("GET")
	api.HandleFunc("/sessions", h.HandleSessions).Methods("GET")

	r.HandleFunc("/stream", h.HandleMJPEG).Methods("GET")
	r.HandleFunc("/status/stream", h.HandleStatusStream).Methods("GET")
	r.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(h.staticFS))))
	r.HandleFunc("/", h.ServeIndex).Methods("GET")

	return r
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	log.Printf("web server listening on %s", s.addr)
	return http.ListenAndServe(s.addr, s.Router())
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Router()}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
