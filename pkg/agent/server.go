package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mscrnt/gpuctl/pkg/display"
	"github.com/mscrnt/gpuctl/pkg/gpu"
	"github.com/mscrnt/gpuctl/pkg/profile"
	"github.com/mscrnt/gpuctl/pkg/resolution"
)

// SettingsService is the GPU settings surface. *gpu.Facade implements it.
type SettingsService interface {
	GetSettings(ctx context.Context) (gpu.Settings, error)
	SetSettings(ctx context.Context, p gpu.Patch) (gpu.Settings, error)
	Source() string
}

// DisplayService is the resolution surface. *display.Dispatcher implements
// it. Bind must be idempotent; the agent calls it before reporting the
// backend.
type DisplayService interface {
	Bind(ctx context.Context) error
	ListResolutions(ctx context.Context, display int) []display.Mode
	AddResolution(ctx context.Context, r resolution.CustomResolution, display int) error
	ApplyResolution(ctx context.Context, r resolution.CustomResolution, display int) error
	RemoveResolution(ctx context.Context, name string, display int) error
	ReadEDID(ctx context.Context, display int) ([]byte, error)
	Backend() string
}

// ProfileService lists and applies profiles. *profile.Store implements it.
type ProfileService interface {
	List(ctx context.Context, tag string) ([]*profile.Profile, error)
	Apply(ctx context.Context, name string, target profile.Applier, opts profile.ApplyOptions) (gpu.Settings, error)
}

// Services are the components the agent exposes
type Services struct {
	Settings SettingsService
	Displays DisplayService
	Profiles ProfileService
	Version  string
}

// Server represents the agent server
type Server struct {
	config     Config
	services   Services
	httpServer *http.Server
	logger     *zap.Logger
	logFile    *os.File
}

// NewServer creates a new agent server
func NewServer(config Config, services Services, logger *zap.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if services.Settings == nil || services.Displays == nil || services.Profiles == nil {
		return nil, errors.New("agent requires settings, display and profile services")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	server := &Server{
		config:   config,
		services: services,
	}

	if config.LogFile != "" {
		logFile, err := os.OpenFile(config.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		fileCore := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(logFile),
			zapcore.InfoLevel,
		)
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, fileCore)
		}))
		server.logFile = logFile
	}
	server.logger = logger.Named("agent")

	server.httpServer = &http.Server{
		Addr:         net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		Handler:      server.Handler(),
		ErrorLog:     zap.NewStdLog(server.logger),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if config.TLSEnabled() {
		tlsConfig, err := config.LoadTLSConfig()
		if err != nil {
			server.closeLog()
			return nil, fmt.Errorf("failed to load TLS config: %w", err)
		}
		server.httpServer.TLSConfig = tlsConfig
	}

	return server, nil
}

// Handler returns the agent's routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.loggingMiddleware(s.healthHandler))
	mux.HandleFunc("GET /settings", s.loggingMiddleware(s.getSettingsHandler))
	mux.HandleFunc("PATCH /settings", s.loggingMiddleware(s.patchSettingsHandler))
	mux.HandleFunc("GET /displays/{n}/resolutions", s.loggingMiddleware(s.listResolutionsHandler))
	mux.HandleFunc("POST /displays/{n}/resolutions", s.loggingMiddleware(s.addResolutionHandler))
	mux.HandleFunc("POST /displays/{n}/resolutions/apply", s.loggingMiddleware(s.applyResolutionHandler))
	mux.HandleFunc("DELETE /displays/{n}/resolutions/{name}", s.loggingMiddleware(s.removeResolutionHandler))
	mux.HandleFunc("GET /displays/{n}/edid", s.loggingMiddleware(s.edidHandler))
	mux.HandleFunc("GET /profiles", s.loggingMiddleware(s.listProfilesHandler))
	mux.HandleFunc("POST /profiles/{name}/apply", s.loggingMiddleware(s.applyProfileHandler))
	return mux
}

// Start starts the agent server on the configured address
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting agent server",
		zap.String("addr", ln.Addr().String()),
		zap.Bool("mtls", s.config.TLSEnabled()),
		zap.String("backend", s.services.Displays.Backend()),
		zap.String("telemetry", s.services.Settings.Source()))

	var err error
	if s.config.TLSEnabled() {
		// certificates are already loaded in the TLS config
		err = s.httpServer.ServeTLS(ln, "", "")
	} else {
		err = s.httpServer.Serve(ln)
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down agent server")
	defer s.closeLog()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) closeLog() {
	if s.logFile != nil {
		_ = s.logger.Sync()
		_ = s.logFile.Close()
		s.logFile = nil
	}
}

type requestIDKey struct{}

// RequestIDHeader carries the request id in both directions
const RequestIDHeader = "X-Request-ID"

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// loggingMiddleware assigns a request id and logs incoming requests
func (s *Server) loggingMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		// Log client certificate info
		clientCert := "none"
		if r.TLS != nil && len(r.TLS.PeerCertificates) > 0 {
			clientCert = r.TLS.PeerCertificates[0].Subject.CommonName
		}

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next(wrapped, r)

		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.String("remote", r.RemoteAddr),
			zap.String("client", clientCert),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
