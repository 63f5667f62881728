package apihttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"mediaengine/internal/domain"
	"mediaengine/internal/domain/ports"
	"mediaengine/internal/storage/layout"
)

// DownloadQueue is the part of the queue manager the API drives.
type DownloadQueue interface {
	AddDownload(d domain.Download)
	StartDownloads()
	StopDownloading(ctx context.Context, id string)
	CleanUpDownload(ctx context.Context, id string)
	ActiveHandle(id string) (ports.Handle, bool)
	Snapshot() []domain.Download
}

type MediaProbe interface {
	Probe(ctx context.Context, filePath string) (domain.MediaInfo, error)
	ProbeReader(ctx context.Context, reader io.Reader) (domain.MediaInfo, error)
}

type MediaTranscoder interface {
	Stream(ctx context.Context, src io.Reader, dst io.Writer) error
}

type Server struct {
	queue            DownloadQueue
	store            ports.Store
	layout           *layout.Layout
	prober           MediaProbe
	transcoder       MediaTranscoder
	forceTranscoding bool
	logger           *slog.Logger
	handler          http.Handler
	wsHub            *wsHub
}

type ServerOption func(*Server)

func WithStore(store ports.Store) ServerOption {
	return func(s *Server) { s.store = store }
}

func WithMediaProbe(prober MediaProbe) ServerOption {
	return func(s *Server) { s.prober = prober }
}

func WithTranscoder(tr MediaTranscoder) ServerOption {
	return func(s *Server) { s.transcoder = tr }
}

func WithForceTranscoding(force bool) ServerOption {
	return func(s *Server) { s.forceTranscoding = force }
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func NewServer(queue DownloadQueue, lay *layout.Layout, opts ...ServerOption) *Server {
	s := &Server{
		queue:  queue,
		layout: lay,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger)
	go s.wsHub.run()

	mux := http.NewServeMux()
	mux.HandleFunc("/watch/", s.handleWatch)
	mux.HandleFunc("/downloads/", s.handleDownloadByID)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "mediaengine",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// BroadcastDownloads pushes the live transfer snapshot to every connected
// WebSocket client. Main's ticker calls this periodically.
func (s *Server) BroadcastDownloads(downloads []domain.Download) {
	s.wsHub.BroadcastDownloads(downloads)
}

// Close shuts down the WebSocket hub, disconnecting all clients.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
