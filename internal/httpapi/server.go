package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/voice-forge/internal/audio"
	"github.com/MimeLyc/voice-forge/internal/checkpoints"
	"github.com/MimeLyc/voice-forge/internal/training"
)

type Server struct {
	registry    *training.Registry
	checkpoints *checkpoints.Manager

	voicesDir    string
	transformer  *audio.Transformer
	transformCfg audio.TransformConfig

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithPreprocessing wires the audio transform endpoint. Without it the
// endpoint answers 501.
func WithPreprocessing(transformer *audio.Transformer, cfg audio.TransformConfig) Option {
	return func(s *Server) {
		s.transformer = transformer
		s.transformCfg = cfg
	}
}

func WithVoicesDir(dir string) Option {
	return func(s *Server) {
		s.voicesDir = dir
	}
}

func NewServer(registry *training.Registry, ckpts *checkpoints.Manager, opts ...Option) *Server {
	s := &Server{
		registry:    registry,
		checkpoints: ckpts,
		mux:         http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/train/start", s.handleTrainStart)
	s.mux.HandleFunc("/api/train/jobs", s.handleTrainJobs)
	s.mux.HandleFunc("/api/train/status/", s.handleTrainStatus)
	s.mux.HandleFunc("/api/train/cancel/", s.handleTrainCancel)
	s.mux.HandleFunc("/api/train/stream/", s.handleTrainStream)
	s.mux.HandleFunc("/api/checkpoints", s.handleCheckpointCatalog)
	s.mux.HandleFunc("/api/checkpoints/cache", s.handleCheckpointCache)
	s.mux.HandleFunc("/api/checkpoints/download", s.handleCheckpointDownload)
	s.mux.HandleFunc("/api/checkpoints/evict", s.handleCheckpointEvict)
	s.mux.HandleFunc("/api/preprocess", s.handlePreprocess)
	s.mux.HandleFunc("/api/promptlists", s.handlePromptLists)
	s.mux.HandleFunc("/api/profiles", s.handleProfiles)
}
