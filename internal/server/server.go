package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/heartrisk/apiserver/config"
	"github.com/heartrisk/apiserver/internal/db"
	"github.com/heartrisk/apiserver/internal/handlers"
	"github.com/heartrisk/apiserver/internal/model"
	"github.com/heartrisk/apiserver/internal/mq"
	"github.com/heartrisk/apiserver/internal/services"
	"github.com/heartrisk/apiserver/internal/storage"
	"github.com/heartrisk/apiserver/internal/store"
)

// Server wraps the HTTP server, router and shared resources.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	models     *model.Ref
	modelPath  string
	events     *mq.MQ
}

// New constructs a Server with basic middleware and defaults.
//
// A missing or corrupt model artifact is not fatal: the server starts
// and /predict answers 503 until a reload succeeds.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	userRepo := store.NewUserRepository(dbConn)
	heartRepo := store.NewHeartRecordRepository(dbConn)

	userService := services.NewUserService(userRepo)

	models := model.NewRef()
	if err := loadModel(ctx, cfg, models); err != nil {
		log.Printf("model not loaded, /predict will answer 503: %v", err)
	}

	predictionService := services.NewPredictionService(heartRepo, models).
		WithScoreTimeout(time.Duration(cfg.Model.ScoreTimeoutSec) * time.Second)

	events, err := newEventBus(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if events != nil {
		predictionService.WithEvents(events)
	}

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	authMiddleware := handlers.RequireAuth(jwtSecret, userService)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, jwtSecret)
	})
	handlers.HeartRouter(router, predictionService, authMiddleware)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		models:     models,
		modelPath:  cfg.Model.Path,
		events:     events,
	}, nil
}

// loadModel fetches the artifact from the configured store, if any,
// then loads it from the local path.
func loadModel(ctx context.Context, cfg config.Config, models *model.Ref) error {
	artifacts, err := newArtifactStore(ctx, cfg)
	if err != nil {
		return err
	}
	if artifacts != nil {
		if err := storage.Download(ctx, artifacts, cfg.Model.ArtifactKey, cfg.Model.Path); err != nil {
			return err
		}
		log.Printf("fetched model artifact %q from bucket %q", cfg.Model.ArtifactKey, artifacts.Bucket())
	}
	return models.Reload(cfg.Model.Path)
}

func newArtifactStore(ctx context.Context, cfg config.Config) (storage.ArtifactStore, error) {
	switch cfg.ArtifactStore {
	case "minio":
		return storage.NewMinioStore(cfg.Minio)
	case "gcs":
		return storage.NewGCSStore(ctx, cfg.GCS)
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown artifact store %q", cfg.ArtifactStore)
	}
}

func newEventBus(ctx context.Context, cfg config.Config) (*mq.MQ, error) {
	switch cfg.MQProvider {
	case "rabbitmq":
		backend, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	case "pubsub":
		backend, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown mq provider %q", cfg.MQProvider)
	}
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// ReloadModel reloads the model artifact from its local path and swaps
// it in. The previous snapshot stays active on failure.
func (s *Server) ReloadModel() error {
	return s.models.Reload(s.modelPath)
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.events != nil {
		_ = s.events.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return s.httpServer.Close()
}
