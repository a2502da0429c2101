package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/heartrisk/apiserver/internal/model"
	"github.com/heartrisk/apiserver/types"
)

const (
	defaultListLimit    = 100
	maxListLimit        = 500
	defaultScoreTimeout = 5 * time.Second

	// PredictionChannel is the broker channel prediction events are
	// published to for downstream consumers.
	PredictionChannel = "predictions"
)

// HeartRecordRepository defines persistence operations for heart records.
type HeartRecordRepository interface {
	Create(ctx context.Context, rec types.HeartRecord) (types.HeartRecord, error)
	Get(ctx context.Context, id int) (types.HeartRecord, error)
	ListByUser(ctx context.Context, userID, offset, limit int) ([]types.HeartRecord, error)
}

// EventPublisher sends prediction events to a broker channel.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// PredictionService runs the prediction pipeline: normalize the
// submitted features, score them against the loaded model, bucket the
// probability and persist the record. Nothing is written unless
// scoring succeeds.
type PredictionService struct {
	repo         HeartRecordRepository
	models       *model.Ref
	events       EventPublisher
	scoreTimeout time.Duration
}

func NewPredictionService(repo HeartRecordRepository, models *model.Ref) *PredictionService {
	return &PredictionService{
		repo:         repo,
		models:       models,
		scoreTimeout: defaultScoreTimeout,
	}
}

// WithEvents enables best-effort event publishing after each persisted
// prediction. Publish failures are logged, never surfaced to callers.
func (s *PredictionService) WithEvents(events EventPublisher) *PredictionService {
	s.events = events
	return s
}

// WithScoreTimeout overrides the bound on a single forward pass.
func (s *PredictionService) WithScoreTimeout(d time.Duration) *PredictionService {
	if d > 0 {
		s.scoreTimeout = d
	}
	return s
}

// predictionEvent is the payload published to PredictionChannel.
type predictionEvent struct {
	RecordID    int              `json:"record_id"`
	UserID      int              `json:"user_id"`
	Probability float64          `json:"probability"`
	RiskBucket  types.RiskBucket `json:"risk_bucket"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Predict scores the record's features for the given user and persists
// the result. The input record carries only the thirteen measurements;
// Target, RiskBucket and UserID are filled in here.
//
// Returns model.ErrUnavailable (wrapped) when no model is loaded.
func (s *PredictionService) Predict(ctx context.Context, userID int, rec types.HeartRecord) (types.HeartRecord, error) {
	net, err := s.models.Get()
	if err != nil {
		return types.HeartRecord{}, fmt.Errorf("load model: %w", err)
	}

	normalized := model.Normalize(rec.FeatureVector(), net.Scaler())

	scoreCtx, cancel := context.WithTimeout(ctx, s.scoreTimeout)
	defer cancel()
	p, err := net.Predict(scoreCtx, normalized)
	if err != nil {
		return types.HeartRecord{}, fmt.Errorf("score features: %w", err)
	}

	rec.Target = p
	rec.RiskBucket = types.ClassifyRisk(p)
	rec.UserID = userID

	created, err := s.repo.Create(ctx, rec)
	if err != nil {
		return types.HeartRecord{}, fmt.Errorf("persist record: %w", err)
	}

	s.publish(ctx, created)
	return created, nil
}

// ListByUser returns the caller's own records, never another user's.
func (s *PredictionService) ListByUser(ctx context.Context, userID, offset, limit int) ([]types.HeartRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.repo.ListByUser(ctx, userID, offset, limit)
}

func (s *PredictionService) publish(ctx context.Context, rec types.HeartRecord) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(predictionEvent{
		RecordID:    rec.ID,
		UserID:      rec.UserID,
		Probability: rec.Target,
		RiskBucket:  rec.RiskBucket,
		CreatedAt:   rec.CreatedAt,
	})
	if err != nil {
		return
	}
	if _, err := s.events.Publish(ctx, PredictionChannel, payload, map[string]string{
		"risk_bucket": string(rec.RiskBucket),
	}); err != nil {
		log.Printf("publish prediction event: %v", err)
	}
}
