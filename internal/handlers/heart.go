package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/heartrisk/apiserver/internal/model"
	"github.com/heartrisk/apiserver/internal/services"
	"github.com/heartrisk/apiserver/types"
)

// HeartHandler provides the prediction and record-listing endpoints.
type HeartHandler struct {
	predictionService *services.PredictionService
}

// NewHeartHandler constructs a handler with the provided service.
func NewHeartHandler(predictionService *services.PredictionService) *HeartHandler {
	return &HeartHandler{predictionService: predictionService}
}

// HeartRouter registers prediction routes on the given router. All
// routes require authentication.
func HeartRouter(r chi.Router, predictionService *services.PredictionService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewHeartHandler(predictionService)

	r.With(authMiddleware).Post("/predict", handler.Predict)
	r.With(authMiddleware).Get("/data", handler.ListRecords)
}

// PredictRequest carries the thirteen clinical measurements. Pointer
// fields distinguish missing keys from zero values: every field is
// required.
type PredictRequest struct {
	Age      *int     `json:"age"`
	Sex      *int     `json:"sex"`
	CP       *int     `json:"cp"`
	Trestbps *int     `json:"trestbps"`
	Chol     *int     `json:"chol"`
	FBS      *int     `json:"fbs"`
	Restecg  *int     `json:"restecg"`
	Thalach  *int     `json:"thalach"`
	Exang    *int     `json:"exang"`
	Oldpeak  *float64 `json:"oldpeak"`
	Slope    *int     `json:"slope"`
	CA       *int     `json:"ca"`
	Thal     *int     `json:"thal"`
}

func (req *PredictRequest) validate() error {
	missing := []string{}
	for name, field := range map[string]any{
		"age": req.Age, "sex": req.Sex, "cp": req.CP, "trestbps": req.Trestbps,
		"chol": req.Chol, "fbs": req.FBS, "restecg": req.Restecg,
		"thalach": req.Thalach, "exang": req.Exang, "slope": req.Slope,
		"ca": req.CA, "thal": req.Thal,
	} {
		if field.(*int) == nil {
			missing = append(missing, name)
		}
	}
	if req.Oldpeak == nil {
		missing = append(missing, "oldpeak")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (req *PredictRequest) record() types.HeartRecord {
	return types.HeartRecord{
		Age:      *req.Age,
		Sex:      *req.Sex,
		CP:       *req.CP,
		Trestbps: *req.Trestbps,
		Chol:     *req.Chol,
		FBS:      *req.FBS,
		Restecg:  *req.Restecg,
		Thalach:  *req.Thalach,
		Exang:    *req.Exang,
		Oldpeak:  *req.Oldpeak,
		Slope:    *req.Slope,
		CA:       *req.CA,
		Thal:     *req.Thal,
	}
}

// PredictResponse is the result of a scored prediction request.
type PredictResponse struct {
	Prediction              float64          `json:"prediction"`
	HeartDiseaseProbability float64          `json:"heart_disease_probability"`
	HeartDisease            bool             `json:"heart_disease"`
	RiskBucket              types.RiskBucket `json:"risk_bucket"`
	HeartDataID             int              `json:"heart_data_id"`
}

// Predict validates the submitted measurements, runs them through the
// prediction pipeline and returns the scored result.
func (h *HeartHandler) Predict(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req PredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.predictionService.Predict(r.Context(), userID, req.record())
	if err != nil {
		if errors.Is(err, model.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "model unavailable")
			return
		}
		log.Printf("predict: %v", err)
		writeError(w, http.StatusInternalServerError, "prediction failed")
		return
	}

	writeJSON(w, http.StatusOK, PredictResponse{
		Prediction:              rec.Target,
		HeartDiseaseProbability: rec.Target,
		HeartDisease:            rec.Target > 0.5,
		RiskBucket:              rec.RiskBucket,
		HeartDataID:             rec.ID,
	})
}

// ListRecords returns the caller's own heart records.
func (h *HeartHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	userID, err := userIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	skip, limit, err := parseListParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.predictionService.ListByUser(r.Context(), userID, skip, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list records")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func parseListParams(r *http.Request) (skip, limit int, err error) {
	skip, err = queryInt(r, "skip", 0)
	if err != nil {
		return 0, 0, err
	}
	if skip < 0 {
		return 0, 0, errors.New("skip must not be negative")
	}
	limit, err = queryInt(r, "limit", 100)
	if err != nil {
		return 0, 0, err
	}
	if limit < 0 {
		return 0, 0, errors.New("limit must not be negative")
	}
	return skip, limit, nil
}

func queryInt(r *http.Request, key string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s parameter", key)
	}
	return value, nil
}
