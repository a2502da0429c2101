package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/heartrisk/apiserver/internal/model"
	"github.com/heartrisk/apiserver/internal/services"
	"github.com/heartrisk/apiserver/internal/store"
	"github.com/heartrisk/apiserver/types"
)

const validPredictBody = `{
	"age": 63, "sex": 1, "cp": 3, "trestbps": 145, "chol": 233, "fbs": 1,
	"restecg": 0, "thalach": 150, "exang": 0, "oldpeak": 2.3, "slope": 0,
	"ca": 0, "thal": 1
}`

const handlerTestArtifact = `{
	"format": "dense-v1",
	"layers": [
		{
			"weights": [[0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]],
			"biases": [1],
			"activation": "sigmoid"
		}
	]
}`

type memHeartRepo struct {
	records []types.HeartRecord
}

func (m *memHeartRepo) Create(_ context.Context, rec types.HeartRecord) (types.HeartRecord, error) {
	rec.ID = len(m.records) + 1
	rec.CreatedAt = time.Now()
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *memHeartRepo) Get(_ context.Context, id int) (types.HeartRecord, error) {
	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return types.HeartRecord{}, store.ErrNotFound
}

func (m *memHeartRepo) ListByUser(_ context.Context, userID, offset, limit int) ([]types.HeartRecord, error) {
	var out []types.HeartRecord
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

type heartTestEnv struct {
	router    *chi.Mux
	users     *fakeUserRepo
	records   *memHeartRepo
	models    *model.Ref
	userToken map[int]string
}

func newHeartTestEnv(t *testing.T, loadModel bool) *heartTestEnv {
	t.Helper()

	users := newFakeUserRepo()
	records := &memHeartRepo{}
	models := model.NewRef()
	if loadModel {
		path := filepath.Join(t.TempDir(), "model.json")
		if err := os.WriteFile(path, []byte(handlerTestArtifact), 0o644); err != nil {
			t.Fatalf("write artifact: %v", err)
		}
		if err := models.Reload(path); err != nil {
			t.Fatalf("load artifact: %v", err)
		}
	}

	userService := services.NewUserService(users)
	predictionService := services.NewPredictionService(records, models)

	router := chi.NewRouter()
	HeartRouter(router, predictionService, RequireAuth(testJWTSecret, userService))

	return &heartTestEnv{
		router:    router,
		users:     users,
		records:   records,
		models:    models,
		userToken: map[int]string{},
	}
}

func (e *heartTestEnv) addUser(t *testing.T, email string) int {
	t.Helper()
	user, err := e.users.Create(context.Background(), types.User{Email: email, PasswordHash: "x"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := issueToken(user.ID, []byte(testJWTSecret), time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	e.userToken[user.ID] = token
	return user.ID
}

func (e *heartTestEnv) do(method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestPredictRoundTrip(t *testing.T) {
	env := newHeartTestEnv(t, true)
	userID := env.addUser(t, "a@x.com")

	rec := env.do(http.MethodPost, "/predict", env.userToken[userID], validPredictBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("predict status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp PredictResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.HeartDiseaseProbability < 0 || resp.HeartDiseaseProbability > 1 {
		t.Errorf("probability out of range: %v", resp.HeartDiseaseProbability)
	}
	if resp.Prediction != resp.HeartDiseaseProbability {
		t.Errorf("prediction %v != probability %v", resp.Prediction, resp.HeartDiseaseProbability)
	}
	if resp.HeartDisease != (resp.HeartDiseaseProbability > 0.5) {
		t.Errorf("binary flag mismatch: %+v", resp)
	}
	if resp.RiskBucket != types.ClassifyRisk(resp.HeartDiseaseProbability) {
		t.Errorf("bucket mismatch: %+v", resp)
	}
	if resp.HeartDataID == 0 {
		t.Fatalf("expected heart_data_id")
	}

	// The created record is retrievable with identical feature values.
	listRec := env.do(http.MethodGet, "/data", env.userToken[userID], "")
	if listRec.Code != http.StatusOK {
		t.Fatalf("data status = %d", listRec.Code)
	}
	var listed []types.HeartRecord
	if err := json.Unmarshal(listRec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one record, got %d", len(listed))
	}
	got := listed[0]
	if got.ID != resp.HeartDataID || got.Target != resp.HeartDiseaseProbability {
		t.Errorf("round-trip mismatch: %+v vs %+v", got, resp)
	}
	want := [types.NumFeatures]float64{63, 1, 3, 145, 233, 1, 0, 150, 0, 2.3, 0, 0, 1}
	if got.FeatureVector() != want {
		t.Errorf("features stored as %v, want %v", got.FeatureVector(), want)
	}
}

func TestPredictRequiresAuth(t *testing.T) {
	env := newHeartTestEnv(t, true)

	rec := env.do(http.MethodPost, "/predict", "", validPredictBody)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(env.records.records) != 0 {
		t.Errorf("unauthenticated request must not write a record")
	}
}

func TestPredictValidation(t *testing.T) {
	env := newHeartTestEnv(t, true)
	userID := env.addUser(t, "a@x.com")
	token := env.userToken[userID]

	cases := map[string]string{
		"empty object": `{}`,
		"missing thal": `{"age": 63, "sex": 1, "cp": 3, "trestbps": 145, "chol": 233, "fbs": 1, "restecg": 0, "thalach": 150, "exang": 0, "oldpeak": 2.3, "slope": 0, "ca": 0}`,
		"wrong type":   `{"age": "old"}`,
		"not json":     `age=63`,
	}
	for name, body := range cases {
		rec := env.do(http.MethodPost, "/predict", token, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
	if len(env.records.records) != 0 {
		t.Errorf("invalid requests must not write records")
	}
}

func TestPredictModelUnavailable(t *testing.T) {
	env := newHeartTestEnv(t, false)
	userID := env.addUser(t, "a@x.com")

	rec := env.do(http.MethodPost, "/predict", env.userToken[userID], validPredictBody)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	if len(env.records.records) != 0 {
		t.Errorf("no record may be written when the model is unavailable")
	}
}

func TestDataNeverCrossesUsers(t *testing.T) {
	env := newHeartTestEnv(t, true)
	alice := env.addUser(t, "alice@x.com")
	bob := env.addUser(t, "bob@x.com")

	if rec := env.do(http.MethodPost, "/predict", env.userToken[alice], validPredictBody); rec.Code != http.StatusOK {
		t.Fatalf("alice predict status = %d", rec.Code)
	}

	for _, target := range []string{"/data", "/data?skip=0&limit=10", "/data?skip=1&limit=1"} {
		rec := env.do(http.MethodGet, target, env.userToken[bob], "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", target, rec.Code)
		}
		var listed []types.HeartRecord
		if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
			t.Fatalf("%s: decode list: %v", target, err)
		}
		for _, r := range listed {
			if r.UserID != bob {
				t.Errorf("%s: leaked record of user %d to user %d", target, r.UserID, bob)
			}
		}
	}
}

func TestDataBadPagination(t *testing.T) {
	env := newHeartTestEnv(t, true)
	userID := env.addUser(t, "a@x.com")
	token := env.userToken[userID]

	for _, target := range []string{"/data?skip=x", "/data?limit=x", "/data?skip=-1", "/data?limit=-1"} {
		rec := env.do(http.MethodGet, target, token, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}
