package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/r3d91ll/palinor/pkg/config"
	"github.com/r3d91ll/palinor/pkg/manager"
	"github.com/r3d91ll/palinor/pkg/registry"
)

type testEnv struct {
	mgr *manager.Manager
	srv *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Generation.MaxNewTokens = 6
	cfg.Server.Logging = false

	mgr, err := manager.Open(cfg)
	if err != nil {
		t.Fatalf("manager.Open: %v", err)
	}
	srv := httptest.NewServer(NewServer(cfg.Server, mgr, "test").Handler())
	t.Cleanup(func() {
		srv.Close()
		mgr.Close()
	})
	return &testEnv{mgr: mgr, srv: srv}
}

// trainVector creates a dataset and trains name on it through the manager.
func (e *testEnv) trainVector(t *testing.T, name string) {
	t.Helper()
	if _, _, err := e.mgr.CreateDataset("good-evil", "good", "evil", nil); err != nil {
		t.Fatalf("CreateDataset: %v", err)
	}
	pairs, err := e.mgr.LoadDataset("good-evil")
	if err != nil {
		t.Fatalf("LoadDataset: %v", err)
	}
	if _, _, err := e.mgr.Train(context.Background(), manager.TrainRequest{Name: name, Dataset: pairs}); err != nil {
		t.Fatalf("Train: %v", err)
	}
}

// do sends a request and decodes the envelope's data into out when non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, out interface{}) (int, APIResponse) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("%s %s: decoding envelope: %v", method, path, err)
	}
	if out != nil && len(raw.Data) > 0 {
		if err := json.Unmarshal(raw.Data, out); err != nil {
			t.Fatalf("%s %s: decoding data: %v", method, path, err)
		}
	}
	return resp.StatusCode, APIResponse{Success: raw.Success, Error: raw.Error}
}

// -----------------------------------------------------------------------------
// Health / Vector Tests
// -----------------------------------------------------------------------------

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	var h HealthResponse
	status, _ := e.do(t, http.MethodGet, "/api/health", nil, &h)
	if status != http.StatusOK || h.Status != "ok" || h.Version != "test" {
		t.Fatalf("health = %d %+v", status, h)
	}
	if h.Model != e.mgr.ModelName() || h.Layers != 4 || h.HiddenDim != 32 {
		t.Errorf("unexpected model info %+v", h)
	}
}

func TestVectors_ListGetDelete(t *testing.T) {
	e := newTestEnv(t)

	var list VectorListResponse
	e.do(t, http.MethodGet, "/api/vectors", nil, &list)
	if list.Vectors == nil || len(list.Vectors) != 0 {
		t.Fatalf("empty list should be [] not null: %+v", list)
	}

	e.trainVector(t, "kind")
	e.do(t, http.MethodGet, "/api/vectors", nil, &list)
	if len(list.Vectors) != 1 || list.Vectors[0].Name != "kind" || list.Model != e.mgr.ModelName() {
		t.Fatalf("list = %+v", list)
	}

	var v VectorResponse
	status, _ := e.do(t, http.MethodGet, "/api/vectors/kind", nil, &v)
	if status != http.StatusOK || v.Name != "kind" || v.HiddenDim != 32 || len(v.LayerIDs) != 1 {
		t.Fatalf("get = %d %+v", status, v)
	}
	if v.Fingerprint != list.Vectors[0].Fingerprint {
		t.Errorf("fingerprint %s differs from catalog %s", v.Fingerprint, list.Vectors[0].Fingerprint)
	}

	status, _ = e.do(t, http.MethodDelete, "/api/vectors/kind", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("delete status %d", status)
	}
	status, resp := e.do(t, http.MethodGet, "/api/vectors/kind", nil, nil)
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != "VECTOR_NOT_FOUND" {
		t.Errorf("after delete: %d %+v", status, resp.Error)
	}
}

func TestTrainVector(t *testing.T) {
	e := newTestEnv(t)
	if _, _, err := e.mgr.CreateDataset("calm", "calm", "anxious", nil); err != nil {
		t.Fatal(err)
	}

	var entry registry.Entry
	status, _ := e.do(t, http.MethodPost, "/api/vectors",
		TrainRequest{Name: "steady", Dataset: "calm", Positive: "calm", Negative: "anxious"}, &entry)
	if status != http.StatusCreated || entry.Name != "steady" || entry.Positive != "calm" || entry.Pairs != 8 {
		t.Fatalf("train = %d %+v", status, entry)
	}

	tests := []struct {
		name   string
		req    TrainRequest
		status int
		code   string
	}{
		{"missing dataset", TrainRequest{Name: "x"}, http.StatusBadRequest, "VALIDATION_REQUIRED"},
		{"bad name", TrainRequest{Name: "../x", Dataset: "calm"}, http.StatusBadRequest, "VALIDATION_INVALID_VALUE"},
		{"unknown dataset", TrainRequest{Name: "x", Dataset: "nope"}, http.StatusNotFound, "IO_READ_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := e.do(t, http.MethodPost, "/api/vectors", tt.req, nil)
			if status != tt.status || resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("got %d %+v, want %d %s", status, resp.Error, tt.status, tt.code)
			}
		})
	}
}

func TestListDatasets(t *testing.T) {
	e := newTestEnv(t)
	var out map[string][]string
	e.do(t, http.MethodGet, "/api/datasets", nil, &out)
	if out["datasets"] == nil || len(out["datasets"]) != 0 {
		t.Fatalf("datasets = %v", out)
	}
	e.mgr.CreateDataset("calm", "calm", "anxious", nil)
	e.do(t, http.MethodGet, "/api/datasets", nil, &out)
	if len(out["datasets"]) != 1 || out["datasets"][0] != "calm" {
		t.Errorf("datasets = %v", out)
	}
}

// -----------------------------------------------------------------------------
// Generate Tests
// -----------------------------------------------------------------------------

func TestGenerate(t *testing.T) {
	e := newTestEnv(t)
	e.trainVector(t, "kind")

	var plain, steered, again GenerateResponse
	e.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "Once upon a time"}, &plain)
	e.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "Once upon a time", Vector: "kind", Strength: floatPtr(8)}, &steered)
	e.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "Once upon a time"}, &again)

	if len(plain.Tokens) == 0 || len(plain.Tokens) > 6 {
		t.Fatalf("plain completion has %d tokens", len(plain.Tokens))
	}
	if steered.Vector != "kind" || steered.Strength != 8 {
		t.Errorf("steered response %+v", steered)
	}
	if equalInts(plain.Tokens, steered.Tokens) {
		t.Error("steering did not change the completion")
	}
	if !equalInts(plain.Tokens, again.Tokens) {
		t.Error("steering leaked into a later unsteered request")
	}
}

func TestGenerate_DefaultStrength(t *testing.T) {
	e := newTestEnv(t)
	e.trainVector(t, "kind")

	var plain, implicit, explicit, zero GenerateResponse
	e.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "Once upon a time"}, &plain)
	e.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "Once upon a time", Vector: "kind"}, &implicit)
	e.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "Once upon a time", Vector: "kind", Strength: floatPtr(1)}, &explicit)
	e.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "Once upon a time", Vector: "kind", Strength: floatPtr(0)}, &zero)

	if implicit.Strength != 1 {
		t.Errorf("implicit strength = %g, want 1", implicit.Strength)
	}
	if !equalInts(implicit.Tokens, explicit.Tokens) {
		t.Errorf("omitted strength gave %v, strength 1 gave %v", implicit.Tokens, explicit.Tokens)
	}
	if equalInts(plain.Tokens, implicit.Tokens) {
		t.Error("naming a vector without a strength left the completion unsteered")
	}
	if !equalInts(plain.Tokens, zero.Tokens) {
		t.Error("explicit zero strength changed the completion")
	}
}

func TestGenerateRequest_StrengthDefaults(t *testing.T) {
	defaults := config.Default().Generation.Options()
	tests := []struct {
		name string
		req  GenerateRequest
		want float64
	}{
		{"no vector", GenerateRequest{Prompt: "hi"}, 0},
		{"vector only", GenerateRequest{Prompt: "hi", Vector: "kind"}, manager.DefaultStrength},
		{"explicit", GenerateRequest{Prompt: "hi", Vector: "kind", Strength: floatPtr(-2)}, -2},
		{"explicit zero", GenerateRequest{Prompt: "hi", Vector: "kind", Strength: floatPtr(0)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.toManager(defaults)
			if err != nil {
				t.Fatalf("toManager: %v", err)
			}
			if got.Strength != tt.want {
				t.Errorf("strength = %g, want %g", got.Strength, tt.want)
			}
		})
	}
}

func TestGenerate_Options(t *testing.T) {
	e := newTestEnv(t)
	n := 3
	var out GenerateResponse
	status, _ := e.do(t, http.MethodPost, "/api/generate", GenerateRequest{Prompt: "hi", MaxNewTokens: &n}, &out)
	if status != http.StatusOK || len(out.Tokens) > 3 {
		t.Fatalf("status %d, %d tokens", status, len(out.Tokens))
	}

	zero, neg := 0, -1.0
	tests := []struct {
		name string
		req  GenerateRequest
		code string
	}{
		{"zero max tokens", GenerateRequest{Prompt: "hi", MaxNewTokens: &zero}, "VALIDATION_INVALID_VALUE"},
		{"negative temperature", GenerateRequest{Prompt: "hi", Temperature: &neg}, "VALIDATION_INVALID_VALUE"},
		{"unknown vector", GenerateRequest{Prompt: "hi", Vector: "nope"}, "VECTOR_NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp := e.do(t, http.MethodPost, "/api/generate", tt.req, nil)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want %s", resp.Error, tt.code)
			}
		})
	}
}

func TestGenerate_RejectsUnknownFields(t *testing.T) {
	e := newTestEnv(t)
	status, resp := e.do(t, http.MethodPost, "/api/generate", map[string]interface{}{"prompt": "hi", "coefficient": 2}, nil)
	if status != http.StatusBadRequest || resp.Error == nil {
		t.Errorf("got %d %+v", status, resp.Error)
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func floatPtr(f float64) *float64 { return &f }
