package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	perrors "github.com/r3d91ll/palinor/pkg/errors"
	"github.com/r3d91ll/palinor/pkg/manager"
	"github.com/r3d91ll/palinor/pkg/model"
	"github.com/r3d91ll/palinor/pkg/registry"
	"github.com/r3d91ll/palinor/pkg/vector"
)

// Handlers serves the vector and generation endpoints for one manager.
type Handlers struct {
	mgr      *manager.Manager
	version  string
	started  time.Time
	upgrader websocket.Upgrader
}

// NewHandlers creates handlers backed by mgr. Websocket upgrades accept
// same-origin requests until SetAllowedOrigins is called.
func NewHandlers(mgr *manager.Manager, version string) *Handlers {
	return &Handlers{
		mgr:      mgr,
		version:  version,
		started:  time.Now(),
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

// SetAllowedOrigins makes websocket upgrades accept the given origins. "*"
// accepts any origin; requests without an Origin header are always accepted.
func (h *Handlers) SetAllowedOrigins(origins []string) {
	allowed := originAllowed(origins)
	h.upgrader.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed(origin)
	}
}

// RegisterRoutes registers the API routes on the router.
func (h *Handlers) RegisterRoutes(router *Router) {
	router.GET("/api/health", h.Health)
	router.GET("/api/vectors", h.ListVectors)
	router.POST("/api/vectors", h.TrainVector)
	router.GET("/api/vectors/:name", h.GetVector)
	router.DELETE("/api/vectors/:name", h.DeleteVector)
	router.GET("/api/datasets", h.ListDatasets)
	router.POST("/api/generate", h.Generate)
	router.GET("/api/generate/stream", h.GenerateStream)
}

// -----------------------------------------------------------------------------
// API Types
// -----------------------------------------------------------------------------

// HealthResponse is the JSON response for GET /api/health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Model     string `json:"model"`
	Layers    int    `json:"layers"`
	HiddenDim int    `json:"hidden_dim"`
	Uptime    string `json:"uptime"`
}

// VectorListResponse is the JSON response for GET /api/vectors.
type VectorListResponse struct {
	Model   string           `json:"model"`
	Vectors []registry.Entry `json:"vectors"`
}

// VectorResponse describes one loaded vector.
type VectorResponse struct {
	vector.Metadata
	HiddenDim   int             `json:"hidden_dim"`
	LayerIDs    []model.LayerID `json:"layer_ids"`
	Fingerprint string          `json:"fingerprint"`
}

// TrainRequest is the JSON body for POST /api/vectors.
type TrainRequest struct {
	Name     string `json:"name"`
	Dataset  string `json:"dataset"`
	Positive string `json:"positive,omitempty"`
	Negative string `json:"negative,omitempty"`
}

// GenerateRequest is the JSON body for POST /api/generate and the first
// message of a generation stream. Unset options fall back to the configured
// generation defaults.
type GenerateRequest struct {
	Prompt       string   `json:"prompt"`
	Vector       string   `json:"vector,omitempty"`
	Strength     *float64 `json:"strength,omitempty"` // default manager.DefaultStrength when Vector is set
	MaxNewTokens *int     `json:"max_new_tokens,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	Seed         *int64   `json:"seed,omitempty"`
}

// GenerateResponse is the JSON response for POST /api/generate.
type GenerateResponse struct {
	Prompt   string  `json:"prompt"`
	Text     string  `json:"text"`
	Tokens   []int   `json:"tokens"`
	Vector   string  `json:"vector,omitempty"`
	Strength float64 `json:"strength,omitempty"`
}

// toManager validates req and merges its options over defaults.
func (req GenerateRequest) toManager(defaults model.GenerateOptions) (manager.GenerateRequest, error) {
	opts := defaults
	if req.MaxNewTokens != nil {
		if *req.MaxNewTokens <= 0 {
			return manager.GenerateRequest{}, perrors.Validationf(perrors.ErrValidationInvalidValue,
				"max_new_tokens must be positive, got %d", *req.MaxNewTokens)
		}
		opts.MaxNewTokens = *req.MaxNewTokens
	}
	if req.Temperature != nil {
		if *req.Temperature < 0 {
			return manager.GenerateRequest{}, perrors.Validationf(perrors.ErrValidationInvalidValue,
				"temperature must not be negative, got %g", *req.Temperature)
		}
		opts.Temperature = *req.Temperature
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}

	var strength float64
	switch {
	case req.Strength != nil:
		strength = *req.Strength
	case req.Vector != "":
		strength = manager.DefaultStrength
	}
	return manager.GenerateRequest{
		Prompt:   req.Prompt,
		Vector:   req.Vector,
		Strength: strength,
		Options:  &opts,
	}, nil
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// Health handles GET /api/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	cfg := h.mgr.Config().Model
	WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Version:   h.version,
		Model:     h.mgr.ModelName(),
		Layers:    cfg.Layers,
		HiddenDim: cfg.HiddenDim,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// ListVectors handles GET /api/vectors.
func (h *Handlers) ListVectors(w http.ResponseWriter, r *http.Request) {
	entries, err := h.mgr.List(r.Context())
	if err != nil {
		WriteErr(w, err)
		return
	}
	if entries == nil {
		entries = []registry.Entry{}
	}
	WriteJSON(w, http.StatusOK, VectorListResponse{Model: h.mgr.ModelName(), Vectors: entries})
}

// GetVector handles GET /api/vectors/:name.
func (h *Handlers) GetVector(w http.ResponseWriter, r *http.Request) {
	v, err := h.mgr.Vector(r.Context(), PathParam(r, "name"))
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, VectorResponse{
		Metadata:    v.Meta(),
		HiddenDim:   v.HiddenDim(),
		LayerIDs:    v.LayerIDs(),
		Fingerprint: v.Fingerprint(),
	})
}

// TrainVector handles POST /api/vectors. Training runs synchronously.
func (h *Handlers) TrainVector(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}
	if req.Dataset == "" {
		WriteErr(w, perrors.Validation(perrors.ErrValidationRequired, "dataset is required"))
		return
	}
	pairs, err := h.mgr.LoadDataset(req.Dataset)
	if err != nil {
		WriteErr(w, err)
		return
	}
	_, entry, err := h.mgr.Train(r.Context(), manager.TrainRequest{
		Name:    req.Name,
		Dataset: pairs,
		Traits:  vector.Traits{Positive: req.Positive, Negative: req.Negative},
	})
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, entry)
}

// DeleteVector handles DELETE /api/vectors/:name.
func (h *Handlers) DeleteVector(w http.ResponseWriter, r *http.Request) {
	name := PathParam(r, "name")
	if err := h.mgr.Delete(r.Context(), name); err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"name": name, "status": "deleted"})
}

// ListDatasets handles GET /api/datasets.
func (h *Handlers) ListDatasets(w http.ResponseWriter, r *http.Request) {
	names, err := h.mgr.Datasets()
	if err != nil {
		WriteErr(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	WriteJSON(w, http.StatusOK, map[string][]string{"datasets": names})
}

// Generate handles POST /api/generate.
func (h *Handlers) Generate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := ReadJSON(r, &req); err != nil {
		WriteErr(w, err)
		return
	}
	mreq, err := req.toManager(h.mgr.Config().Generation.Options())
	if err != nil {
		WriteErr(w, err)
		return
	}
	res, err := h.mgr.Generate(r.Context(), mreq)
	if err != nil {
		WriteErr(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, GenerateResponse{
		Prompt:   req.Prompt,
		Text:     res.Text,
		Tokens:   res.Tokens,
		Vector:   req.Vector,
		Strength: mreq.Strength,
	})
}
