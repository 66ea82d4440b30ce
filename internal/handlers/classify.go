package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/radiolens/radiolens/internal/config"
	"github.com/radiolens/radiolens/internal/modality"
	"github.com/radiolens/radiolens/internal/pipeline"
	"github.com/radiolens/radiolens/internal/ratelimit"
	"github.com/radiolens/radiolens/internal/upload"
)

// Runner is the classification entry point.
type Runner interface {
	Run(ctx context.Context, modalityTag, imagePath string) (*pipeline.Result, error)
}

// ModelStatus reports which classifiers are resident.
type ModelStatus interface {
	Loaded() []modality.Modality
}

// multipart parts beyond this are spooled to disk by net/http.
const formMemory = 8 << 20

type ClassifyHandler struct {
	runner    Runner
	models    ModelStatus
	limiter   *ratelimit.Limiter
	maxUpload int64
	config    configView
	logger    *slog.Logger
}

func NewClassifyHandler(runner Runner, models ModelStatus, cfg *config.Config, limiter *ratelimit.Limiter, logger *slog.Logger) *ClassifyHandler {
	return &ClassifyHandler{
		runner:    runner,
		models:    models,
		limiter:   limiter,
		maxUpload: cfg.Server.MaxUploadMB << 20,
		config:    newConfigView(cfg),
		logger:    logger,
	}
}

// Classify handles POST /v1/classify with a multipart form holding a
// "modality" field and an "image" file.
func (h *ClassifyHandler) Classify(w http.ResponseWriter, r *http.Request) {
	if h.limiter.Check(w, r, "classify") {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+formMemory)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "request too large", http.StatusRequestEntityTooLarge)
			return
		}
		jsonError(w, "multipart form with modality and image is required", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	tag := r.FormValue("modality")
	if tag == "" {
		jsonError(w, "modality field is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		jsonError(w, "image file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	path, cleanup, err := upload.SaveTemp(file, header.Filename, h.maxUpload)
	if err != nil {
		jsonError(w, err.Error(), uploadStatus(err))
		return
	}
	defer cleanup()

	result, err := h.runner.Run(r.Context(), tag, path)
	if err != nil {
		h.logger.Warn("classification failed", "modality", tag, "err", err)
		writeRunError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetConfig handles GET /v1/config. No credentials are exposed.
func (h *ClassifyHandler) GetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.config)
}

// Health handles GET /healthz.
func (h *ClassifyHandler) Health(w http.ResponseWriter, _ *http.Request) {
	loaded := []string{}
	for _, m := range h.models.Loaded() {
		loaded = append(loaded, m.String())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"loaded_models": loaded,
	})
}

type modelView struct {
	Modality string   `json:"modality"`
	ModelID  string   `json:"model_id"`
	Labels   []string `json:"labels"`
	Device   string   `json:"device"`
}

type configView struct {
	Modalities  []modelView `json:"modalities"`
	Provider    string      `json:"insight_provider"`
	Model       string      `json:"insight_model"`
	MaxUploadMB int64       `json:"max_upload_mb"`
}

func newConfigView(cfg *config.Config) configView {
	view := configView{
		Modalities:  []modelView{},
		Provider:    cfg.Insight.Provider,
		Model:       cfg.Insight.Model,
		MaxUploadMB: cfg.Server.MaxUploadMB,
	}
	for m, spec := range cfg.Specs() {
		view.Modalities = append(view.Modalities, modelView{
			Modality: m.String(),
			ModelID:  spec.ModelID,
			Labels:   spec.Labels,
			Device:   spec.Device,
		})
	}
	slices.SortFunc(view.Modalities, func(a, b modelView) int {
		return strings.Compare(a.Modality, b.Modality)
	})
	return view
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, upload.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrEmpty):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
