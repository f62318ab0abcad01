package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bristolhouse/db"
	"bristolhouse/ml"
	"bristolhouse/monitoring"
	"bristolhouse/serving"
)

// Registry 训练记录查询接口
type Registry interface {
	LatestForVersion(ctx context.Context, version string) (*db.TrainingRecord, error)
}

// handlers 持有请求处理所需的依赖
type handlers struct {
	service  *serving.Service
	metrics  *monitoring.MetricsCollector
	registry Registry
	logger   *zap.Logger
}

// RootResponse 根路径响应
type RootResponse struct {
	Message     string `json:"message"`
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status      string `json:"status"`
	ModelStatus string `json:"model_status"`
}

// ModelResponse 模型元数据响应
type ModelResponse struct {
	Version         string             `json:"version"`
	Path            string             `json:"path,omitempty"`
	LoadedAt        time.Time          `json:"loaded_at"`
	TrainedAt       *time.Time         `json:"trained_at,omitempty"`
	Columns         []string           `json:"columns"`
	TargetTransform string             `json:"target_transform,omitempty"`
	Trees           int                `json:"trees,omitempty"`
	StrictMode      bool               `json:"strict_validation"`
	Evaluation      *db.TrainingRecord `json:"evaluation,omitempty"`
}

func (h *handlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("POST /predict", h.handlePredict)
	mux.HandleFunc("GET /model", h.handleModel)
	mux.HandleFunc("GET /metrics", h.handleMetrics)
	mux.HandleFunc("GET /ws/predict", h.handlePredictWS)
}

func (h *handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, RootResponse{
		Message:     "Bristol House Price Predictor API",
		Status:      "running",
		ModelLoaded: h.service.Ready(),
	})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "healthy",
		ModelStatus: h.service.Status(),
	})
}

// handlePredict 未加载模型时优先返回500，再校验请求体
func (h *handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	if !h.service.Ready() {
		writeError(w, serving.ModelUnavailable())
		return
	}

	var req serving.Request
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.service.Predict(r.Context(), req)
	if err != nil {
		h.logger.Debug("prediction rejected",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("kind", serving.KindOf(err).String()),
			zap.Error(err),
		)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleModel(w http.ResponseWriter, r *http.Request) {
	installed := h.service.Installed()
	if installed == nil {
		writeError(w, serving.ModelUnavailable())
		return
	}

	resp := ModelResponse{
		Version:    installed.Model.ModelVersion(),
		LoadedAt:   installed.LoadedAt,
		Columns:    installed.Model.Columns(),
		StrictMode: h.service.Strict(),
	}
	if artifact, ok := installed.Model.(*ml.Artifact); ok {
		trainedAt := artifact.TrainedAt
		resp.Path = artifact.Path
		resp.TrainedAt = &trainedAt
		resp.TargetTransform = artifact.TargetTransform
		resp.Trees = len(artifact.Booster.Trees)
	}

	if h.registry != nil {
		rec, err := h.registry.LatestForVersion(r.Context(), resp.Version)
		switch {
		case err == nil:
			resp.Evaluation = rec
		case errors.Is(err, db.ErrNotFound):
		default:
			h.logger.Warn("registry lookup failed", zap.String("version", resp.Version), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// decodeRequest 解析请求体，拒绝多余的JSON内容
func decodeRequest(r *http.Request, req *serving.Request) error {
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return serving.BadRequest(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), err)
		}
		return serving.BadRequest("invalid JSON body: "+err.Error(), err)
	}
	if decoder.More() {
		return serving.BadRequest("invalid JSON body: unexpected data after object", nil)
	}
	return nil
}
