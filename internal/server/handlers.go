package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/sentinel-embed/internal/embeddings"
	"github.com/raaihank/sentinel-embed/internal/embederr"
	"github.com/raaihank/sentinel-embed/internal/vector"
	"github.com/raaihank/sentinel-embed/internal/websocket"
)

// EmbeddingRequest accepts "input" as a string or an array of strings
type EmbeddingRequest struct {
	Input json.RawMessage `json:"input"`
	Model string          `json:"model,omitempty"`
}

// EmbeddingData is one embedding in an EmbeddingResponse
type EmbeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// Usage reports token counts for a request
type Usage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// EmbeddingResponse mirrors the common embeddings API layout
type EmbeddingResponse struct {
	Object     string          `json:"object"`
	Model      string          `json:"model"`
	Data       []EmbeddingData `json:"data"`
	Usage      Usage           `json:"usage"`
	CacheHits  int             `json:"cache_hits"`
	DurationMS float64         `json:"duration_ms"`
}

// SimilarityRequest compares two texts
type SimilarityRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// SimilarityResponse carries the cosine similarity of two texts
type SimilarityResponse struct {
	Score      float32 `json:"score"`
	DurationMS float64 `json:"duration_ms"`
}

// SearchRequest finds stored documents similar to a query text
type SearchRequest struct {
	Query         string  `json:"query"`
	Limit         int     `json:"limit"`
	MinSimilarity float32 `json:"min_similarity"`
	Label         string  `json:"label,omitempty"`
}

// SearchResponse lists matches ordered by similarity
type SearchResponse struct {
	Results    []*vector.SimilarityResult `json:"results"`
	DurationMS float64                    `json:"duration_ms"`
}

type errorBody struct {
	Error struct {
		Type      string `json:"type"`
		Stage     string `json:"stage,omitempty"`
		Message   string `json:"message"`
		RequestID string `json:"request_id"`
	} `json:"error"`
}

// handleHealth reports whether the embedding service can serve requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.service.HealthCheck(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	body := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	}
	// An unreachable cache degrades health but never fails it.
	if s.cache != nil {
		body["cache"] = "ok"
		if err := s.cache.Ping(ctx); err != nil {
			body["cache"] = "unavailable"
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleInfo describes the loaded model and enabled features
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	stats := s.service.GetStats()
	body := map[string]interface{}{
		"name":           "sentinel-embed",
		"version":        s.version,
		"model":          stats.ModelName,
		"dimensions":     stats.Dimensions,
		"output_kind":    stats.OutputKind,
		"pooling":        stats.Pooling,
		"normalize":      s.config.Model.Normalize,
		"max_length":     s.config.Model.MaxLength,
		"max_batch":      s.config.Server.MaxBatch,
		"cache_enabled":  s.config.Cache.Enabled,
		"search_enabled": s.store != nil,
		"websocket":      s.wsHub != nil,
	}
	if mi, ok := s.service.(embeddings.ModelInfo); ok {
		body["model_info"] = mi.GetModelInfo()
	}
	writeJSON(w, http.StatusOK, body)
}

// handleStats returns model, websocket and store statistics
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"model":  s.service.GetStats(),
		"uptime": time.Since(s.startTime).Round(time.Second).String(),
	}
	if s.wsHub != nil {
		body["websocket"] = s.wsHub.GetStats()
	}
	if s.store != nil {
		if st, err := s.store.GetStats(r.Context()); err != nil {
			s.logger.Warn("Failed to read store stats", zap.Error(err))
		} else {
			body["store"] = st
		}
	}
	if s.cache != nil {
		if st, err := s.cache.GetStats(r.Context()); err != nil {
			s.logger.Warn("Failed to read cache stats", zap.Error(err))
		} else {
			body["cache"] = st
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// handleEmbeddings embeds one or more texts
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req EmbeddingRequest
	if !s.decode(w, r, &req) {
		return
	}

	texts, err := parseInput(req.Input)
	if err == nil && len(texts) > s.config.Server.MaxBatch {
		err = fmt.Errorf("%w: %d inputs exceeds the limit of %d", embederr.ErrInvalidInput, len(texts), s.config.Server.MaxBatch)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	start := time.Now()
	res, err := s.service.GenerateBatchEmbeddings(r.Context(), texts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	elapsed := time.Since(start)

	stats := s.service.GetStats()
	resp := EmbeddingResponse{
		Object:     "list",
		Model:      stats.ModelName,
		Data:       make([]EmbeddingData, len(res.Embeddings)),
		Usage:      Usage{PromptTokens: res.TotalTokens, TotalTokens: res.TotalTokens},
		CacheHits:  res.CacheHits,
		DurationMS: millis(elapsed),
	}
	for i, emb := range res.Embeddings {
		resp.Data[i] = EmbeddingData{Object: "embedding", Index: i, Embedding: emb}
	}
	writeJSON(w, http.StatusOK, resp)

	if s.wsHub != nil {
		requestID := getRequestID(r.Context())
		dims := 0
		if len(res.Embeddings) > 0 {
			dims = len(res.Embeddings[0])
		}
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeEmbeddingGenerated,
			RequestID: requestID,
			Data: websocket.EmbeddingEvent{
				RequestID:   requestID,
				Texts:       len(texts),
				Dimensions:  dims,
				TotalTokens: res.TotalTokens,
				CacheHits:   res.CacheHits,
				ClientIP:    s.clientIP(r),
				DurationMS:  millis(elapsed),
			},
		})
	}
}

// handleSimilarity embeds two texts and returns their cosine similarity
func (s *Server) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	var req SimilarityRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := embeddings.CompareTexts(r.Context(), s.service, req.A, req.B)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SimilarityResponse{Score: res.Score, DurationMS: millis(res.Duration)})

	if s.wsHub != nil {
		requestID := getRequestID(r.Context())
		s.wsHub.BroadcastEvent(websocket.Event{
			Type:      websocket.EventTypeSimilarityComputed,
			RequestID: requestID,
			Data: websocket.SimilarityEvent{
				RequestID:  requestID,
				Score:      res.Score,
				ClientIP:   s.clientIP(r),
				DurationMS: millis(res.Duration),
			},
		})
	}
}

// handleSearch embeds the query and searches the vector store
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, r, http.StatusNotImplemented, "not_configured", "", "vector store is not configured")
		return
	}

	var req SearchRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Limit > 100 {
		req.Limit = 100
	}

	start := time.Now()
	emb, err := s.service.GenerateEmbedding(r.Context(), req.Query)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	results, err := s.store.FindSimilar(r.Context(), emb.Embedding, &vector.SearchOptions{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		LabelFilter:   req.Label,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []*vector.SimilarityResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results, DurationMS: millis(time.Since(start))})
}

// decode reads a size-limited JSON body, writing a 400 on failure
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if s.config.Server.MaxBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "", err.Error())
			return false
		}
		writeError(w, r, http.StatusBadRequest, "invalid_request", string(embederr.StageInput), "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// parseInput accepts a JSON string or array of strings
func parseInput(raw json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, fmt.Errorf("%w: input is required", embederr.ErrInvalidInput)
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, fmt.Errorf("%w: input must be a string or an array of strings", embederr.ErrInvalidInput)
	}
	if len(many) == 0 {
		return nil, fmt.Errorf("%w: input is empty", embederr.ErrInvalidInput)
	}
	return many, nil
}

// StatusFor maps pipeline errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, embederr.ErrInvalidInput),
		errors.Is(err, embederr.ErrTokenization),
		errors.Is(err, embederr.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	kind := embederr.KindOf(err)
	if kind == "" {
		kind = "internal_error"
	}
	stage, _ := embederr.StageOf(err)

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("request_id", getRequestID(r.Context())),
			zap.String("kind", kind),
			zap.Error(err))
	}
	writeError(w, r, status, kind, string(stage), err.Error())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, kind, stage, message string) {
	var body errorBody
	body.Error.Type = kind
	body.Error.Stage = stage
	body.Error.Message = message
	body.Error.RequestID = getRequestID(r.Context())
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
