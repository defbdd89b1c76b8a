package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/sentinel-embed/internal/cache"
	"github.com/raaihank/sentinel-embed/internal/config"
	"github.com/raaihank/sentinel-embed/internal/embeddings"
	"github.com/raaihank/sentinel-embed/internal/embederr"
	"github.com/raaihank/sentinel-embed/internal/logger"
	"github.com/raaihank/sentinel-embed/internal/vector"
	"github.com/raaihank/sentinel-embed/internal/websocket"
)

type fakeService struct {
	healthErr error
	err       error
}

func (f *fakeService) GenerateEmbedding(ctx context.Context, text string) (*embeddings.EmbeddingResult, error) {
	res, err := f.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return &embeddings.EmbeddingResult{Embedding: res.Embeddings[0], TokenCount: res.TokenCounts[0]}, nil
}

func (f *fakeService) GenerateBatchEmbeddings(_ context.Context, texts []string) (*embeddings.BatchEmbeddingResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	res := &embeddings.BatchEmbeddingResult{Batches: 1}
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty text", embederr.ErrInvalidInput)
		}
		// "cat"-like texts point one way, everything else the other
		v := []float32{1, 0, 0}
		if !strings.Contains(t, "cat") {
			v = []float32{0, 1, 0}
		}
		res.Embeddings = append(res.Embeddings, v)
		res.TokenCounts = append(res.TokenCounts, 3)
		res.TotalTokens += 3
	}
	return res, nil
}

func (f *fakeService) ComputeSimilarity(a, b []float32) (float32, error) {
	return embeddings.CosineSimilarity(a, b)
}

func (f *fakeService) GetStats() *embeddings.ModelStats {
	return &embeddings.ModelStats{ModelName: "fake-minilm", Dimensions: 3, OutputKind: "token_hidden", Pooling: "mean"}
}

func (f *fakeService) HealthCheck(context.Context) error { return f.healthErr }
func (f *fakeService) Close() error                      { return nil }

type fakeStore struct {
	gotOpts *vector.SearchOptions
}

func (s *fakeStore) FindSimilar(_ context.Context, emb []float32, opts *vector.SearchOptions) ([]*vector.SimilarityResult, error) {
	s.gotOpts = opts
	return []*vector.SimilarityResult{
		{Document: &vector.Document{ID: 7, Text: "a cat on a mat", Label: "pets"}, Similarity: 0.91, Distance: 0.09},
	}, nil
}

func (s *fakeStore) GetStats(context.Context) (*vector.Stats, error) {
	return &vector.Stats{TotalDocuments: 1, ByLabel: map[string]int64{"pets": 1}, Dimensions: 3}, nil
}

type fakeCache struct {
	pingErr error
}

func (c *fakeCache) GetStats(context.Context) (*cache.CacheStats, error) {
	return &cache.CacheStats{Hits: 3, Misses: 1, HitRate: 75, TotalKeys: 4}, nil
}

func (c *fakeCache) Ping(context.Context) error { return c.pingErr }

// infoService also describes its model
type infoService struct {
	fakeService
}

func (s *infoService) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{"cache_namespace": "fake-minilm@0123456789abcdef"}
}

func newTestServer(t *testing.T, svc embeddings.EmbeddingService, mutate func(*config.Config), opts Options) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.Server.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	return New(cfg, log, svc, opts)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}, nil, Options{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)

	rec = do(t, newTestServer(t, &fakeService{healthErr: embederr.ErrModelLoad}, nil, Options{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInfo(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}, nil, Options{Version: "1.2.3"}), http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "fake-minilm", body["model"])
	assert.Equal(t, float64(3), body["dimensions"])
	assert.Equal(t, false, body["search_enabled"])
}

func TestEmbeddings(t *testing.T) {
	s := newTestServer(t, &fakeService{}, nil, Options{})

	t.Run("single string", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/v1/embeddings", `{"input":"a cat"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp EmbeddingResponse
		decodeBody(t, rec, &resp)
		require.Len(t, resp.Data, 1)
		assert.Equal(t, []float32{1, 0, 0}, resp.Data[0].Embedding)
		assert.Equal(t, "list", resp.Object)
		assert.Equal(t, 3, resp.Usage.TotalTokens)
		assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	})

	t.Run("array keeps order", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/v1/embeddings", `{"input":["a dog","a cat"]}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var resp EmbeddingResponse
		decodeBody(t, rec, &resp)
		require.Len(t, resp.Data, 2)
		assert.Equal(t, 1, resp.Data[1].Index)
		assert.Equal(t, []float32{1, 0, 0}, resp.Data[1].Embedding)
	})

	tests := map[string]string{
		"empty array":   `{"input":[]}`,
		"missing input": `{}`,
		"wrong type":    `{"input":42}`,
		"blank text":    `{"input":["ok","  "]}`,
		"bad json":      `{"input":`,
		"unknown field": `{"input":"x","extra":1}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, "/v1/embeddings", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	t.Run("too many inputs", func(t *testing.T) {
		small := newTestServer(t, &fakeService{}, func(c *config.Config) { c.Server.MaxBatch = 1 }, Options{})
		rec := do(t, small, http.MethodPost, "/v1/embeddings", `{"input":["a","b"]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		var body errorBody
		decodeBody(t, rec, &body)
		assert.Equal(t, "invalid_input", body.Error.Type)
	})

	t.Run("inference failure", func(t *testing.T) {
		broken := newTestServer(t, &fakeService{err: fmt.Errorf("%w: session closed", embederr.ErrInference)}, nil, Options{})
		rec := do(t, broken, http.MethodPost, "/v1/embeddings", `{"input":"x"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		var body errorBody
		decodeBody(t, rec, &body)
		assert.Equal(t, "inference_failed", body.Error.Type)
		assert.Equal(t, "inference", body.Error.Stage)
	})

	t.Run("body too large", func(t *testing.T) {
		tiny := newTestServer(t, &fakeService{}, func(c *config.Config) { c.Server.MaxBodyBytes = 16 }, Options{})
		rec := do(t, tiny, http.MethodPost, "/v1/embeddings", `{"input":"`+strings.Repeat("x", 64)+`"}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestSimilarity(t *testing.T) {
	s := newTestServer(t, &fakeService{}, nil, Options{})

	rec := do(t, s, http.MethodPost, "/v1/similarity", `{"a":"a cat","b":"the cat sat"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp SimilarityResponse
	decodeBody(t, rec, &resp)
	assert.InDelta(t, 1.0, resp.Score, 1e-6)

	rec = do(t, s, http.MethodPost, "/v1/similarity", `{"a":"a cat","b":"a dog"}`)
	decodeBody(t, rec, &resp)
	assert.InDelta(t, 0.0, resp.Score, 1e-6)

	rec = do(t, s, http.MethodPost, "/v1/similarity", `{"a":"a cat","b":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}, nil, Options{}), http.MethodPost, "/v1/search", `{"query":"cat"}`)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	store := &fakeStore{}
	s := newTestServer(t, &fakeService{}, nil, Options{Store: store})
	rec = do(t, s, http.MethodPost, "/v1/search", `{"query":"cat","limit":500,"label":"pets"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SearchResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, int64(7), resp.Results[0].Document.ID)
	assert.Equal(t, 100, store.gotOpts.Limit)
	assert.Equal(t, "pets", store.gotOpts.LabelFilter)

	rec = do(t, s, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_documents":1`)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, &fakeService{}, func(c *config.Config) {
		c.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.01, Burst: 2}
	}, Options{})

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/embeddings", `{"input":"x"}`).Code)
	}
	rec := do(t, s, http.MethodPost, "/v1/embeddings", `{"input":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("Retry-After"))

	// health checks are not limited
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/health", "").Code)
}

func TestRequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, &fakeService{}, nil, Options{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestDashboardAndWebSocketRoutes(t *testing.T) {
	s := newTestServer(t, &fakeService{}, nil, Options{})
	rec := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	off := newTestServer(t, &fakeService{}, func(c *config.Config) { c.WebSocket.Enabled = false }, Options{})
	assert.Nil(t, off.Hub())
	assert.Equal(t, http.StatusNotFound, do(t, off, http.MethodGet, "/ws", "").Code)
}

func TestEmbeddingEventBroadcast(t *testing.T) {
	s := newTestServer(t, &fakeService{}, nil, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Hub().Run(ctx)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	conn, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()
	require.Eventually(t, func() bool { return s.Hub().ClientCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	httpResp, err := http.Post(srv.URL+"/v1/embeddings", "application/json", strings.NewReader(`{"input":["a cat","a dog"]}`))
	require.NoError(t, err)
	httpResp.Body.Close()
	require.Equal(t, http.StatusOK, httpResp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev websocket.Event
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, websocket.EventTypeEmbeddingGenerated, ev.Type)
	assert.Equal(t, httpResp.Header.Get(RequestIDHeader), ev.RequestID)
	assert.Equal(t, float64(2), ev.Data.(map[string]interface{})["texts"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: blank", embederr.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: bad", embederr.ErrTokenization), http.StatusBadRequest},
		{embederr.ErrDimensionMismatch, http.StatusBadRequest},
		{embederr.ErrInference, http.StatusInternalServerError},
		{embederr.ErrModelLoad, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{fmt.Errorf("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"))
	assert.Equal(t, float64(1), rl.Tokens("10.0.0.9"))

	assert.Equal(t, 0, rl.CleanupOldBuckets(time.Now().Add(-time.Hour)))
	assert.Equal(t, 2, rl.CleanupOldBuckets(time.Now().Add(time.Second)))
	assert.True(t, rl.Allow("10.0.0.1"))
}

func TestHealthReportsCache(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}, nil, Options{Cache: &fakeCache{}}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cache":"ok"`)

	rec = do(t, newTestServer(t, &fakeService{}, nil, Options{Cache: &fakeCache{pingErr: fmt.Errorf("refused")}}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "an unreachable cache must not fail health")
	assert.Contains(t, rec.Body.String(), `"cache":"unavailable"`)
}

func TestStatsIncludeCache(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeService{}, nil, Options{Cache: &fakeCache{}}), http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Cache *cache.CacheStats `json:"cache"`
	}
	decodeBody(t, rec, &body)
	require.NotNil(t, body.Cache)
	assert.Equal(t, int64(3), body.Cache.Hits)
	assert.Equal(t, int64(4), body.Cache.TotalKeys)
}

func TestInfoIncludesModelInfo(t *testing.T) {
	rec := do(t, newTestServer(t, &infoService{}, nil, Options{}), http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"cache_namespace":"fake-minilm@0123456789abcdef"`)
}

func TestRateLimitKeysOnPeerAddress(t *testing.T) {
	send := func(s *Server, n int) int {
		allowed := 0
		for i := 0; i < n; i++ {
			req := httptest.NewRequest(http.MethodPost, "/v1/embeddings", strings.NewReader(`{"input":"x"}`))
			req.RemoteAddr = "198.51.100.7:40000"
			req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			if rec.Code == http.StatusOK {
				allowed++
			}
		}
		return allowed
	}
	limited := func(trust bool) func(*config.Config) {
		return func(c *config.Config) {
			c.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: 0.01, Burst: 2}
			c.Server.TrustProxyHeaders = trust
		}
	}

	s := newTestServer(t, &fakeService{}, limited(false), Options{})
	assert.Equal(t, 2, send(s, 50), "rotating X-Forwarded-For must not reset the bucket")
	assert.Equal(t, 1, s.limiter.Len())

	s = newTestServer(t, &fakeService{}, limited(true), Options{})
	assert.Equal(t, 50, send(s, 50), "behind a trusted proxy each forwarded client has its own bucket")
}

func TestRateLimiterIdleAfter(t *testing.T) {
	assert.Equal(t, time.Minute, NewRateLimiter(20, 40).idleAfter())
	assert.Equal(t, 200*time.Second, NewRateLimiter(0.01, 2).idleAfter())
}
