package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cutroom/backend/internal/config"
	"github.com/cutroom/backend/internal/ffmpeg"
	"github.com/cutroom/backend/internal/models"
	"github.com/cutroom/backend/internal/orchestrator"
	"github.com/cutroom/backend/internal/services"
	"github.com/cutroom/backend/internal/storage"
)

type testServer struct {
	router  *gin.Engine
	storage *storage.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Server:  config.ServerConfig{Port: 8080, CorsOrigins: []string{"*"}},
		Storage: config.StorageConfig{BasePath: t.TempDir(), CleanupAfterDays: 7},
	}
	m := storage.NewManager(cfg.Storage.BasePath, zap.NewNop())
	if err := m.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	missing := filepath.Join(t.TempDir(), "missing")
	engine := ffmpeg.NewExecutor(ffmpeg.Options{FFmpegPath: missing, FFprobePath: missing}, zap.NewNop())
	orch := orchestrator.New(engine, storage.NewTempRegistry(m.TempDir(), zap.NewNop()), nil, zap.NewNop(),
		orchestrator.Config{MaxConcurrency: 1, OutputDir: m.OutputsDir()})

	svc := services.NewServices(m, orch, nil, cfg, zap.NewNop())
	return &testServer{router: NewRouter(svc, orch, cfg, zap.NewNop()), storage: m}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t)
	if w := s.do(t, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("GET /health = %d", w.Code)
	}
	w := s.do(t, http.MethodGet, "/api/system/info", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /api/system/info = %d", w.Code)
	}
	info := decode[map[string]any](t, w)
	if info["max_concurrency"] != float64(1) {
		t.Errorf("info = %v", info)
	}
}

func TestMediaEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/media/presets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("presets = %d", w.Code)
	}
	presets := decode[services.Presets](t, w)
	if len(presets.Qualities) == 0 || len(presets.Operations) != len(models.OperationTypes) {
		t.Errorf("presets = %+v", presets)
	}

	w = s.do(t, http.MethodGet, "/api/media/estimate?bitrate=8&minutes=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("estimate = %d %s", w.Code, w.Body)
	}
	if est := decode[map[string]any](t, w); est["mb"] != float64(600) {
		t.Errorf("estimate = %v", est)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/media/estimate?minutes=abc", http.StatusBadRequest},
		{"/api/media/estimate?bitrate=-1&minutes=10", http.StatusBadRequest},
		{"/api/media/estimate?quality=ultra&minutes=1", http.StatusOK},
		{"/api/media/probe", http.StatusBadRequest},
		{"/api/media/probe?path=notes.txt", http.StatusBadRequest},
		{"/api/media/probe?path=clip.mp4", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if w := s.do(t, http.MethodGet, tt.path, nil); w.Code != tt.want {
			t.Errorf("GET %s = %d, want %d (%s)", tt.path, w.Code, tt.want, w.Body)
		}
	}
}

func TestProjectEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/projects", map[string]any{
		"name":   "demo",
		"assets": []map[string]string{{"path": "/media/a.mp4"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", w.Code, w.Body)
	}
	project := decode[models.Project](t, w)

	w = s.do(t, http.MethodPost, "/api/projects/"+project.ID+"/segments",
		models.Segment{ID: "s1", Source: "/media/a.mp4", Start: 0, End: 2})
	if w.Code != http.StatusCreated {
		t.Fatalf("add segment = %d %s", w.Code, w.Body)
	}

	w = s.do(t, http.MethodPost, "/api/projects/"+project.ID+"/segments",
		models.Segment{Source: "/media/a.mp4", Start: 3, End: 1})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid segment = %d", w.Code)
	}

	if w := s.do(t, http.MethodGet, "/api/projects/"+project.ID, nil); w.Code != http.StatusOK {
		t.Errorf("get = %d", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/api/projects/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("get missing = %d", w.Code)
	}
	if w := s.do(t, http.MethodDelete, "/api/projects/"+project.ID+"/segments/zz", nil); w.Code != http.StatusNotFound {
		t.Errorf("delete missing segment = %d", w.Code)
	}

	w = s.do(t, http.MethodPost, "/api/projects/"+project.ID+"/export", models.ExportRequest{Quality: "bogus"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("export with unknown quality = %d %s", w.Code, w.Body)
	}

	if w := s.do(t, http.MethodDelete, "/api/projects/"+project.ID, nil); w.Code != http.StatusOK {
		t.Errorf("delete = %d", w.Code)
	}
}

func TestOperationEndpoints(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing params", map[string]any{"type": "trim"}, http.StatusBadRequest},
		{"unknown type", map[string]any{"type": "explode", "params": map[string]any{}}, http.StatusBadRequest},
		{"unknown field", map[string]any{"type": "trim", "params": map[string]any{"input": "a.mp4", "x": 1}}, http.StatusBadRequest},
		{"bad range", map[string]any{"type": "trim", "params": map[string]any{"input": "a.mp4", "start": 3, "end": 1}}, http.StatusBadRequest},
		{"composition", map[string]any{"type": "merge", "params": map[string]any{
			"segments":    []map[string]any{{"source": "a.mp4", "end": 2}, {"source": "b.mp4", "end": 2}},
			"transitions": []map[string]any{{"type": "wipe", "duration": 1}},
		}}, http.StatusBadRequest},
		{"accepted", map[string]any{"type": "probe", "params": map[string]any{"input": "a.mp4"}}, http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := s.do(t, http.MethodPost, "/api/operations", tt.body); w.Code != tt.want {
				t.Errorf("POST /api/operations = %d, want %d (%s)", w.Code, tt.want, w.Body)
			}
		})
	}

	if w := s.do(t, http.MethodGet, "/api/operations/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("get missing = %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, "/api/operations/nope/cancel", nil); w.Code != http.StatusNotFound {
		t.Errorf("cancel missing = %d", w.Code)
	}
	w := s.do(t, http.MethodGet, "/api/operations", nil)
	if ops := decode[[]models.Operation](t, w); len(ops) != 1 {
		t.Errorf("list = %d operations, want 1", len(ops))
	}
}

func TestOutputDownload(t *testing.T) {
	s := newTestServer(t)
	if err := os.WriteFile(s.storage.GetOutputPath("cut.mp4"), []byte("data"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := s.do(t, http.MethodGet, "/api/outputs/cut.mp4", nil)
	if w.Code != http.StatusOK || w.Body.String() != "data" {
		t.Errorf("download = %d %q", w.Code, w.Body)
	}
	if w := s.do(t, http.MethodGet, "/api/outputs/missing.mp4", nil); w.Code != http.StatusNotFound {
		t.Errorf("download missing = %d", w.Code)
	}
}
