package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"npud/internal/hal"
	"npud/internal/httpapi"
	"npud/internal/manager"
	"npud/internal/registry"
	"npud/pkg/types"
)

// service adapts the manager plus the model catalog to the HTTP surface,
// mirroring the daemon's wiring.
type service struct {
	*manager.Manager
	models []types.Model
}

func (s *service) Models() []types.Model { return s.models }

// createTempModelsDir creates a temporary directory populated with small
// model files and returns the directory path.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, make([]byte, 1024), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// newServer stands up the full in-process stack: registry scan, manager with
// a simulated device fleet, HTTP mux on an httptest server.
func newServer(t *testing.T, modelsDir string, cfg manager.Config, mocks ...hal.MockConfig) (*httptest.Server, *manager.Manager) {
	t.Helper()
	models, err := registry.LoadDir(modelsDir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	catalog := registry.Catalog(models)

	mgr := manager.NewWithConfig(cfg)
	t.Cleanup(func() { mgr.Close() })
	for i := range mocks {
		if mocks[i].Catalog == nil {
			mocks[i].Catalog = catalog
		}
	}
	mgr.RegisterBackend(hal.NewMockBackend(mocks...))

	mux := httpapi.NewMux(&service{Manager: mgr, models: models})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, mgr
}

func defaultFleet() []hal.MockConfig {
	return []hal.MockConfig{
		{ID: "npu-0", Type: types.DeviceIntelNPU, BaseLatency: 5 * time.Millisecond},
	}
}

// serializedDevice simulates an accelerator that runs one inference at a
// time, slow enough that queue order is observable.
func serializedDevice() hal.MockConfig {
	caps := hal.DefaultMockCapabilities()
	caps.ConcurrentInference = false
	return hal.MockConfig{
		ID:           "npu-0",
		Type:         types.DeviceIntelNPU,
		Capabilities: caps,
		BaseLatency:  100 * time.Millisecond,
	}
}

func fastManagerConfig() manager.Config {
	return manager.Config{
		SweepInterval: 20 * time.Millisecond,
		MaxRetries:    1000,
		RetryInitial:  5 * time.Millisecond,
		RetryMax:      20 * time.Millisecond,
	}
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpDelete(t *testing.T, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodDelete, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp
}
