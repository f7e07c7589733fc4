package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yok-tottii/ezvoice/internal/api"
	"github.com/yok-tottii/ezvoice/internal/audio"
	"github.com/yok-tottii/ezvoice/internal/config"
	"github.com/yok-tottii/ezvoice/internal/observe"
)

// TestServerAPIIntegration registers the API and the metrics endpoint on
// the server mux before starting it.
func TestServerAPIIntegration(t *testing.T) {
	serverConfig := DefaultConfig()
	serverConfig.Port = 0
	server := New(serverConfig)

	provider, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceName: "ezvoice-test"})
	if err != nil {
		t.Fatalf("Failed to init metrics provider: %v", err)
	}
	defer provider.Shutdown(context.Background())

	appConfig := config.DefaultConfig()
	apiHandler := api.New(api.Deps{
		Config:      appConfig,
		ConfigPath:  filepath.Join(t.TempDir(), "config.json"),
		ListDevices: func() ([]audio.Device, error) { return nil, nil },
	})
	apiHandler.RegisterRoutes(server.GetMux())
	server.Handle("/metrics", provider.Handler())

	metrics, err := provider.Metrics()
	if err != nil {
		t.Fatalf("Failed to build instruments: %v", err)
	}
	metrics.RecordCacheLookup(context.Background(), "miss")

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	url := server.URL() + "/api/settings"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Failed to make request to API: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var response config.Config
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		t.Errorf("Failed to decode settings response: %v", err)
	}

	bodyBytes, _ := json.Marshal(map[string]interface{}{"pause_enabled": false})
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(bodyBytes))
	if err != nil {
		t.Fatalf("Failed to create PUT request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Failed to execute PUT request: %v", err)
	}
	defer resp2.Body.Close()

	if resp2.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp2.StatusCode)
	}
	if appConfig.Clone().Pause.Enabled {
		t.Error("Expected pause detection to be disabled")
	}

	// Capture routes answer even without a controller
	resp3, err := http.Post(server.URL()+"/api/capture/start", "application/json", nil)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp3.StatusCode)
	}

	resp4, err := http.Get(server.URL() + "/metrics")
	if err != nil {
		t.Fatalf("Failed to scrape metrics: %v", err)
	}
	defer resp4.Body.Close()

	body, _ := io.ReadAll(resp4.Body)
	if !strings.Contains(string(body), "ezvoice_cache_lookups") {
		t.Errorf("Expected cache lookup metric in exposition, got:\n%s", body)
	}
}
