package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/statuscat/internal/config"
)

var catJPEG = []byte{0xff, 0xd8, 0xff, 0xe0, 'c', 'a', 't', 0xff, 0xd9}

func TestBuildAppCacheFlow(t *testing.T) {
	upstream, hits := newProviderStub(t)
	cacheDir := t.TempDir()
	cfg := flowConfig(t, upstream.URL, cacheDir, 18081)

	app, _, err := buildApp(cfg, quietLogger())
	if err != nil {
		t.Fatalf("buildApp error: %v", err)
	}

	do := func(method, path string, body []byte) (*http.Response, []byte) {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		resp, err := app.Test(httptest.NewRequest(method, path, reader))
		if err != nil {
			t.Fatalf("%s %s: app.Test error: %v", method, path, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("%s %s: read body: %v", method, path, err)
		}
		return resp, data
	}

	// 未命中 → 回源并落盘
	resp, body := do(http.MethodGet, "/200", nil)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, catJPEG) {
		t.Fatalf("expected fetched image, got %d %q", resp.StatusCode, body)
	}
	if hit := resp.Header.Get("X-Statuscat-Cache-Hit"); hit != "false" {
		t.Fatalf("expected cache miss header, got %q", hit)
	}
	onDisk, err := os.ReadFile(filepath.Join(cacheDir, "200.jpeg"))
	if err != nil || !bytes.Equal(onDisk, catJPEG) {
		t.Fatalf("expected 200.jpeg on disk, got %q err=%v", onDisk, err)
	}

	// 命中 → 不再回源
	resp, body = do(http.MethodGet, "/200", nil)
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, catJPEG) {
		t.Fatalf("expected cached image, got %d %q", resp.StatusCode, body)
	}
	if hit := resp.Header.Get("X-Statuscat-Cache-Hit"); hit != "true" {
		t.Fatalf("expected cache hit header, got %q", hit)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected a single provider call, got %d", n)
	}

	resp, body = do(http.MethodPut, "/418", []byte("teapot"))
	if resp.StatusCode != http.StatusCreated || string(body) != "Created or Updated" {
		t.Fatalf("unexpected PUT response %d %q", resp.StatusCode, body)
	}

	resp, body = do(http.MethodDelete, "/418", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "Deleted" {
		t.Fatalf("unexpected DELETE response %d %q", resp.StatusCode, body)
	}

	resp, _ = do(http.MethodGet, "/999", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for provider miss, got %d", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, "999.jpeg")); !os.IsNotExist(err) {
		t.Fatalf("provider miss must not create a file, err=%v", err)
	}

	resp, body = do(http.MethodGet, "/cats", nil)
	if resp.StatusCode != http.StatusBadRequest || string(body) != "Invalid HTTP status code in URL." {
		t.Fatalf("unexpected response for invalid path %d %q", resp.StatusCode, body)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	upstream, _ := newProviderStub(t)
	cfg := flowConfig(t, upstream.URL, t.TempDir(), freePort(t))
	cfg.MetricsListen = net.JoinHostPort("127.0.0.1", strconv.Itoa(freePort(t)))

	logger := quietLogger()
	app, m, err := buildApp(cfg, logger)
	if err != nil {
		t.Fatalf("buildApp error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, app, m, logger) }()

	waitFor(t, cfg.BaseURL()+"/200")

	resp, err := http.Get(cfg.BaseURL() + "/200")
	if err != nil {
		t.Fatalf("GET /200: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(body, catJPEG) {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}

	waitFor(t, "http://"+cfg.MetricsListen+"/metrics")
	resp, err = http.Get("http://" + cfg.MetricsListen + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	metricsBody, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(metricsBody), "statuscat_requests_total") {
		t.Fatalf("metrics output missing request counter")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func newProviderStub(t *testing.T) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	hits := &atomic.Int64{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/999" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(catJPEG)
	}))
	t.Cleanup(srv.Close)
	return srv, hits
}

func flowConfig(t *testing.T, providerURL, cacheDir string, port int) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Host:        "127.0.0.1",
		ListenPort:  port,
		CachePath:   cacheDir,
		ProviderURL: providerURL + "/",
		MaxBodySize: 1 << 20,
		LogLevel:    "info",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func waitFor(t *testing.T, url string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("%s not ready", url)
}
