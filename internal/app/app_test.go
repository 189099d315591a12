package app_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/hibiki-voice/hibiki/internal/app"
	"github.com/hibiki-voice/hibiki/internal/config"
	"github.com/hibiki-voice/hibiki/internal/face"
	"github.com/hibiki-voice/hibiki/internal/observe"
	"github.com/hibiki-voice/hibiki/internal/store"
	llmmock "github.com/hibiki-voice/hibiki/pkg/provider/llm/mock"
	sttmock "github.com/hibiki-voice/hibiki/pkg/provider/stt/mock"
	ttsmock "github.com/hibiki-voice/hibiki/pkg/provider/tts/mock"
	vadmock "github.com/hibiki-voice/hibiki/pkg/provider/vad/mock"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Audio: config.AudioConfig{
			CaptureRate:  16000,
			PlaybackRate: 24000,
		},
		STT: config.ProviderEntry{Name: "whisper"},
		LLM: config.LLMConfig{
			ProviderEntry: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
		},
		TTS: config.TTSConfig{Name: "voicevox"},
	}
}

func testProviders() *app.Providers {
	return &app.Providers{
		LLM: &llmmock.Provider{},
		STT: &sttmock.Recognizer{},
		TTS: &ttsmock.Synthesizer{},
		VAD: &vadmock.Engine{Session: &vadmock.Session{}},
	}
}

func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	m, err := observe.NewMetrics(metric.NewMeterProvider(metric.WithReader(metric.NewManualReader())))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

func newTestApp(t *testing.T, cfg *config.Config, providers *app.Providers) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, providers,
		app.WithJournal(store.NewMemory()),
		app.WithMouthSink(face.Null{}),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return a
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d, want 200 (body %s)", path, resp.StatusCode, body)
		}
	}
}

func TestReadyz_FailsWithoutProviders(t *testing.T) {
	t.Parallel()

	providers := testProviders()
	providers.TTS = nil
	a := newTestApp(t, testConfig(), providers)
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if !strings.Contains(string(body), "tts") {
		t.Errorf("body %s does not name the missing provider", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestFaceOverlayMounted(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Face.Mode = config.FaceWS
	a, err := app.New(context.Background(), cfg, testProviders(),
		app.WithJournal(store.NewMemory()),
		app.WithMetrics(testMetrics(t)),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/face", nil)
	if err != nil {
		t.Fatalf("overlay dial: %v", err)
	}

	// The broadcaster sends the current shape on connect.
	_, msg, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("overlay read: %v", err)
	}
	if !strings.Contains(string(msg), "mouth") {
		t.Errorf("overlay greeting = %s, want a mouth message", msg)
	}
	conn.Close(websocket.StatusNormalClosure, "")

	shCtx, shCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shCancel()
	if err := a.Shutdown(shCtx); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestAudioSessionLifecycle(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, testConfig(), testProviders())
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/audio", nil)
	if err != nil {
		t.Fatalf("audio dial: %v", err)
	}

	// Disconnecting ends the session; the server must clean up.
	conn.Close(websocket.StatusNormalClosure, "")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a.Sessions().Active() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("session still registered after disconnect")
}
