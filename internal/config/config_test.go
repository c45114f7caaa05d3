package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("WEB_PORT", "")
	t.Setenv("INFERENCE_WORKERS", "")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("MATCH_METRIC", "")

	cfg := Load()

	if cfg.Web.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Inference.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Inference.Workers)
	}
	if cfg.Inference.Model != "facenet-vggface2" {
		t.Errorf("expected default model, got %q", cfg.Inference.Model)
	}
	if cfg.Inference.MinDetectionConfidence != 0.5 {
		t.Errorf("expected min detection confidence 0.5, got %f", cfg.Inference.MinDetectionConfidence)
	}
	if cfg.MatchMetric() != "cosine" {
		t.Errorf("expected cosine metric, got %q", cfg.MatchMetric())
	}
	if cfg.MatchThreshold() != 0.4 {
		t.Errorf("expected threshold 0.4, got %f", cfg.MatchThreshold())
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("INFERENCE_TIMEOUT", "750ms")
	t.Setenv("MATCH_THRESHOLD", "0.6")
	t.Setenv("MATCH_METRIC", "Euclidean")
	t.Setenv("EMBEDDING_MODEL", "dlib-resnet")
	t.Setenv("WEB_ALLOWED_ORIGINS", " https://kiosk.example.com, ,https://pos.example.com")

	cfg := Load()

	if cfg.Web.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Inference.Timeout != 750*time.Millisecond {
		t.Errorf("expected 750ms timeout, got %v", cfg.Inference.Timeout)
	}
	if cfg.MatchMetric() != "euclidean" {
		t.Errorf("expected euclidean metric, got %q", cfg.MatchMetric())
	}
	if cfg.MatchThreshold() != 0.6 {
		t.Errorf("expected threshold 0.6, got %f", cfg.MatchThreshold())
	}
	if cfg.GetModelProfile().Dim != 128 {
		t.Errorf("expected dlib profile dim 128, got %d", cfg.GetModelProfile().Dim)
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://pos.example.com" {
		t.Errorf("unexpected allowed origins %q", cfg.Web.AllowedOrigins)
	}
}

func TestGetModelProfile_UnknownFallsBack(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "does-not-exist")

	cfg := Load()
	profile := cfg.GetModelProfile()

	if profile.Dim != 512 || profile.InputSize != 160 {
		t.Errorf("expected facenet fallback profile, got %+v", profile)
	}
}

func TestEnvHelpers_InvalidValues(t *testing.T) {
	t.Setenv("TEST_INT", "-3")
	t.Setenv("TEST_FLOAT", "abc")
	t.Setenv("TEST_DURATION", "soon")

	if got := envInt("TEST_INT", 7); got != 7 {
		t.Errorf("envInt: expected default 7, got %d", got)
	}
	if got := envFloat("TEST_FLOAT", 0.25); got != 0.25 {
		t.Errorf("envFloat: expected default 0.25, got %f", got)
	}
	if got := envDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("envDuration: expected default 1s, got %v", got)
	}
}
