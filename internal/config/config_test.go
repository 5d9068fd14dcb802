package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_ACCOUNT_URL", "https://teststorage.blob.core.windows.net/")
	t.Setenv("COMPUTER_VISION_ENDPOINT", "https://testcompvision.cognitiveservices.azure.com/")

	cfg := Load()
	if cfg.SourceContainer != "face-blur-source" {
		t.Fatalf("unexpected source container: %s", cfg.SourceContainer)
	}
	if cfg.DestinationContainer != "face-blur-destination" {
		t.Fatalf("unexpected destination container: %s", cfg.DestinationContainer)
	}
	if cfg.StorageAccountURL != "https://teststorage.blob.core.windows.net" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.StorageAccountURL)
	}
	if cfg.BlurSigma != 70 {
		t.Fatalf("expected blur sigma 70, got %v", cfg.BlurSigma)
	}
	if cfg.VisionTimeout != 10*time.Second {
		t.Fatalf("unexpected vision timeout: %v", cfg.VisionTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LOCAL_TEST", "true")
	t.Setenv("VISION_TIMEOUT", "3")
	t.Setenv("QUEUE_VISIBILITY_TIMEOUT", "90s")
	t.Setenv("WORKER_CONCURRENCY", "-2")
	t.Setenv("JPEG_QUALITY", "150")

	cfg := Load()
	if !cfg.LocalTest {
		t.Fatal("expected local test flag")
	}
	if cfg.VisionTimeout != 3*time.Second {
		t.Fatalf("expected bare seconds to parse, got %v", cfg.VisionTimeout)
	}
	if cfg.QueueVisibilityTimeout != 90*time.Second {
		t.Fatalf("unexpected visibility timeout: %v", cfg.QueueVisibilityTimeout)
	}
	if cfg.WorkerConcurrency != 1 {
		t.Fatalf("expected concurrency clamped to 1, got %d", cfg.WorkerConcurrency)
	}
	if cfg.JPEGQuality != 90 {
		t.Fatalf("expected quality reset to 90, got %d", cfg.JPEGQuality)
	}
}

func TestValidateReportsAllProblems(t *testing.T) {
	cfg := &Config{
		SourceContainer:      "same",
		DestinationContainer: "same",
		VisionTransport:      "carrier-pigeon",
		VisionSource:         SourceBytes,
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"STORAGE_ACCOUNT_URL", "VISION_TRANSPORT", "must differ"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}
