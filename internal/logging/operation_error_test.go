package logging

import (
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewStageErrorCarriesContext(t *testing.T) {
	cause := errors.New("boom")
	err := NewStageError("fetch", "inv-1", "face-blur-source", "img.jpg", cause)

	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Stage != "fetch" || opErr.Operation != "pipeline.fetch" {
		t.Fatalf("unexpected stage metadata: %+v", opErr)
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped cause to be reachable")
	}
	msg := err.Error()
	for _, want := range []string{"stage=fetch", "blob=face-blur-source/img.jpg", "invocation_id=inv-1", "boom"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("expected %q in %q", want, msg)
		}
	}
}

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "id", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if err := NewStageError("write", "id", "c", "k", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNewLoggerFallsBackOnUnknownLevel(t *testing.T) {
	logger, err := NewLogger("not-a-level")
	if err != nil {
		t.Fatalf("expected logger, got error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.InfoLevel) {
		t.Fatal("expected info level to be enabled")
	}
}
