package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFlushTelemetry_NilLogger(t *testing.T) {
	if err := FlushTelemetry(context.Background(), nil); err != nil {
		t.Errorf("FlushTelemetry(nil) error = %v", err)
	}
}

func TestFlushTelemetry_Syncs(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	if err := FlushTelemetry(context.Background(), zap.New(core)); err != nil {
		t.Errorf("FlushTelemetry() error = %v", err)
	}
}

func TestFlushTelemetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := FlushTelemetry(ctx, zap.NewNop()); err == nil {
		t.Error("FlushTelemetry() expected error for cancelled context")
	}
}
