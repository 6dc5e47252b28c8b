package logging

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := RequestID(ctx); got != "" {
		t.Errorf("RequestID on empty context = %q, want \"\"", got)
	}

	ctx = WithRequestID(ctx, "req_123")
	if got := RequestID(ctx); got != "req_123" {
		t.Errorf("RequestID = %q, want \"req_123\"", got)
	}
}

func TestLoggerRoundTrip(t *testing.T) {
	logger := New("debug", "json")
	if logger == nil {
		t.Fatal("New returned nil")
	}

	ctx := WithLogger(context.Background(), logger)
	if got := FromContext(ctx); got != logger {
		t.Error("FromContext did not return the stored logger")
	}
}

func TestFromContext_Default(t *testing.T) {
	if got := FromContext(context.Background()); got == nil {
		t.Error("FromContext on empty context returned nil")
	}
}

func TestCallerRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := CallerAddress(ctx); got != "" {
		t.Errorf("CallerAddress on empty context = %q, want \"\"", got)
	}

	ctx = WithCaller(ctx, "0xaaaa567890123456789012345678901234567890")
	if got := CallerAddress(ctx); got != "0xaaaa567890123456789012345678901234567890" {
		t.Errorf("CallerAddress = %q", got)
	}
}

func TestL_IncludesRequestContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req_456")
	ctx = WithCaller(ctx, "0xbbbb567890123456789012345678901234567890")
	if got := L(ctx); got == nil {
		t.Fatal("L returned nil")
	}
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	if logger := New("bogus", "text"); logger == nil {
		t.Fatal("New with unknown level returned nil")
	}
}
