package errors

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New("test error")
	if err == nil {
		t.Fatal("New() returned nil")
	}

	if !strings.Contains(err.Error(), "test error") {
		t.Errorf("Expected error message to contain 'test error', got: %s", err.Error())
	}

	if err.Location() == "" {
		t.Error("Location should not be empty")
	}
}

func TestWrap(t *testing.T) {
	baseErr := errors.New("base error")
	err := Wrap(baseErr, "wrapped")

	if err == nil {
		t.Fatal("Wrap() returned nil")
	}

	if !strings.Contains(err.Error(), "wrapped") {
		t.Errorf("Expected error message to contain 'wrapped', got: %s", err.Error())
	}

	if !strings.Contains(err.Error(), "base error") {
		t.Errorf("Expected error message to contain 'base error', got: %s", err.Error())
	}

	unwrapped := errors.Unwrap(err)
	if unwrapped != baseErr {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}

func TestWithField(t *testing.T) {
	err := New("test error").WithField("key", "value")

	fields := err.GetFields()
	if len(fields) != 1 {
		t.Fatalf("Expected 1 field, got %d", len(fields))
	}

	if fields["key"] != "value" {
		t.Errorf("Expected field['key'] = 'value', got: %v", fields["key"])
	}
}

func TestNewOutOfOrder(t *testing.T) {
	err := NewOutOfOrder("timestamp went backwards")

	if !errors.Is(err, ErrOutOfOrder) {
		t.Error("Expected error to match ErrOutOfOrder")
	}

	if err.GetCode() != "OUT_OF_ORDER" {
		t.Errorf("Expected code OUT_OF_ORDER, got: %s", err.GetCode())
	}
}

func TestNewConversationClosed(t *testing.T) {
	err := NewConversationClosed("conv-42")

	if !errors.Is(err, ErrConversationClosed) {
		t.Error("Expected error to match ErrConversationClosed")
	}

	fields := err.GetFields()
	if fields["conversation_id"] != "conv-42" {
		t.Errorf("Expected conversation_id field, got: %v", fields["conversation_id"])
	}
}

func TestNewConversationNotFound(t *testing.T) {
	err := NewConversationNotFound("conv-7")

	if !errors.Is(err, ErrConversationNotFound) {
		t.Error("Expected error to match ErrConversationNotFound")
	}

	if err.GetCode() != "CONVERSATION_NOT_FOUND" {
		t.Errorf("Expected code CONVERSATION_NOT_FOUND, got: %s", err.GetCode())
	}
}

func TestIsMatchesSentinels(t *testing.T) {
	cases := []struct {
		err      error
		sentinel error
	}{
		{NewOutOfOrder("late"), ErrOutOfOrder},
		{NewConversationClosed("conv-1"), ErrConversationClosed},
		{NewConversationNotFound("conv-1"), ErrConversationNotFound},
		{NewInvalidMessage("empty id"), ErrInvalidMessage},
	}

	for _, tc := range cases {
		if !Is(tc.err, tc.sentinel) {
			t.Errorf("Is(%v, %v) = false, want true", tc.err, tc.sentinel)
		}
	}

	if Is(NewOutOfOrder("late"), ErrConversationClosed) {
		t.Error("Is() matched an unrelated sentinel")
	}
}

func TestIsMatchesThroughWrap(t *testing.T) {
	wrapped := Wrap(NewOutOfOrder("late"), "ingest failed")

	if !Is(wrapped, ErrOutOfOrder) {
		t.Error("Is() did not match the sentinel through a wrapped chain")
	}
}

func TestAsExtractsStructuredError(t *testing.T) {
	var err error = NewOutOfOrder("late")

	var serr *Error
	if !As(err, &serr) {
		t.Fatal("As() did not find the structured error")
	}

	if serr.GetCode() != "OUT_OF_ORDER" {
		t.Errorf("Expected code OUT_OF_ORDER, got: %s", serr.GetCode())
	}
}

func TestHTTPStatusFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"out of order", NewOutOfOrder("bad ordering"), http.StatusConflict},
		{"conversation closed", NewConversationClosed("c1"), http.StatusConflict},
		{"not found", NewConversationNotFound("c1"), http.StatusNotFound},
		{"invalid message", NewInvalidMessage("empty id"), http.StatusBadRequest},
		{"plain error", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := HTTPStatusFromError(tt.err)
			if status != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, status)
			}
		})
	}
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, NewConversationNotFound("conv-9"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}

	if !strings.Contains(rec.Body.String(), "conv-9") {
		t.Errorf("Expected body to mention conversation id, got: %s", rec.Body.String())
	}

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json content type, got: %s", ct)
	}
}
