package resilience

import (
	"errors"
	"fmt"
	"syscall"
	"testing"
)

func TestIsTransient_TransientError(t *testing.T) {
	err := NewTransientError(errors.New("rate limited"), 429)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}

	wrapped := fmt.Errorf("extract: %w", err)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_PermanentWins(t *testing.T) {
	// A permanent error whose message matches a transient pattern must not
	// be retried.
	err := NewPermanentError(errors.New("i/o timeout while reading deleted page"))
	if IsTransient(err) {
		t.Error("PermanentError must never be transient")
	}
	if !IsPermanent(err) {
		t.Error("expected IsPermanent to detect PermanentError")
	}
}

func TestIsTransient_Syscall(t *testing.T) {
	if !IsTransient(fmt.Errorf("dial: %w", syscall.ECONNRESET)) {
		t.Error("expected ECONNRESET to be transient")
	}
	if !IsTransient(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)) {
		t.Error("expected ECONNREFUSED to be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	transient := []string{
		"read tcp: connection reset by peer",
		"Post \"https://api\": unexpected EOF",
		"net/http: TLS handshake timeout",
	}
	for _, msg := range transient {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be transient", msg)
		}
	}

	if IsTransient(errors.New("invalid request: missing field")) {
		t.Error("plain errors should not be transient")
	}
	if IsTransient(nil) {
		t.Error("nil should not be transient")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("expected %d to be transient", code)
		}
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("expected %d not to be transient", code)
		}
	}
}
