package core

import (
	"errors"
	"testing"
)

func TestErrorString(t *testing.T) {
	e := &Error{Type: ErrInvalidRequest, Message: "bad frame"}
	if got := e.Error(); got != "invalid_request_error: bad frame" {
		t.Fatalf("Error()=%q", got)
	}
	e.Code = "frame_too_large"
	if got := e.Error(); got != "invalid_request_error: bad frame (code: frame_too_large)" {
		t.Fatalf("Error() with code=%q", got)
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		typ  ErrorType
		want bool
	}{
		{ErrRateLimit, true},
		{ErrAPI, true},
		{ErrInvalidRequest, false},
		{ErrAuthentication, false},
		{ErrProvider, false},
	}
	for _, c := range cases {
		e := &Error{Type: c.typ}
		if e.IsRetryable() != c.want {
			t.Fatalf("IsRetryable(%s)=%v, want %v", c.typ, !c.want, c.want)
		}
	}
}

func TestNewProviderError(t *testing.T) {
	e := NewProviderError("cartesia", errors.New("socket closed"))
	if e.Type != ErrProvider {
		t.Fatalf("type=%s", e.Type)
	}
	if e.Message != "cartesia: socket closed" {
		t.Fatalf("message=%q", e.Message)
	}
}
