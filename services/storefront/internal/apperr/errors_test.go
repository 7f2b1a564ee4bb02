package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: Validation("missing"), want: http.StatusBadRequest},
		{name: "configuration", err: Configuration("card disabled"), want: http.StatusUnprocessableEntity},
		{name: "state mismatch", err: StateMismatch("expired"), want: http.StatusConflict},
		{name: "remote client error keeps status", err: Remote("bad creds", http.StatusUnauthorized, nil), want: http.StatusUnauthorized},
		{name: "remote server error is bad gateway", err: Remote("down", http.StatusInternalServerError, nil), want: http.StatusBadGateway},
		{name: "remote transport error is bad gateway", err: Remote("timeout", 0, errors.New("deadline")), want: http.StatusBadGateway},
		{name: "wrapped", err: fmt.Errorf("checkout: %w", Validation("x")), want: http.StatusBadRequest},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := HTTPStatus(tc.err); got != tc.want {
				t.Fatalf("HTTPStatus = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestUserMessageHidesUnknownErrors(t *testing.T) {
	if got := UserMessage(errors.New("pq: connection refused")); got != GenericMessage {
		t.Fatalf("expected generic message, got %q", got)
	}
	if got := UserMessage(Validation("Email and password are required.")); got != "Email and password are required." {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestKindOfUnwrapsChains(t *testing.T) {
	cause := errors.New("dial tcp")
	err := fmt.Errorf("login: %w", Remote("Shop API unavailable.", 0, cause))
	if !Is(err, KindRemote) {
		t.Fatalf("expected remote kind, got %v", KindOf(err))
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to stay reachable")
	}
}
