package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestEngineError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *EngineError
		want string
	}{
		{
			name: "bare",
			err:  NewPermanentError("boom", nil),
			want: "[permanent] boom",
		},
		{
			name: "resource only",
			err:  NewRefetchInconsistencyError("P1"),
			want: "[inconsistency] could not fetch updated document (resource=P1)",
		},
		{
			name: "resource, operation and cause",
			err:  storeError("patch", "C1", errors.New("database is locked")).(*EngineError),
			want: "[transient] target store request failed (resource=C1, operation=patch): database is locked",
		},
		{
			name: "invalid transition",
			err:  invalidTransition(PhaseIdle, PhaseComplete).(*EngineError),
			want: "[programmer] cannot move from idle to complete (operation=transition)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEngineError_IsAndClassOf(t *testing.T) {
	wrapped := fmt.Errorf("linking summer: %w", NewUnresolvedPairError("P9"))

	if !errors.Is(wrapped, ErrUnresolvedPair) {
		t.Error("wrapped unresolved pair must match ErrUnresolvedPair")
	}
	if errors.Is(wrapped, ErrRefetchInconsistency) {
		t.Error("unresolved pair must not match ErrRefetchInconsistency")
	}
	if IsFatal(wrapped) {
		t.Error("unresolved pairs are not fatal by themselves")
	}

	class, code := ClassOf(wrapped)
	if class != ErrorClassUnresolved || code != ErrCodeUnresolvedPair {
		t.Errorf("ClassOf() = %s, %s", class, code)
	}

	class, code = ClassOf(errors.New("plain"))
	if class != ErrorClassPermanent || code != "" {
		t.Errorf("ClassOf(plain) = %s, %q", class, code)
	}
	if !IsFatal(errors.New("plain")) || IsFatal(nil) {
		t.Error("IsFatal must hold for foreign errors and not for nil")
	}
}

func TestEngineError_Predicates(t *testing.T) {
	cause := errors.New("timeout")
	if !IsTransient(catalogError("fetch", "P1", cause)) {
		t.Error("catalog errors are transient")
	}
	if !errors.Is(catalogError("fetch", "P1", cause), cause) {
		t.Error("catalog errors must unwrap to their cause")
	}
	if !IsCredentials(NewCredentialError("rejected")) {
		t.Error("credential errors must be classified as credentials")
	}
	if !IsInconsistency(NewRefetchInconsistencyError("P1")) {
		t.Error("refetch errors must be classified as inconsistency")
	}
	if !IsPermanent(NewPermanentError("x", nil)) || IsPermanent(NewTransientError("x", nil)) {
		t.Error("IsPermanent misclassified")
	}
	if !errors.Is(NewUnsupportedKindError("Variant"), ErrUnsupportedKind) {
		t.Error("unsupported kind must match its sentinel")
	}
}
