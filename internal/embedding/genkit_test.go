package embedding

import (
	"errors"
	"testing"
)

func TestTransient(t *testing.T) {
	if Transient(nil) != nil {
		t.Error("Transient(nil) should be nil")
	}

	base := errors.New("connection reset")
	wrapped := Transient(base)
	if !errors.Is(wrapped, ErrTransient) {
		t.Error("wrapped error not recognized as transient")
	}
	if !errors.Is(wrapped, base) {
		t.Error("wrapped error lost the cause")
	}

	if errors.Is(base, ErrTransient) {
		t.Error("unwrapped error must not read as transient")
	}
}
