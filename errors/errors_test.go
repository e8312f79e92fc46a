package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			"phase_and_kind",
			&Error{Phase: PhaseDecode, Kind: KindMalformed},
			"[decode] malformed",
		},
		{
			"with_detail",
			&Error{Phase: PhaseRuntime, Kind: KindTrap, Detail: "out of bounds memory access"},
			"[runtime] trap: out of bounds memory access",
		},
		{
			"with_path",
			&Error{Phase: PhaseValidate, Kind: KindInvalid, Path: []string{"func 2", "local 0"}},
			"[validate] invalid at func 2.local 0",
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

func TestErrorCauseChain(t *testing.T) {
	cause := stderrors.New("short read")
	err := Malformed(PhaseDecode, "code section", cause)

	if !stderrors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if !strings.Contains(err.Error(), "short read") {
		t.Errorf("formatted error should include cause, got %q", err.Error())
	}
}

func TestErrorIsMatchesPhaseAndKind(t *testing.T) {
	a := Trap("unreachable")
	b := Trap("integer divide by zero")
	c := Invalid(PhaseValidate, "type mismatch", nil)

	if !stderrors.Is(a, b) {
		t.Error("two traps should match via errors.Is")
	}
	if stderrors.Is(a, c) {
		t.Error("trap should not match a validation error")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseLower, KindUnsupported).
		Path("memory.copy").
		Detail("target arch %s", "riscv64").
		Build()

	if err.Phase != PhaseLower || err.Kind != KindUnsupported {
		t.Fatalf("unexpected phase/kind: %v/%v", err.Phase, err.Kind)
	}
	if err.Detail != "target arch riscv64" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestQuotaExceeded(t *testing.T) {
	err := QuotaExceeded("pages", 100, 64)
	if err.Kind != KindQuotaExceeded {
		t.Fatalf("Kind = %v", err.Kind)
	}
	if !strings.Contains(err.Error(), "100") || !strings.Contains(err.Error(), "64") {
		t.Errorf("message should carry requested and max: %q", err.Error())
	}
}
