package redact

import (
	"strings"
	"testing"
)

func TestRedactDisabled(t *testing.T) {
	SetEnabled(false)
	in := "escala a soporte@example.com o llama al +34 612 345 678"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestRedactEnabled(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "escala a soporte@example.com o llama al +34 612 345 678"
	got := Text(in)
	if got == in {
		t.Fatalf("expected redaction")
	}
	if want := "[REDACTED_EMAIL]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
	if want := "[REDACTED_PHONE]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output", want)
	}
}

func TestRedactSpanishID(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	got := Text("mi dni es 12345678Z")
	if want := "[REDACTED_ID]"; !strings.Contains(got, want) {
		t.Fatalf("expected %q in output, got %q", want, got)
	}
}

func TestRedactLeavesShortNumbersAlone(t *testing.T) {
	SetEnabled(true)
	defer SetEnabled(false)
	in := "marca la opcion 3 del menu"
	if got := Text(in); got != in {
		t.Fatalf("expected short digits untouched, got %q", got)
	}
}
