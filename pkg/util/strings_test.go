package util

import "testing"

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault("", 7); got != 7 {
		t.Fatalf("expected default, got %d", got)
	}
	if got := ParseIntDefault("x", 7); got != 7 {
		t.Fatalf("expected default, got %d", got)
	}
	if got := ParseIntDefault("12", 7); got != 12 {
		t.Fatalf("expected 12, got %d", got)
	}
}

func TestSafeFileComponent(t *testing.T) {
	cases := map[string]string{
		"abc123":      "abc123",
		"job/../etc":  "job_etc",
		"a b:c":       "a_b_c",
		"":            "unknown",
		"run-1_final": "run-1_final",
	}
	for in, want := range cases {
		if got := SafeFileComponent(in); got != want {
			t.Errorf("SafeFileComponent(%q) = %q, want %q", in, got, want)
		}
	}
}
