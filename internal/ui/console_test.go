package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
)

// captureOutput redirects color output to a buffer for the duration of fn.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	var buf bytes.Buffer
	prevOut, prevNoColor := color.Output, color.NoColor
	color.Output, color.NoColor = &buf, true
	defer func() {
		color.Output, color.NoColor = prevOut, prevNoColor
	}()

	fn()
	return buf.String()
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"", ""},
		{"short", "***"},
		{"sk-1234567890abcdef", "sk-1...cdef"},
	}

	for _, tt := range tests {
		if got := MaskKey(tt.key); got != tt.want {
			t.Errorf("MaskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("line one\nline two"); got != "line one line two" {
		t.Errorf("Preview() = %q, newlines should be flattened", got)
	}

	long := strings.Repeat("ж", 500)
	got := Preview(long)
	if n := len([]rune(got)); n != previewLength {
		t.Errorf("Preview() length = %d runes, want %d", n, previewLength)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("Preview() = %q, want ellipsis", got)
	}
}

func TestPrintEvictedKey(t *testing.T) {
	out := captureOutput(t, func() {
		PrintEvictedKey("official", "sk-1234567890abcdef", "Incorrect API key provided")
	})

	if strings.Contains(out, "sk-1234567890abcdef") {
		t.Errorf("output leaks the full key: %q", out)
	}
	for _, want := range []string{"EVICTED", "official", "sk-1...cdef", "Incorrect API key provided"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestPrintOutcome(t *testing.T) {
	tests := []struct {
		kind  string
		badge string
	}{
		{"success", "SUCCESS"},
		{"empty", "EMPTY"},
		{"failure", "FAILURE"},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			out := captureOutput(t, func() {
				PrintOutcome("community-a", tt.kind, "detail text", 150*time.Millisecond)
			})
			if !strings.Contains(out, tt.badge) || !strings.Contains(out, "community-a") {
				t.Errorf("PrintOutcome(%s) = %q", tt.kind, out)
			}
		})
	}
}

func TestPrintStartupInfo(t *testing.T) {
	out := captureOutput(t, func() {
		PrintStartupInfo("0.0.0.0:8080", []PoolSummary{{Name: "official", Active: 2}, {Name: "token", Active: 0}}, 3, "first-success")
	})

	for _, want := range []string{"0.0.0.0:8080", "official=2", "token=0", "first-success", "/v1/ask"} {
		if !strings.Contains(out, want) {
			t.Errorf("startup output missing %q", want)
		}
	}
}
