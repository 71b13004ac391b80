package engine

import "testing"

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		engineID string
		want     string
	}{
		{"sha256:abc123", "abc123"},
		{"abc123", "abc123"},
		{"", ""},
	}
	for _, tt := range tests {
		got := canonicalID(tt.engineID)
		if got != tt.want {
			t.Errorf("canonicalID(%q) = %q, want %q", tt.engineID, got, tt.want)
		}
	}
}
