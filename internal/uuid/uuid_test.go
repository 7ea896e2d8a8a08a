package uuid

import (
	"testing"

	"github.com/google/uuid"
)

// TestNew verifies New returns distinct v4 ids.
func TestNew(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		id := New()
		parsed, err := uuid.Parse(id)
		if err != nil {
			t.Fatalf("New() = %q: %v", id, err)
		}
		if parsed.Version() != 4 {
			t.Fatalf("New() version = %d, want 4", parsed.Version())
		}
		if seen[id] {
			t.Fatalf("New() repeated %q", id)
		}
		seen[id] = true
	}
}

// TestNewOrdered verifies v7 ids sort by creation.
func TestNewOrdered(t *testing.T) {
	prev := NewOrdered()
	for i := 0; i < 50; i++ {
		next := NewOrdered()
		parsed, err := uuid.Parse(next)
		if err != nil {
			t.Fatalf("NewOrdered() produced unparsable id %q", next)
		}
		if parsed.Version() != 7 {
			t.Errorf("NewOrdered() version = %d, want 7", parsed.Version())
		}
		if next <= prev {
			t.Errorf("NewOrdered() not increasing: %q after %q", next, prev)
		}
		prev = next
	}
}

func TestIsID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{New(), true},
		{NewOrdered(), true},
		{"L123", false},
		{"", false},
		{"f47ac10b58cc4372a5670e02b2c3d479", false},
		{"urn:uuid:f47ac10b-58cc-4372-a567-0e02b2c3d479", false},
		{"f47ac10b-58cc-4372-a567-0e02b2c3d47z", false},
	}
	for _, tt := range tests {
		if got := IsID(tt.in); got != tt.want {
			t.Errorf("IsID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
