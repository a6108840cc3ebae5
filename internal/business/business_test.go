package business

import (
	"strings"
	"testing"
)

func TestStatusValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		want   bool
	}{
		{StatusActive, true},
		{StatusTrial, true},
		{StatusSuspended, true},
		{Status(""), false},
		{Status("DELETED"), false},
		{Status("active"), false}, // case sensitive
	}

	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.want {
			t.Errorf("Status(%q).Valid() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusCanQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status Status
		want   bool
	}{
		{StatusActive, true},
		{StatusTrial, true},
		{StatusSuspended, false},
		{Status(""), false},
	}

	for _, tt := range tests {
		if got := tt.status.CanQuery(); got != tt.want {
			t.Errorf("Status(%q).CanQuery() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestBusinessValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Business {
		return &Business{
			Name:         "Pizza Palace",
			BusinessType: "restaurant",
			Status:       StatusActive,
		}
	}

	t.Run("valid business", func(t *testing.T) {
		t.Parallel()
		if err := valid().validate(); err != nil {
			t.Errorf("validate() = %v, want nil", err)
		}
	})

	t.Run("missing name", func(t *testing.T) {
		t.Parallel()
		b := valid()
		b.Name = ""
		if err := b.validate(); err == nil {
			t.Error("validate() = nil, want error for missing name")
		}
	})

	t.Run("name too long", func(t *testing.T) {
		t.Parallel()
		b := valid()
		b.Name = strings.Repeat("x", maxNameLength+1)
		if err := b.validate(); err == nil {
			t.Error("validate() = nil, want error for oversized name")
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		t.Parallel()
		b := valid()
		b.Status = Status("PENDING")
		if err := b.validate(); err == nil {
			t.Error("validate() = nil, want error for unknown status")
		}
	})
}
