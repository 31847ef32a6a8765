package labels

import (
	"image/color"
	"testing"
)

func TestLabelForID(t *testing.T) {
	tests := []struct {
		id        int
		wantLabel string
		wantOK    bool
	}{
		{0, "Car", true},
		{1, "Motorcycle", true},
		{2, "Bus", true},
		{3, "Vehicle", true},
		{4, "", false},
		{-1, "", false},
	}

	for _, tt := range tests {
		got, ok := LabelForID(tt.id)
		if got != tt.wantLabel || ok != tt.wantOK {
			t.Errorf("LabelForID(%d) = (%q, %v), want (%q, %v)", tt.id, got, ok, tt.wantLabel, tt.wantOK)
		}
	}
}

func TestColorForLabel(t *testing.T) {
	tests := []struct {
		label  string
		want   color.RGBA
		wantOK bool
	}{
		{"Car", color.RGBA{0, 0, 255, 255}, true},
		{"Motorcycle", color.RGBA{0, 255, 0, 255}, true},
		{"Bus", color.RGBA{255, 255, 0, 255}, true},
		{"Vehicle", color.RGBA{255, 0, 0, 255}, true},
		{"car", color.RGBA{}, false},
		{"", color.RGBA{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ColorForLabel(tt.label)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ColorForLabel(%q) = (%v, %v), want (%v, %v)", tt.label, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestClassesRoundTrip(t *testing.T) {
	all := Classes()
	if len(all) != 4 {
		t.Fatalf("expected 4 classes, got %d", len(all))
	}
	for i, c := range all {
		if int(c) != i {
			t.Errorf("class at index %d has id %d", i, int(c))
		}
		col, ok := ColorForLabel(c.Label())
		if !ok || col != c.Color() {
			t.Errorf("color lookup for %s = (%v, %v), want %v", c, col, ok, c.Color())
		}
	}
}

func TestUnknownClass(t *testing.T) {
	c := Class(42)
	if c.Valid() {
		t.Fatal("Class(42) should not be valid")
	}
	if c.Label() != "" {
		t.Errorf("expected empty label, got %q", c.Label())
	}
	if c.Color() != FallbackColor {
		t.Errorf("expected fallback color, got %v", c.Color())
	}
}
