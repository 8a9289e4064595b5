package cart

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLineEffectiveID(t *testing.T) {
	tests := []struct {
		name string
		line Line
		want string
	}{
		{"simple product", Line{ProductID: "60"}, "60"},
		{"variation preferred", Line{ProductID: "60", VariationID: "61"}, "61"},
		{"zero variation ignored", Line{ProductID: "60", VariationID: "0"}, "60"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.line.EffectiveID(); got != tt.want {
				t.Errorf("EffectiveID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLinePricing(t *testing.T) {
	line := Line{Quantity: 2, Subtotal: 20.00, Total: 18.00}

	if got := line.UnitPrice(); got != 10.00 {
		t.Errorf("UnitPrice() = %v, want 10", got)
	}
	if got := line.Discount(); got != 2.00 {
		t.Errorf("Discount() = %v, want 2", got)
	}

	zero := Line{Quantity: 0, Subtotal: 5}
	if got := zero.UnitPrice(); got != 0 {
		t.Errorf("UnitPrice() with zero quantity = %v, want 0", got)
	}
}

func TestSnapshotIsEmpty(t *testing.T) {
	var nilSnap *Snapshot
	if !nilSnap.IsEmpty() {
		t.Error("nil snapshot should be empty")
	}
	if !(&Snapshot{ShippingTotal: 5}).IsEmpty() {
		t.Error("snapshot with only shipping should be empty")
	}
	if (&Snapshot{Lines: []Line{{ProductID: "1", Quantity: 1}}}).IsEmpty() {
		t.Error("snapshot with lines should not be empty")
	}
}

func TestMemoryReader(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryReader()
	r.Put("tok", &Snapshot{Lines: []Line{{ProductID: "1", Quantity: 1, Subtotal: 5, Total: 5}}})

	got, err := r.Read(ctx, "tok")
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if len(got.Lines) != 1 {
		t.Fatalf("Lines = %d, want 1", len(got.Lines))
	}

	// Mutating the copy must not leak back into the stored snapshot
	got.Lines[0].Quantity = 99
	again, _ := r.Read(ctx, "tok")
	if again.Lines[0].Quantity != 1 {
		t.Errorf("stored snapshot mutated: quantity = %d", again.Lines[0].Quantity)
	}

	missing, err := r.Read(ctx, "unknown")
	if err != nil {
		t.Fatalf("Read(unknown) error: %v", err)
	}
	if !missing.IsEmpty() {
		t.Error("unknown token should return empty snapshot")
	}
	if r.Reads() != 3 {
		t.Errorf("Reads() = %d, want 3", r.Reads())
	}
}

func TestLoadFixtures(t *testing.T) {
	r, err := LoadFixtures("testdata/carts.json")
	if err != nil {
		t.Fatalf("LoadFixtures() error: %v", err)
	}
	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}

	got, err := r.Read(context.Background(), "tok-mug")
	if err != nil {
		t.Fatal(err)
	}
	if got.Currency != "USD" || got.ShippingTotal != 4.99 || len(got.Coupons) != 1 {
		t.Errorf("snapshot = %+v", got)
	}
	if len(got.Lines) != 1 || got.Lines[0].EffectiveID() != "61" || got.Lines[0].Discount() != 2 {
		t.Errorf("Lines = %+v", got.Lines)
	}

	empty, _ := r.Read(context.Background(), "tok-empty")
	if !empty.IsEmpty() {
		t.Error("tok-empty should be empty")
	}
}

func TestLoadFixtures_Errors(t *testing.T) {
	if _, err := LoadFixtures("testdata/missing.json"); err == nil {
		t.Error("missing file should fail")
	}

	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`[`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFixtures(bad); err == nil {
		t.Error("invalid JSON should fail")
	}
}
