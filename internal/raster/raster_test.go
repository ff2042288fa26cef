package raster

import (
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/rkm/satpipe/internal/grid"
)

func testGrid(w, h int) grid.Grid {
	return grid.Grid{
		Transform: grid.Affine{A: 10, E: -10, C: 600000, F: 5000000},
		Width:     w,
		Height:    h,
		CRS:       "EPSG:32644",
	}
}

func TestNewBand_ShapeInvariant(t *testing.T) {
	g := testGrid(3, 2)

	if _, err := NewBand("B02", mat.NewDense(2, 3, nil), g); err != nil {
		t.Fatalf("matching shape rejected: %v", err)
	}
	if _, err := NewBand("B02", mat.NewDense(3, 2, nil), g); err == nil {
		t.Fatal("transposed shape accepted")
	}
}

func TestDataset_AddBand(t *testing.T) {
	g := testGrid(2, 2)
	ds := NewDataset(g)

	b, err := NewBand("B02", mat.NewDense(2, 2, nil), g)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.AddBand(b); err != nil {
		t.Fatalf("AddBand failed: %v", err)
	}

	// Duplicate name rejected.
	if err := ds.AddBand(b); err == nil {
		t.Error("duplicate band name accepted")
	}

	// Mismatched grid rejected.
	other := testGrid(2, 2)
	other.CRS = "EPSG:32645"
	ob, err := NewBand("B03", mat.NewDense(2, 2, nil), other)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.AddBand(ob); err == nil || !strings.Contains(err.Error(), "does not match dataset grid") {
		t.Errorf("mismatched grid accepted: %v", err)
	}
}

func TestDataset_BandOrder(t *testing.T) {
	g := testGrid(2, 2)
	ds := NewDataset(g)
	for _, name := range []string{"B04", "B02", "VH"} {
		b, err := NewBand(name, mat.NewDense(2, 2, nil), g)
		if err != nil {
			t.Fatal(err)
		}
		if err := ds.AddBand(b); err != nil {
			t.Fatal(err)
		}
	}

	got := ds.BandNames()
	want := []string{"B04", "B02", "VH"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("band order %v, want %v", got, want)
		}
	}
}

func TestDataset_Digest(t *testing.T) {
	g := testGrid(4, 4)
	ds := NewDataset(g)
	ds.Attrs["scene_id"] = "T44RFQ/2025/07/15"

	first := ds.Digest()
	if first == "" {
		t.Fatal("empty digest")
	}
	if second := ds.Digest(); second != first {
		t.Error("digest is not deterministic")
	}

	ds.Attrs["scene_id"] = "T44RFQ/2025/07/16"
	if ds.Digest() == first {
		t.Error("digest ignores scene id")
	}

	ds.StampDigest()
	if ds.Attrs["hash"] != ds.Digest() {
		t.Error("StampDigest did not record the digest")
	}
}
