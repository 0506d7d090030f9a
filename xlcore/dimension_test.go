package xlcore

import "testing"

func TestParseDimensionSingleCell(t *testing.T) {
	tests := []struct {
		ref        string
		wantOrigin Origin
	}{
		{"A1", Origin{Row: 1, Col: 1}},
		{"Z1", Origin{Row: 1, Col: 26}},
		{"AA1", Origin{Row: 1, Col: 27}},
		{"AZ10", Origin{Row: 10, Col: 52}},
	}

	for _, tt := range tests {
		origin, extent, err := ParseDimension(tt.ref)
		if err != nil {
			t.Errorf("ParseDimension(%q) error = %v", tt.ref, err)
			continue
		}
		if origin != tt.wantOrigin {
			t.Errorf("ParseDimension(%q) origin = %v, want %v", tt.ref, origin, tt.wantOrigin)
		}
		if extent != (Extent{Width: 1, Height: 1}) {
			t.Errorf("ParseDimension(%q) extent = %v, want 1x1", tt.ref, extent)
		}
	}
}

func TestParseDimensionRange(t *testing.T) {
	origin, extent, err := ParseDimension("C2:E4")
	if err != nil {
		t.Fatalf("ParseDimension error = %v", err)
	}
	if origin != (Origin{Row: 2, Col: 3}) {
		t.Errorf("origin = %v, want {2 3}", origin)
	}
	if extent != (Extent{Width: 3, Height: 3}) {
		t.Errorf("extent = %v, want {3 3}", extent)
	}
}

func TestParseDimensionErrors(t *testing.T) {
	bad := []string{"", "1A", "A", "A1:", "B2:A1"}
	for _, ref := range bad {
		if _, _, err := ParseDimension(ref); err == nil {
			t.Errorf("ParseDimension(%q) expected error, got nil", ref)
		}
	}
}

func TestDimensionRoundTrip(t *testing.T) {
	cases := []string{"A1", "Z1", "AA100", "C2:E4", "A1:B1"}
	for _, ref := range cases {
		origin, extent, err := ParseDimension(ref)
		if err != nil {
			t.Fatalf("ParseDimension(%q) error = %v", ref, err)
		}
		got := FormatDimension(origin, extent)
		gotOrigin, gotExtent, err := ParseDimension(got)
		if err != nil {
			t.Fatalf("ParseDimension(FormatDimension(...)) error = %v", err)
		}
		if gotOrigin != origin || gotExtent != extent {
			t.Errorf("round trip %q -> %q: got origin=%v extent=%v, want origin=%v extent=%v", ref, got, gotOrigin, gotExtent, origin, extent)
		}
	}
}

func TestFormatCellRef(t *testing.T) {
	tests := []struct {
		row, col int
		want     string
	}{
		{1, 1, "A1"},
		{1, 26, "Z1"},
		{1, 27, "AA1"},
		{10, 52, "AZ10"},
	}
	for _, tt := range tests {
		if got := FormatCellRef(tt.row, tt.col); got != tt.want {
			t.Errorf("FormatCellRef(%d, %d) = %q, want %q", tt.row, tt.col, got, tt.want)
		}
	}
}
