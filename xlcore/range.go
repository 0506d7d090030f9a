package xlcore

import (
	"encoding/xml"
	"io"
	"strconv"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindEmpty ValueKind = iota
	KindInt
	KindFloat
	KindString
)

// Value is a worksheet cell's decoded content: a tagged union of the four
// shapes produced by xl/worksheets/sheetN.xml, per spec.md §4.C.
type Value struct {
	Kind ValueKind
	Int  int64
	Float float64
	Str  string
}

// RangeMode selects how Range cells are addressed once parsed.
type RangeMode int

const (
	// RangeModeSequential indexes Cells row-major from the sheet's Origin,
	// leaving gaps as KindEmpty. Good for dense sheets.
	RangeModeSequential RangeMode = iota
	// RangeModeAddressed keeps only the cells the XML actually names,
	// in a map keyed by their A1 reference. Good for sparse sheets.
	RangeModeAddressed
)

// Range is a parsed worksheet extent: its declared dimension plus its
// cell contents, shaped according to the RangeMode it was built with.
type Range struct {
	Origin Origin
	Extent Extent
	Mode   RangeMode

	// Cells is populated when Mode == RangeModeSequential: row-major,
	// length Extent.Width*Extent.Height.
	Cells []Value

	// Addressed is populated when Mode == RangeModeAddressed: keyed by
	// the cell's own A1 reference as written in the XML.
	Addressed map[string]Value
}

// At returns the value at a 1-based (row, col) position relative to the
// sheet (not relative to Origin), or KindEmpty if nothing was recorded
// there.
func (r *Range) At(row, col int) Value {
	switch r.Mode {
	case RangeModeSequential:
		ri := row - r.Origin.Row
		ci := col - r.Origin.Col
		if ri < 0 || ci < 0 || ri >= r.Extent.Height || ci >= r.Extent.Width {
			return Value{Kind: KindEmpty}
		}
		return r.Cells[ri*r.Extent.Width+ci]
	case RangeModeAddressed:
		if v, ok := r.Addressed[FormatCellRef(row, col)]; ok {
			return v
		}
		return Value{Kind: KindEmpty}
	default:
		return Value{Kind: KindEmpty}
	}
}

// xlsx worksheet XML shapes, decoded with encoding/xml.
type xlsxDimension struct {
	Ref string `xml:"ref,attr"`
}

type xlsxCell struct {
	Ref string `xml:"r,attr"`
	T   string `xml:"t,attr"`
	V   string `xml:"v"`
	Is  *xlsxInlineStr `xml:"is"`
}

type xlsxInlineStr struct {
	T string `xml:"t"`
}

type xlsxRow struct {
	R     string     `xml:"r,attr"`
	Cells []xlsxCell `xml:"c"`
}

// ParseWorksheet streams xl/worksheets/sheetN.xml and builds a Range in
// the given mode. sharedStrings resolves t="s" cell values; pass nil if
// the workbook carries no shared-string table.
func ParseWorksheet(r io.Reader, mode RangeMode, sharedStrings []string) (*Range, error) {
	dec := xml.NewDecoder(r)

	var origin Origin
	var extent Extent
	haveDimension := false

	rng := &Range{Mode: mode}
	if mode == RangeModeAddressed {
		rng.Addressed = make(map[string]Value)
	}

	inSheetData := false
	sheetDataClosed := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapError(KindXml, err, "parsing worksheet XML")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "dimension":
				var d xlsxDimension
				if err := dec.DecodeElement(&d, &t); err != nil {
					return nil, wrapError(KindXml, err, "decoding <dimension>")
				}
				o, e, err := ParseDimension(d.Ref)
				if err != nil {
					return nil, err
				}
				origin, extent = o, e
				haveDimension = true

			case "sheetData":
				inSheetData = true

			case "row":
				if !inSheetData {
					continue
				}
				var row xlsxRow
				if err := dec.DecodeElement(&row, &t); err != nil {
					return nil, wrapError(KindXml, err, "decoding <row>")
				}
				if err := applyRow(rng, &row, origin, extent, haveDimension, mode, sharedStrings); err != nil {
					return nil, err
				}
			}

		case xml.EndElement:
			if t.Name.Local == "sheetData" {
				inSheetData = false
				sheetDataClosed = true
			}
		}
	}

	if !sheetDataClosed {
		return nil, malformed("worksheet XML missing closing </sheetData>")
	}

	if !haveDimension {
		// No declared <dimension>: fall back to an empty 1x1 sheet at A1,
		// matching the reference parser's behavior for dimension-less
		// worksheets (spec.md §9).
		origin = Origin{Row: 1, Col: 1}
		extent = Extent{Width: 1, Height: 1}
	}

	rng.Origin = origin
	rng.Extent = extent
	// Reallocate whenever the grid a prior row sized doesn't match the
	// finalized extent: a <dimension>-less worksheet leaves applyRow
	// unable to size Cells (it has no extent to size against yet, so it
	// doesn't allocate at all), and the fallback above only fixes up
	// origin/extent, not the grid itself.
	if mode == RangeModeSequential && len(rng.Cells) != extent.Width*extent.Height {
		rng.Cells = make([]Value, extent.Width*extent.Height)
		for i := range rng.Cells {
			rng.Cells[i] = Value{Kind: KindEmpty}
		}
	}

	return rng, nil
}

func applyRow(rng *Range, row *xlsxRow, origin Origin, extent Extent, haveDimension bool, mode RangeMode, sharedStrings []string) error {
	if mode == RangeModeSequential && haveDimension && rng.Cells == nil {
		rng.Cells = make([]Value, extent.Width*extent.Height)
		for i := range rng.Cells {
			rng.Cells[i] = Value{Kind: KindEmpty}
		}
	}

	for _, c := range row.Cells {
		if c.Ref == "" {
			continue
		}
		pos, err := parseCellRef(c.Ref)
		if err != nil {
			return wrapError(KindMalformed, err, "cell %q has an unparseable reference", c.Ref)
		}

		val, err := decodeCellValue(&c, sharedStrings)
		if err != nil {
			return err
		}

		switch mode {
		case RangeModeAddressed:
			rng.Addressed[c.Ref] = val
		case RangeModeSequential:
			if !haveDimension {
				continue
			}
			ri := pos.Row - origin.Row
			ci := pos.Col - origin.Col
			if ri < 0 || ci < 0 || ri >= extent.Height || ci >= extent.Width {
				continue
			}
			rng.Cells[ri*extent.Width+ci] = val
		}
	}
	return nil
}

// decodeCellValue dispatches on the cell's t attribute: "s" is a shared-
// string index, "str"/"inlineStr" carry literal text, "b" is a boolean
// stored as Int 1 for "1" and Int 0 otherwise, anything else is a number
// attempted first as an integer, then as a float, per spec.md §4.C.
func decodeCellValue(c *xlsxCell, sharedStrings []string) (Value, error) {
	switch c.T {
	case "s":
		idx, err := strconv.Atoi(c.V)
		if err != nil {
			return Value{}, newError(KindParse, "cell %q: non-numeric shared string index %q", c.Ref, c.V)
		}
		if idx < 0 || idx >= len(sharedStrings) {
			return Value{}, newError(KindMalformed, "cell %q: shared string index %d out of range", c.Ref, idx)
		}
		return Value{Kind: KindString, Str: sharedStrings[idx]}, nil

	case "str":
		return Value{Kind: KindString, Str: c.V}, nil

	case "inlineStr":
		if c.Is != nil {
			return Value{Kind: KindString, Str: c.Is.T}, nil
		}
		return Value{Kind: KindString, Str: ""}, nil

	case "b":
		if c.V == "1" {
			return Value{Kind: KindInt, Int: 1}, nil
		}
		return Value{Kind: KindInt, Int: 0}, nil

	default:
		if c.V == "" {
			return Value{Kind: KindEmpty}, nil
		}
		if n, err := strconv.ParseInt(c.V, 10, 64); err == nil {
			return Value{Kind: KindInt, Int: n}, nil
		}
		f, err := strconv.ParseFloat(c.V, 64)
		if err != nil {
			return Value{}, newError(KindParse, "cell %q: unparseable numeric value %q", c.Ref, c.V)
		}
		return Value{Kind: KindFloat, Float: f}, nil
	}
}
