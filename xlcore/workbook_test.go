package xlcore

import (
	"io"
	"strings"
	"testing"
)

// fakeArchive is an in-memory Archive, standing in for a real zip file in
// tests the same way spec.md's corpus prefers inline fixtures over
// checked-in binaries.
type fakeArchive struct {
	parts map[string]string
}

func (f *fakeArchive) Parts() []string {
	names := make([]string, 0, len(f.parts))
	for name := range f.parts {
		names = append(names, name)
	}
	return names
}

func (f *fakeArchive) Open(name string) (io.Reader, error) {
	content, ok := f.parts[name]
	if !ok {
		return nil, nil
	}
	return strings.NewReader(content), nil
}

const testWorkbookXML = `<?xml version="1.0"?>
<workbook xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships">
  <sheets>
    <sheet name="Sheet1" sheetId="1" r:id="rId1"/>
    <sheet name="Sheet2" sheetId="2" r:id="rId2"/>
  </sheets>
</workbook>`

const testWorkbookRels = `<?xml version="1.0"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
  <Relationship Id="rId1" Type="worksheet" Target="worksheets/sheet1.xml"/>
  <Relationship Id="rId2" Type="worksheet" Target="worksheets/sheet2.xml"/>
</Relationships>`

const testSheet1XML = `<worksheet><dimension ref="A1:A1"/><sheetData><row r="1"><c r="A1"><v>7</v></c></row></sheetData></worksheet>`

func newTestWorkbook() *Workbook {
	archive := &fakeArchive{parts: map[string]string{
		"xl/workbook.xml":             testWorkbookXML,
		"xl/_rels/workbook.xml.rels":  testWorkbookRels,
		"xl/worksheets/sheet1.xml":    testSheet1XML,
		"xl/worksheets/sheet2.xml":    testSheet1XML,
	}}
	wb, err := OpenArchive(archive)
	if err != nil {
		panic(err)
	}
	return wb
}

func TestWorkbookSheetNames(t *testing.T) {
	wb := newTestWorkbook()
	names, err := wb.SheetNames()
	if err != nil {
		t.Fatalf("SheetNames error = %v", err)
	}
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["Sheet1"] || !found["Sheet2"] {
		t.Errorf("SheetNames() = %v, want Sheet1 and Sheet2", names)
	}
}

func TestWorkbookWorksheet(t *testing.T) {
	wb := newTestWorkbook()
	rng, err := wb.Worksheet("Sheet1")
	if err != nil {
		t.Fatalf("Worksheet error = %v", err)
	}
	v := rng.At(1, 1)
	if v.Kind != KindInt || v.Int != 7 {
		t.Errorf("A1 = %+v, want int 7", v)
	}
}

func TestWorkbookWorksheetNotFound(t *testing.T) {
	wb := newTestWorkbook()
	if _, err := wb.Worksheet("NoSuchSheet"); err == nil {
		t.Fatal("expected error for missing sheet")
	}
}

func TestWorkbookHasVBA(t *testing.T) {
	wb := newTestWorkbook()
	if wb.HasVBA() {
		t.Error("HasVBA() = true, want false")
	}

	withVBA := &Workbook{archive: &fakeArchive{parts: map[string]string{
		"xl/vbaProject.bin": "not a real CFB image",
	}}}
	if !withVBA.HasVBA() {
		t.Error("HasVBA() = false, want true")
	}
}

func TestWorkbookDocumentPropertiesWithoutVBA(t *testing.T) {
	wb := newTestWorkbook()
	props, err := wb.DocumentProperties()
	if err != nil {
		t.Fatalf("DocumentProperties error = %v", err)
	}
	if props != nil {
		t.Errorf("DocumentProperties() = %+v, want nil", props)
	}
}
