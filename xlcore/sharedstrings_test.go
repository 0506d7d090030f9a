package xlcore

import (
	"strings"
	"testing"
)

func TestLoadSharedStringsNilReader(t *testing.T) {
	got, err := loadSharedStrings(nil)
	if err != nil {
		t.Fatalf("loadSharedStrings(nil) error = %v", err)
	}
	if got != nil {
		t.Errorf("loadSharedStrings(nil) = %v, want nil", got)
	}
}

func TestLoadSharedStrings(t *testing.T) {
	xmlDoc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main" count="3" uniqueCount="3">
  <si><t>Alpha</t></si>
  <si><r><t>Be</t></r><r><t>ta</t></r></si>
  <si><t xml:space="preserve"> Gamma </t></si>
</sst>`

	got, err := loadSharedStrings(strings.NewReader(xmlDoc))
	if err != nil {
		t.Fatalf("loadSharedStrings error = %v", err)
	}

	want := []string{"Alpha", "Beta", " Gamma "}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("strings[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLoadSharedStringsMalformed(t *testing.T) {
	if _, err := loadSharedStrings(strings.NewReader("<sst><si><t>unterminated")); err == nil {
		t.Fatal("expected error for malformed XML")
	}
}
