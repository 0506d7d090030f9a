package xlcore

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/exp/maps"
)

// Archive is the external collaborator a Workbook reads its parts
// through. The default implementation wraps archive/zip; tests and
// embedders can supply their own (an in-memory fixture, a part store
// backed by something other than a zip file).
type Archive interface {
	Parts() []string
	Open(name string) (io.Reader, error)
}

// zipArchive adapts *zip.Reader to Archive.
type zipArchive struct {
	r *zip.Reader
}

func (z *zipArchive) Parts() []string {
	names := make([]string, 0, len(z.r.File))
	for _, f := range z.r.File {
		names = append(names, f.Name)
	}
	return names
}

func (z *zipArchive) Open(name string) (io.Reader, error) {
	for _, f := range z.r.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, wrapError(KindZip, err, "opening part %q", name)
			}
			return rc, nil
		}
	}
	return nil, nil
}

// OpenOption configures Open.
type OpenOption func(*workbookConfig)

type workbookConfig struct {
	logger io.Writer
}

// WithLogger attaches a writer that receives one line per recoverable
// anomaly encountered while reading workbook parts, mirroring CFBOption's
// WithCFBLogger.
func WithLogger(w io.Writer) OpenOption {
	return func(c *workbookConfig) { c.logger = w }
}

// Workbook is a read-only facade over a single .xlsm/.xlsx package: its
// worksheets, its optional VBA project, and its optional document
// properties, per spec.md §4.G and §6.
type Workbook struct {
	archive Archive
	logger  io.Writer

	sharedStrings    []string
	sharedStringsSet bool

	sheetParts    map[string]string // sheet name -> part path
	sheetNamesSet bool
}

// Open reads path into memory as a zip-backed OOXML package and wraps it
// in a Workbook. Parts are decompressed on demand; sheet names and shared
// strings are resolved on first use, not by Open itself.
func Open(path string, opts ...OpenOption) (*Workbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, wrapError(KindIo, err, "opening %q", path)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, wrapError(KindZip, err, "reading %q as zip", path)
	}

	return OpenArchive(&zipArchive{r: zr}, opts...)
}

// OpenArchive wraps an already-open Archive in a Workbook, for callers
// that already have package bytes in memory or a non-filesystem source.
func OpenArchive(archive Archive, opts ...OpenOption) (*Workbook, error) {
	cfg := &workbookConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Workbook{archive: archive, logger: cfg.logger}, nil
}

func (w *Workbook) warnf(format string, args ...interface{}) {
	if w.logger != nil {
		fmt.Fprintf(w.logger, "xlcore: workbook: "+format+"\n", args...)
	}
}

// ensureSharedStrings loads xl/sharedStrings.xml exactly once. A workbook
// without that part (no strings ever used) is not an error.
func (w *Workbook) ensureSharedStrings() error {
	if w.sharedStringsSet {
		return nil
	}
	r, err := w.archive.Open("xl/sharedStrings.xml")
	if err != nil {
		return err
	}
	if rc, ok := r.(io.Closer); ok {
		defer rc.Close()
	}
	strs, err := loadSharedStrings(r)
	if err != nil {
		return err
	}
	w.sharedStrings = strs
	w.sharedStringsSet = true
	return nil
}

type xlsxWorkbookSheet struct {
	Name string `xml:"name,attr"`
	RID  string `xml:"id,attr"`
	SheetID string `xml:"sheetId,attr"`
}

type xlsxWorkbookXML struct {
	Sheets []xlsxWorkbookSheet `xml:"sheets>sheet"`
}

type xlsxRelationship struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
}

type xlsxRelsXML struct {
	Relationships []xlsxRelationship `xml:"Relationship"`
}

// ensureSheetNames builds the sheet-name -> worksheet-part map exactly
// once. The workbook part's <sheets> element, cross-referenced through
// workbook.xml.rels, is the primary source. Only when that resolves no
// sheet at all are the worksheet parts scanned directly, each named after
// its file name ("sheet1" for xl/worksheets/sheet1.xml); a worksheet's
// codeName attribute is not read.
func (w *Workbook) ensureSheetNames() error {
	if w.sheetNamesSet {
		return nil
	}

	parts := make(map[string]string)

	wbXML, err := w.archive.Open("xl/workbook.xml")
	if err == nil && wbXML != nil {
		if rc, ok := wbXML.(io.Closer); ok {
			defer rc.Close()
		}
		var wb xlsxWorkbookXML
		if err := xml.NewDecoder(wbXML).Decode(&wb); err != nil {
			return wrapError(KindXml, err, "parsing workbook.xml")
		}

		relTargets := make(map[string]string)
		relsR, err := w.archive.Open("xl/_rels/workbook.xml.rels")
		if err == nil && relsR != nil {
			if rc, ok := relsR.(io.Closer); ok {
				defer rc.Close()
			}
			var rels xlsxRelsXML
			if err := xml.NewDecoder(relsR).Decode(&rels); err == nil {
				for _, rel := range rels.Relationships {
					relTargets[rel.ID] = rel.Target
				}
			}
		}

		for _, sheet := range wb.Sheets {
			target, ok := relTargets[sheet.RID]
			if !ok {
				w.warnf("sheet %q: relationship id %q not found in workbook.xml.rels", sheet.Name, sheet.RID)
				continue
			}
			partPath := normalizeWorksheetPart(target)
			parts[sheet.Name] = partPath
		}
	}

	if len(parts) == 0 {
		// Fallback: scan worksheet parts directly and derive a name from
		// their path, best effort when the relationship graph doesn't
		// resolve any sheet.
		for _, name := range w.archive.Parts() {
			if strings.HasPrefix(name, "xl/worksheets/sheet") && strings.HasSuffix(name, ".xml") {
				base := strings.TrimPrefix(name, "xl/worksheets/")
				base = strings.TrimSuffix(base, ".xml")
				parts[base] = name
			}
		}
	}

	w.sheetParts = parts
	w.sheetNamesSet = true
	return nil
}

func normalizeWorksheetPart(target string) string {
	target = strings.TrimPrefix(target, "/")
	if strings.HasPrefix(target, "xl/") {
		return target
	}
	return "xl/" + target
}

// SheetNames returns every worksheet name this workbook declares, sorted
// lexically for determinism (callers that need workbook declaration
// order should consult workbook.xml directly).
func (w *Workbook) SheetNames() ([]string, error) {
	if err := w.ensureSheetNames(); err != nil {
		return nil, err
	}
	names := maps.Keys(w.sheetParts)
	sort.Strings(names)
	return names, nil
}

// Worksheet parses and returns the named worksheet's Range, addressed
// mode, resolving shared strings against the workbook's table.
func (w *Workbook) Worksheet(name string) (*Range, error) {
	if err := w.ensureSheetNames(); err != nil {
		return nil, err
	}
	partPath, ok := w.sheetParts[name]
	if !ok {
		return nil, newError(KindMalformed, "worksheet %q not found", name)
	}
	if err := w.ensureSharedStrings(); err != nil {
		return nil, err
	}

	r, err := w.archive.Open(partPath)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, newError(KindIo, "worksheet part %q missing from archive", partPath)
	}
	if rc, ok := r.(io.Closer); ok {
		defer rc.Close()
	}

	return ParseWorksheet(r, RangeModeAddressed, w.sharedStrings)
}

// HasVBA reports whether the package carries a VBA project part.
func (w *Workbook) HasVBA() bool {
	for _, name := range w.archive.Parts() {
		if name == "xl/vbaProject.bin" {
			return true
		}
	}
	return false
}

// VBAProject opens xl/vbaProject.bin as a CFB container, parses its "dir"
// stream, and wires the result to the CFB so ModuleSource can later
// recover each module's decompressed text.
func (w *Workbook) VBAProject() (*Project, error) {
	r, err := w.archive.Open("xl/vbaProject.bin")
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, newError(KindMalformed, "workbook has no xl/vbaProject.bin part")
	}
	if rc, ok := r.(io.Closer); ok {
		defer rc.Close()
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapError(KindIo, err, "reading xl/vbaProject.bin")
	}

	var cfbOpts []CFBOption
	if w.logger != nil {
		cfbOpts = append(cfbOpts, WithCFBLogger(w.logger))
	}
	cfb, err := OpenCFB(raw, cfbOpts...)
	if err != nil {
		return nil, wrapError(KindMalformed, err, "opening vbaProject.bin as CFB")
	}

	dirRaw, err := cfb.Stream("dir")
	if err != nil {
		return nil, err
	}
	dirData, err := Decompress(dirRaw)
	if err != nil {
		return nil, wrapError(KindMalformed, err, "decompressing dir stream")
	}

	project, err := ParseDirStream(dirData)
	if err != nil {
		id := newCorrelationID()
		if xerr, ok := err.(*Error); ok {
			xerr.ID = id
		}
		return nil, err
	}
	project.cfb = cfb

	return project, nil
}

// DocumentProperties returns the OLE SummaryInformation metadata embedded
// in xl/vbaProject.bin's CFB container, when the workbook carries VBA and
// that stream is present. A workbook without VBA, or without the stream,
// returns (nil, nil): this is a domain-stack addition, not part of
// spec.md's original scope.
func (w *Workbook) DocumentProperties() (*OleProperties, error) {
	if !w.HasVBA() {
		return nil, nil
	}

	r, err := w.archive.Open("xl/vbaProject.bin")
	if err != nil || r == nil {
		return nil, nil
	}
	if rc, ok := r.(io.Closer); ok {
		defer rc.Close()
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, wrapError(KindIo, err, "reading xl/vbaProject.bin")
	}

	cfb, err := OpenCFB(raw)
	if err != nil {
		return nil, wrapError(KindMalformed, err, "opening vbaProject.bin as CFB")
	}

	return loadOleProperties(cfb)
}
