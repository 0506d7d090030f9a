package xlcore

import (
	"bufio"
	"encoding/binary"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// vbaNameDecoder decodes the UTF-16LE "unicode name" fields MS-OVBA pairs
// alongside each MBCS name, the same golang.org/x/text/encoding/unicode
// decoder cfb.go uses for directory-entry names.
var vbaNameDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

func decodeUTF16LEName(b []byte) (string, error) {
	decoded, err := vbaNameDecoder.Bytes(b)
	if err != nil {
		return "", err
	}
	s := string(decoded)
	if nul := strings.IndexByte(s, 0); nul >= 0 {
		s = s[:nul]
	}
	return s, nil
}

// Reference describes one external reference recorded in a VBA project's
// directory stream.
type Reference struct {
	Name        string
	Description string
	Path        string
}

// Module describes one VBA code module: its declared name, the CFB stream
// backing its compressed source, and the byte offset within that stream
// where the compressed source begins.
type Module struct {
	Name       string
	StreamName string
	TextOffset int
}

// Project is a parsed VBA project: its external references and its
// modules, in the order the directory stream declared them.
type Project struct {
	cfb        *CFB
	References []Reference
	Modules    []Module
	codepage   int
}

// cursor is a bounds-checked reader over a decompressed "dir" stream. Every
// read method returns an *Error with KindMalformed on underrun, rather than
// panicking the way a raw slice re-slice would, mirroring how
// record.Reader in this corpus's BIFF12 reader turns truncation into an
// explicit error instead of a panic.
type cursor struct {
	b   []byte
	pos int
}

func (c *cursor) u16() (uint16, error) {
	if c.pos+2 > len(c.b) {
		return 0, malformed("dir stream: truncated reading u16 at offset %d", c.pos)
	}
	v := binary.LittleEndian.Uint16(c.b[c.pos:])
	c.pos += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.pos+4 > len(c.b) {
		return 0, malformed("dir stream: truncated reading u32 at offset %d", c.pos)
	}
	v := binary.LittleEndian.Uint32(c.b[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) skip(n int) error {
	if c.pos+n > len(c.b) {
		return malformed("dir stream: truncated skipping %d bytes at offset %d", n, c.pos)
	}
	c.pos += n
	return nil
}

func (c *cursor) bytes(n int) ([]byte, error) {
	if c.pos+n > len(c.b) {
		return nil, malformed("dir stream: truncated reading %d bytes at offset %d", n, c.pos)
	}
	b := c.b[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// lenPrefixedBytes reads a u32 length prefix followed by that many bytes.
func (c *cursor) lenPrefixedBytes() ([]byte, error) {
	n, err := c.u32()
	if err != nil {
		return nil, err
	}
	return c.bytes(int(n))
}

// ParseDirStream walks the decompressed "dir" stream's tag-length-value
// records, per spec.md §4.F, returning the References and Modules it
// declares.
func ParseDirStream(data []byte) (*Project, error) {
	c := &cursor{b: data}

	codepage, err := skipDirHeader(c)
	if err != nil {
		return nil, err
	}

	references, err := readReferences(c, codepage)
	if err != nil {
		return nil, err
	}

	modules, err := readModules(c, codepage)
	if err != nil {
		return nil, err
	}

	return &Project{References: references, Modules: modules, codepage: codepage}, nil
}

// skipDirHeader consumes the fixed-layout PROJECTSYSKIND .. PROJECTCONSTANTS
// record run and returns the PROJECTCODEPAGE value; every other field is
// skipped without being retained, only to reach the reference records.
func skipDirHeader(c *cursor) (int, error) {
	// PROJECTSYSKIND, PROJECTLCID, PROJECTLCIDINVOKE: each is a 2-byte id,
	// a 4-byte length (always 4), and a 4-byte value.
	for i := 0; i < 3; i++ {
		if err := c.skip(10); err != nil {
			return 0, err
		}
	}
	// PROJECTCODEPAGE: 2-byte id, 4-byte length (always 2), 2-byte value.
	// This is the one header field spec.md §9 asks us to retain, to drive
	// MBCS decoding of reference/module name bytes later in the stream.
	if err := c.skip(6); err != nil {
		return 0, err
	}
	codepageValue, err := c.u16()
	if err != nil {
		return 0, err
	}
	codepage := int(codepageValue)

	// PROJECTNAME: 2-byte id, then length-prefixed bytes.
	if err := c.skip(2); err != nil {
		return 0, err
	}
	if _, err := c.lenPrefixedBytes(); err != nil {
		return 0, err
	}
	// PROJECTDOCSTRING (+ unicode variant).
	if err := skipTagAndLenPrefixed(c); err != nil {
		return 0, err
	}
	if err := skipTagAndLenPrefixed(c); err != nil {
		return 0, err
	}
	// PROJECTHELPFILEPATH (two length-prefixed strings back to back).
	if err := skipTagAndLenPrefixed(c); err != nil {
		return 0, err
	}
	if err := skipTagAndLenPrefixed(c); err != nil {
		return 0, err
	}
	// PROJECTHELPCONTEXT: 2-byte id, 4-byte length (always 4), 4-byte value.
	if err := c.skip(10); err != nil {
		return 0, err
	}
	// PROJECTLIBFLAGS: 2-byte id, 4-byte length (always 4), 4-byte value.
	if err := c.skip(10); err != nil {
		return 0, err
	}
	// PROJECTVERSION: 2-byte id, 4-byte reserved, 4-byte major, 2-byte minor.
	if err := c.skip(12); err != nil {
		return 0, err
	}
	// PROJECTCONSTANTS (+ unicode variant).
	if err := skipTagAndLenPrefixed(c); err != nil {
		return 0, err
	}
	if err := skipTagAndLenPrefixed(c); err != nil {
		return 0, err
	}
	return codepage, nil
}

func skipTagAndLenPrefixed(c *cursor) error {
	if err := c.skip(2); err != nil {
		return err
	}
	_, err := c.lenPrefixedBytes()
	return err
}

const (
	tagReferenceName       = 0x0016
	tagReferenceOriginal   = 0x0033
	tagReferenceControl    = 0x002F
	tagReferenceRegistered = 0x000D
	tagReferenceProject    = 0x000E
	tagReferencesEnd       = 0x000F
)

// readReferences implements spec.md §4.F's reference-commit state machine:
// a single in-flight Reference is committed on the next REFERENCENAME or on
// the terminator.
func readReferences(c *cursor, codepage int) ([]Reference, error) {
	var out []Reference
	var current Reference
	haveCurrent := false

	for {
		tag, err := c.u16()
		if err != nil {
			return nil, err
		}

		switch tag {
		case tagReferencesEnd:
			if haveCurrent {
				out = append(out, current)
			}
			return out, nil

		case tagReferenceName:
			if haveCurrent {
				out = append(out, current)
			}
			nameBytes, err := c.lenPrefixedBytes()
			if err != nil {
				return nil, err
			}
			name := decodeProjectString(nameBytes, codepage)
			current = Reference{Name: name, Description: name}
			haveCurrent = true
			if err := c.skip(2); err != nil { // unicode name tag
				return nil, err
			}
			unicodeNameBytes, err := c.lenPrefixedBytes()
			if err != nil {
				return nil, err
			}
			if unicodeName, err := decodeUTF16LEName(unicodeNameBytes); err == nil && unicodeName != "" {
				current.Name = unicodeName
				current.Description = unicodeName
			}

		case tagReferenceOriginal:
			if _, err := c.lenPrefixedBytes(); err != nil {
				return nil, err
			}

		case tagReferenceControl:
			if err := c.skip(4); err != nil {
				return nil, err
			}
			if _, err := c.lenPrefixedBytes(); err != nil { // twiddled libid
				return nil, err
			}
			if err := c.skip(6); err != nil {
				return nil, err
			}
			// This u16 is consumed unconditionally: it is either the
			// optional NameRecordExtended id (0x0016) or the mandatory
			// Reserved3 field (0x0030). Either way MS-OVBA never puts it
			// back, so neither do we.
			nextTag, err := c.u16()
			if err != nil {
				return nil, err
			}
			if nextTag == tagReferenceName {
				if _, err := c.lenPrefixedBytes(); err != nil { // extended name
					return nil, err
				}
				if err := c.skip(2); err != nil {
					return nil, err
				}
				if _, err := c.lenPrefixedBytes(); err != nil { // extended unicode name
					return nil, err
				}
				if err := c.skip(2); err != nil {
					return nil, err
				}
			}
			if err := c.skip(4); err != nil {
				return nil, err
			}
			if _, err := c.lenPrefixedBytes(); err != nil { // extended libid
				return nil, err
			}
			if err := c.skip(26); err != nil {
				return nil, err
			}

		case tagReferenceRegistered:
			if err := c.skip(4); err != nil {
				return nil, err
			}
			libid, err := c.lenPrefixedBytes()
			if err != nil {
				return nil, err
			}
			parts := strings.Split(string(libid), "#")
			if n := len(parts); n > 0 {
				current.Description = parts[n-1]
			}
			if n := len(parts); n > 1 {
				current.Path = parts[n-2]
			}
			if err := c.skip(6); err != nil {
				return nil, err
			}

		case tagReferenceProject:
			if err := c.skip(4); err != nil {
				return nil, err
			}
			absolute, err := c.lenPrefixedBytes()
			if err != nil {
				return nil, err
			}
			absStr := string(absolute)
			if strings.HasPrefix(absStr, "*\\C") {
				current.Path = absStr[3:]
			} else {
				current.Path = absStr
			}
			if _, err := c.lenPrefixedBytes(); err != nil { // relative libid
				return nil, err
			}
			if err := c.skip(6); err != nil {
				return nil, err
			}

		default:
			return nil, malformed("dir stream: unexpected reference tag 0x%04X", tag)
		}
	}
}

const (
	tagModuleNameUnicode   = 0x0047
	tagModuleStreamName    = 0x001A
	tagModuleDocString     = 0x001C
	tagModuleOffset        = 0x0031
	tagModuleHelpContext   = 0x001E
	tagModuleCookie        = 0x002C
	tagModuleReserved4a    = 0x0021
	tagModuleReserved4b    = 0x0022
	tagModuleReadOnly      = 0x0025
	tagModulePrivate       = 0x0028
	tagModuleTerminator    = 0x002B
)

// readModules implements spec.md §4.F's module block: a fixed preamble
// followed by module_count modules, each a name plus a run of sub-records
// terminated by 0x002B.
func readModules(c *cursor, codepage int) ([]Module, error) {
	if err := c.skip(4); err != nil {
		return nil, err
	}
	count, err := c.u16()
	if err != nil {
		return nil, err
	}
	if err := c.skip(8); err != nil {
		return nil, err
	}

	modules := make([]Module, 0, count)
	for i := 0; i < int(count); i++ {
		if err := c.skip(2); err != nil {
			return nil, err
		}
		nameBytes, err := c.lenPrefixedBytes()
		if err != nil {
			return nil, err
		}
		module := Module{Name: decodeProjectString(nameBytes, codepage)}

		for {
			tag, err := c.u16()
			if err != nil {
				return nil, err
			}
			switch tag {
			case tagModuleNameUnicode:
				unicodeNameBytes, err := c.lenPrefixedBytes()
				if err != nil {
					return nil, err
				}
				if unicodeName, err := decodeUTF16LEName(unicodeNameBytes); err == nil && unicodeName != "" {
					module.Name = unicodeName
				}
			case tagModuleStreamName:
				streamBytes, err := c.lenPrefixedBytes()
				if err != nil {
					return nil, err
				}
				module.StreamName = decodeProjectString(streamBytes, codepage)
				if err := c.skip(2); err != nil {
					return nil, err
				}
				if _, err := c.lenPrefixedBytes(); err != nil {
					return nil, err
				}
			case tagModuleDocString:
				if _, err := c.lenPrefixedBytes(); err != nil {
					return nil, err
				}
				if err := c.skip(2); err != nil {
					return nil, err
				}
				if _, err := c.lenPrefixedBytes(); err != nil {
					return nil, err
				}
			case tagModuleOffset:
				if err := c.skip(4); err != nil {
					return nil, err
				}
				offset, err := c.u32()
				if err != nil {
					return nil, err
				}
				module.TextOffset = int(offset)
			case tagModuleHelpContext:
				if err := c.skip(8); err != nil {
					return nil, err
				}
			case tagModuleCookie:
				if err := c.skip(6); err != nil {
					return nil, err
				}
			case tagModuleReserved4a, tagModuleReserved4b, tagModuleReadOnly, tagModulePrivate:
				if err := c.skip(4); err != nil {
					return nil, err
				}
			case tagModuleTerminator:
				if err := c.skip(4); err != nil {
					return nil, err
				}
				goto doneModule
			default:
				return nil, malformed("dir stream: unexpected module sub-record tag 0x%04X", tag)
			}
		}
	doneModule:
		modules = append(modules, module)
	}

	return modules, nil
}

// decodeProjectString decodes a directory-record byte string per spec.md
// §9's open question: MS-OVBA specifies MBCS under PROJECTCODEPAGE, the
// distillation's source treats it as UTF-8. This implementation honors the
// codepage via golang.org/x/text/encoding/charmap when it maps to a known
// single-byte code page, falling back to UTF-8 (and, failing that, the raw
// bytes) otherwise.
func decodeProjectString(b []byte, codepage int) string {
	if cm := charmapForCodepage(codepage); cm != nil {
		if decoded, err := cm.NewDecoder().Bytes(b); err == nil {
			return string(decoded)
		}
	}
	return string(b)
}

func charmapForCodepage(codepage int) *charmap.Charmap {
	switch codepage {
	case 1252:
		return charmap.Windows1252
	case 1250:
		return charmap.Windows1250
	case 1251:
		return charmap.Windows1251
	case 28591, 819:
		return charmap.ISO8859_1
	default:
		return nil
	}
}

// ModuleSource returns the source text recovered from the given module: the
// backing stream is looked up, sliced from TextOffset, and decompressed
// per spec.md §4.F "Module source recovery".
func (p *Project) ModuleSource(m Module) (string, error) {
	raw, err := p.cfb.Stream(m.StreamName)
	if err != nil {
		return "", err
	}
	if m.TextOffset > len(raw) {
		return "", malformed("module %q: text offset %d exceeds stream length %d", m.Name, m.TextOffset, len(raw))
	}
	decompressed, err := Decompress(raw[m.TextOffset:])
	if err != nil {
		return "", err
	}
	if !utf8.Valid(decompressed) {
		return "", newError(KindEncoding, "module %q: decompressed source is not valid UTF-8", m.Name)
	}
	return string(decompressed), nil
}

// ParseProjectStream reads the CFB "PROJECT" stream's INI-like key/value
// lines, per spec.md §6, returning a map from code-module name to the file
// extension it should be given.
func ParseProjectStream(data []byte) (map[string]string, error) {
	result := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "[") {
			continue
		}
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := line[:eq]
		value := line[eq+1:]
		switch key {
		case "Document", "Class":
			result[value] = "cls"
		case "Module":
			result[value] = "bas"
		case "BaseClass":
			result[value] = "frm"
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, wrapError(KindIo, err, "reading PROJECT stream")
	}
	return result, nil
}
