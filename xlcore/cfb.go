package xlcore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

const (
	cfbSectorEndOfChain uint32 = 0xFFFFFFFE
	cfbSectorFree       uint32 = 0xFFFFFFFF

	cfbHeaderSize  = 512
	cfbNumFatIDs   = 109
	cfbDirEntrySize = 128
)

var cfbSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

// CFBOption configures OpenCFB.
type CFBOption func(*cfbConfig)

type cfbConfig struct {
	logger io.Writer
}

// WithCFBLogger attaches a writer that receives one line per recoverable
// anomaly encountered while walking the FAT chains (a DIF walk cut short by
// the cycle guard). Errors that stop the parse, such as a directory entry
// whose name cannot be decoded, are still returned normally; this is purely
// diagnostic.
func WithCFBLogger(w io.Writer) CFBOption {
	return func(c *cfbConfig) { c.logger = w }
}

// cfbDirEntry is one decoded 128-byte directory record.
type cfbDirEntry struct {
	name      string
	startSect uint32
	size      uint32
}

// CFB is a read-only view over a Compound File Binary image: a flat byte
// buffer addressed through a regular sector FAT and, for small streams, a
// secondary mini-FAT pool. See spec.md §4.E.
type CFB struct {
	image []byte

	sectorSize     int
	miniSectorSize int
	miniCutoff     uint32

	fat     []uint32
	miniFat []uint32

	dir       []cfbDirEntry
	miniBytes []byte // root entry's stream, i.e. the mini-stream pool

	logger io.Writer
}

// OpenCFB parses a flat byte image as an OLE/CFB compound file.
func OpenCFB(image []byte, opts ...CFBOption) (*CFB, error) {
	cfg := &cfbConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if len(image) < cfbHeaderSize {
		return nil, malformed("image shorter than CFB header (%d bytes)", len(image))
	}
	if !bytes.Equal(image[:8], cfbSignature) {
		return nil, malformed("invalid OLE signature")
	}

	body := image[cfbHeaderSize:]
	sectorShift := binary.LittleEndian.Uint16(image[30:32])
	miniSectorShift := binary.LittleEndian.Uint16(image[32:34])
	sectorSize := 1 << sectorShift
	miniSectorSize := 1 << miniSectorShift

	if len(body)%sectorSize != 0 {
		return nil, malformed("last sector has invalid size")
	}

	dirStart := binary.LittleEndian.Uint32(image[48:52])
	miniCutoff := binary.LittleEndian.Uint32(image[56:60])
	miniFatStart := binary.LittleEndian.Uint32(image[60:64])
	difStart := binary.LittleEndian.Uint32(image[68:72])

	fatSectorIDs := make([]uint32, cfbNumFatIDs)
	for i := range fatSectorIDs {
		fatSectorIDs[i] = binary.LittleEndian.Uint32(image[76+i*4 : 80+i*4])
	}

	cfb := &CFB{
		image:          image,
		sectorSize:     sectorSize,
		miniSectorSize: miniSectorSize,
		miniCutoff:     miniCutoff,
		logger:         cfg.logger,
	}

	numSectors := len(body) / sectorSize

	// Walk the DIF chain, bounded by the total sector count in the image:
	// the file cannot legitimately contain more additional-FAT-sector
	// pointers than it has sectors, so that bound also catches a DIF chain
	// crafted to point back into itself.
	sid := difStart
	seenDIF := make(map[uint32]bool)
	for sid != cfbSectorEndOfChain && sid != cfbSectorFree {
		if seenDIF[sid] || len(seenDIF) > numSectors {
			cfb.warnf("DIF chain cycle or overrun detected at sector %d; truncating", sid)
			break
		}
		seenDIF[sid] = true

		sectorIDs, err := cfb.readSectorIDs(sid)
		if err != nil {
			return nil, err
		}
		if len(sectorIDs) == 0 {
			break
		}
		fatSectorIDs = append(fatSectorIDs, sectorIDs[:len(sectorIDs)-1]...)
		sid = sectorIDs[len(sectorIDs)-1]
	}

	var fat []uint32
	for _, fsid := range fatSectorIDs {
		if fsid == cfbSectorFree {
			continue
		}
		ids, err := cfb.readSectorIDs(fsid)
		if err != nil {
			return nil, err
		}
		fat = append(fat, ids...)
	}
	cfb.fat = fat

	dirBytes, err := cfb.readChain(dirStart)
	if err != nil {
		return nil, err
	}
	for off := 0; off+cfbDirEntrySize <= len(dirBytes); off += cfbDirEntrySize {
		entry, err := decodeDirEntry(dirBytes[off : off+cfbDirEntrySize])
		if err != nil {
			return nil, err
		}
		cfb.dir = append(cfb.dir, entry)
	}
	if len(cfb.dir) == 0 {
		return nil, malformed("empty directory stream")
	}

	root := cfb.dir[0]
	if root.startSect != cfbSectorEndOfChain {
		mini, err := cfb.readChain(root.startSect)
		if err != nil {
			return nil, err
		}
		if uint32(len(mini)) > root.size {
			mini = mini[:root.size]
		}
		cfb.miniBytes = mini

		miniFatBytes, err := cfb.readChain(miniFatStart)
		if err != nil {
			return nil, err
		}
		cfb.miniFat = bytesToUint32s(miniFatBytes)
	}

	return cfb, nil
}

func (c *CFB) warnf(format string, args ...interface{}) {
	if c.logger != nil {
		fmt.Fprintf(c.logger, "xlcore: cfb: "+format+"\n", args...)
	}
}

// readSectorIDs reads one regular-pool sector as a slice of 32-bit little
// endian sector ids (used for FAT and DIF sectors before the FAT
// itself is fully assembled).
func (c *CFB) readSectorIDs(sector uint32) ([]uint32, error) {
	start := int(sector) * c.sectorSize
	end := start + c.sectorSize
	body := c.image[cfbHeaderSize:]
	if start < 0 || end > len(body) {
		return nil, malformed("sector id %d out of range", sector)
	}
	return bytesToUint32s(body[start:end]), nil
}

// readChain follows the regular FAT chain starting at sector s, returning
// the concatenated sector bytes. It stops at ENDOFCHAIN.
func (c *CFB) readChain(s uint32) ([]byte, error) {
	body := c.image[cfbHeaderSize:]
	var out []byte
	seen := make(map[uint32]bool)
	for s != cfbSectorEndOfChain {
		if s == cfbSectorFree {
			return nil, malformed("sector chain hit a free sector")
		}
		if seen[s] {
			return nil, malformed("sector chain cycle at sector %d", s)
		}
		seen[s] = true

		start := int(s) * c.sectorSize
		end := start + c.sectorSize
		if start < 0 || end > len(body) {
			return nil, wrapError(KindIo, io.ErrUnexpectedEOF, "sector %d out of range", s)
		}
		out = append(out, body[start:end]...)

		if int(s) >= len(c.fat) {
			return nil, malformed("sector %d has no FAT entry", s)
		}
		s = c.fat[s]
	}
	return out, nil
}

// readMiniChain follows the mini-FAT chain starting at sector s within the
// mini-stream pool.
func (c *CFB) readMiniChain(s uint32) ([]byte, error) {
	var out []byte
	seen := make(map[uint32]bool)
	for s != cfbSectorEndOfChain {
		if s == cfbSectorFree {
			return nil, malformed("mini sector chain hit a free sector")
		}
		if seen[s] {
			return nil, malformed("mini sector chain cycle at sector %d", s)
		}
		seen[s] = true

		start := int(s) * c.miniSectorSize
		end := start + c.miniSectorSize
		if start < 0 || end > len(c.miniBytes) {
			return nil, malformed("mini sector %d out of range", s)
		}
		out = append(out, c.miniBytes[start:end]...)

		if int(s) >= len(c.miniFat) {
			return nil, malformed("mini sector %d has no mini-FAT entry", s)
		}
		s = c.miniFat[s]
	}
	return out, nil
}

// Stream returns the named stream's bytes, truncated to its recorded size.
// Streams below the mini-sector cutoff are read from the mini-stream pool
// when one exists; everything else comes from the regular pool.
func (c *CFB) Stream(name string) ([]byte, error) {
	for _, entry := range c.dir {
		if entry.name != name {
			continue
		}

		if entry.size < c.miniCutoff && c.miniBytes != nil {
			data, err := c.readMiniChain(entry.startSect)
			if err != nil {
				return nil, err
			}
			return truncateTo(data, entry.size), nil
		}

		data, err := c.readChain(entry.startSect)
		if err != nil {
			return nil, err
		}
		return truncateTo(data, entry.size), nil
	}
	return nil, newError(KindMalformed, "stream %q not found", name)
}

// StreamNames lists the names of every directory entry, in on-disk order.
func (c *CFB) StreamNames() []string {
	names := make([]string, 0, len(c.dir))
	for _, e := range c.dir {
		names = append(names, e.name)
	}
	return names
}

func truncateTo(b []byte, size uint32) []byte {
	if uint32(len(b)) > size {
		return b[:size]
	}
	return b
}

// cfbDirNameDecoder decodes UTF-16LE directory-entry names via
// golang.org/x/text/encoding/unicode rather than a hand-rolled
// unicode/utf16 loop, the same package the wider x/text-consuming repos
// in this corpus reach for when a raw byte string needs UTF-16 decoding.
var cfbDirNameDecoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()

func decodeDirEntry(rec []byte) (cfbDirEntry, error) {
	nameLen := binary.LittleEndian.Uint16(rec[64:66])
	var name string
	if nameLen >= 2 && nameLen <= 64 {
		nameBytes := rec[:nameLen-2]
		if len(nameBytes)%2 != 0 {
			return cfbDirEntry{}, newError(KindEncoding, "directory name has odd byte length")
		}
		decodedBytes, err := cfbDirNameDecoder.Bytes(nameBytes)
		if err != nil {
			return cfbDirEntry{}, wrapError(KindEncoding, err, "decoding directory entry name")
		}
		decoded := string(decodedBytes)
		if nul := strings.IndexByte(decoded, 0); nul >= 0 {
			decoded = decoded[:nul]
		}
		name = decoded
	}

	return cfbDirEntry{
		name:      name,
		startSect: binary.LittleEndian.Uint32(rec[116:120]),
		size:      binary.LittleEndian.Uint32(rec[120:124]),
	}, nil
}

func bytesToUint32s(b []byte) []uint32 {
	out := make([]uint32, len(b)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(b[i*4 : i*4+4])
	}
	return out
}
