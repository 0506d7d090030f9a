package xlcore

import (
	"encoding/binary"
	"testing"
)

// buildTestCFB assembles a minimal, valid CFB image in memory: one FAT
// sector, one directory sector (root entry + a single stream entry), and
// one content sector holding streamData. No mini-stream pool is built,
// matching a file whose root entry has no mini-stream (startSect ==
// ENDOFCHAIN), the same shortcut OpenCFB itself takes in that case.
func buildTestCFB(t *testing.T, streamName string, streamData []byte) []byte {
	t.Helper()

	const sectorSize = 512
	header := make([]byte, cfbHeaderSize)
	copy(header[:8], cfbSignature)
	binary.LittleEndian.PutUint16(header[30:32], 9) // sectorShift: 2^9 = 512
	binary.LittleEndian.PutUint16(header[32:34], 6) // miniSectorShift, unused here
	binary.LittleEndian.PutUint32(header[48:52], 1) // dirStart = sector 1
	binary.LittleEndian.PutUint32(header[56:60], 4096) // miniCutoff
	binary.LittleEndian.PutUint32(header[60:64], cfbSectorEndOfChain) // miniFatStart, unused
	binary.LittleEndian.PutUint32(header[68:72], cfbSectorEndOfChain) // difStart: no DIF

	binary.LittleEndian.PutUint32(header[76:80], 0) // fatSectorIDs[0] = sector 0
	for i := 1; i < cfbNumFatIDs; i++ {
		binary.LittleEndian.PutUint32(header[76+i*4:80+i*4], cfbSectorFree)
	}

	// Sector 0: the FAT itself, 128 uint32 entries.
	fatSector := make([]byte, sectorSize)
	for i := range fatSector {
		fatSector[i] = 0xFF // default to FREESECT
	}
	binary.LittleEndian.PutUint32(fatSector[1*4:2*4], cfbSectorEndOfChain) // dir sector chain end
	binary.LittleEndian.PutUint32(fatSector[2*4:3*4], cfbSectorEndOfChain) // content sector chain end

	// Sector 1: directory stream, two 128-byte entries.
	dirSector := make([]byte, sectorSize)
	writeDirEntry(dirSector[0:128], "Root Entry", cfbSectorEndOfChain, 0)
	writeDirEntry(dirSector[128:256], streamName, 2, uint32(len(streamData)))

	// Sector 2: the stream's content, padded to a full sector.
	contentSector := make([]byte, sectorSize)
	copy(contentSector, streamData)

	image := append([]byte{}, header...)
	image = append(image, fatSector...)
	image = append(image, dirSector...)
	image = append(image, contentSector...)
	return image
}

func writeDirEntry(rec []byte, name string, startSect, size uint32) {
	u16s := make([]uint16, 0, len(name)+1)
	for _, r := range name {
		u16s = append(u16s, uint16(r))
	}
	u16s = append(u16s, 0)
	for i, w := range u16s {
		binary.LittleEndian.PutUint16(rec[i*2:i*2+2], w)
	}
	binary.LittleEndian.PutUint16(rec[64:66], uint16(len(u16s)*2))
	binary.LittleEndian.PutUint32(rec[116:120], startSect)
	binary.LittleEndian.PutUint32(rec[120:124], size)
}

func TestOpenCFBReadsStream(t *testing.T) {
	want := []byte("hello from a compound file")
	image := buildTestCFB(t, "Test", want)

	cfb, err := OpenCFB(image)
	if err != nil {
		t.Fatalf("OpenCFB error = %v", err)
	}

	got, err := cfb.Stream("Test")
	if err != nil {
		t.Fatalf("Stream error = %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("Stream content = %q, want %q", got, want)
	}
}

func TestOpenCFBMissingStream(t *testing.T) {
	image := buildTestCFB(t, "Test", []byte("x"))
	cfb, err := OpenCFB(image)
	if err != nil {
		t.Fatalf("OpenCFB error = %v", err)
	}
	if _, err := cfb.Stream("DoesNotExist"); err == nil {
		t.Fatal("expected error for missing stream")
	}
}

func TestOpenCFBRejectsBadSignature(t *testing.T) {
	image := make([]byte, cfbHeaderSize)
	if _, err := OpenCFB(image); err == nil {
		t.Fatal("expected error for invalid signature")
	}
}

func TestOpenCFBRejectsShortImage(t *testing.T) {
	if _, err := OpenCFB([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for image shorter than header")
	}
}

func TestStreamNames(t *testing.T) {
	image := buildTestCFB(t, "dir", []byte("abc"))
	cfb, err := OpenCFB(image)
	if err != nil {
		t.Fatalf("OpenCFB error = %v", err)
	}
	var named []string
	for _, name := range cfb.StreamNames() {
		if name != "" {
			named = append(named, name)
		}
	}
	if len(named) != 2 || named[0] != "Root Entry" || named[1] != "dir" {
		t.Errorf("non-empty StreamNames() = %v, want [Root Entry dir]", named)
	}
}
