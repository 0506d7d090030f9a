package xlcore

import (
	"encoding/xml"
	"io"
)

// loadSharedStrings streams xl/sharedStrings.xml and produces one entry per
// <si> element in document order: the concatenated text of every <t> inside
// it, so a rich-text <si> split into several <r> runs yields one string.
// A nil reader (the part is absent from the archive) is not an error: it
// yields an empty table.
func loadSharedStrings(r io.Reader) ([]string, error) {
	if r == nil {
		return nil, nil
	}

	dec := xml.NewDecoder(r)
	var table []string
	inSi := false
	inText := false
	var buf []byte

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapError(KindXml, err, "parsing sharedStrings.xml")
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inSi = true
				buf = buf[:0]
			case "t":
				inText = true
			}
		case xml.CharData:
			if inSi && inText {
				buf = append(buf, t...)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "si":
				table = append(table, string(buf))
				inSi = false
			}
		}
	}

	return table, nil
}
