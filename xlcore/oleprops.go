package xlcore

import (
	"bytes"

	"github.com/richardlehane/msoleps"
)

// OleProperties is the subset of the OLE SummaryInformation property set
// that a workbook's metadata page cares about: title, subject, author, last
// author and creating application; other properties, timestamps included,
// are not read. This is a domain-stack addition beyond
// spec.md's original scope (see SPEC_FULL.md, Document Properties).
type OleProperties struct {
	Title          string
	Subject        string
	Author         string
	LastAuthor     string
	ApplicationName string
}

// summaryInformationStream is the fixed CFB entry name MS-OLEPS documents
// for the standard property set.
const summaryInformationStream = "\x05SummaryInformation"

// loadOleProperties decodes the \005SummaryInformation stream, when
// present, via github.com/richardlehane/msoleps: a real property-set
// parser for a binary format that the hand-rolled CFB reader in this
// package does not itself need to understand, since it only has to locate
// the stream's bytes, not interpret them.
func loadOleProperties(c *CFB) (*OleProperties, error) {
	raw, err := c.Stream(summaryInformationStream)
	if err != nil {
		return nil, nil
	}

	doc, err := msoleps.New(bytes.NewReader(raw))
	if err != nil {
		return nil, wrapError(KindMalformed, err, "parsing SummaryInformation property set")
	}

	props := &OleProperties{}
	for _, p := range doc.Property {
		switch p.Name {
		case "Title":
			props.Title = p.String()
		case "Subject":
			props.Subject = p.String()
		case "Author":
			props.Author = p.String()
		case "Last Saved By":
			props.LastAuthor = p.String()
		case "Name of Creating Application":
			props.ApplicationName = p.String()
		}
	}

	return props, nil
}
