package apf

import (
	"github.com/FocuswithJustin/apfingest/core/errors"
	"github.com/FocuswithJustin/apfingest/core/xml"
)

// Header is the document identification carried by an APF file.
type Header struct {
	DocID  string `json:"doc_id"`
	URI    string `json:"uri"`
	Source string `json:"source,omitempty"`
	Type   string `json:"type,omitempty"`
}

// ReadHeader reads the source_file and document attributes of an APF file.
// The file must be well-formed XML; callers treat a failure as non-fatal and
// fall back to the file name for the document id.
func ReadHeader(data []byte) (*Header, error) {
	doc, err := xml.Parse(data)
	if err != nil {
		return nil, errors.NewParse(Format, "header", err.Error())
	}

	h := &Header{}
	source, err := doc.XPathFirst("/source_file")
	if err != nil {
		return nil, err
	}
	if source != nil {
		h.URI = source.Attr("URI")
		h.Source = source.Attr("SOURCE")
		h.Type = source.Attr("TYPE")
	}

	document, err := doc.XPathFirst("//document")
	if err != nil {
		return nil, err
	}
	if document == nil || document.Attr("DOCID") == "" {
		return nil, errors.NewParse(Format, "header", "missing document DOCID")
	}
	h.DocID = document.Attr("DOCID")
	return h, nil
}
