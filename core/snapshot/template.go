package snapshot

import (
	"encoding/json"
	"os"

	"github.com/FocuswithJustin/apfingest/core/errors"
)

// Layer type names used by the annotation tool's custom type system.
const (
	DefaultTriggerLayer  = "webanno.custom.CTEventSpan"
	DefaultRelationLayer = "webanno.custom.CTEventSpanType"
	DefaultTokenLayer    = "de.tudarmstadt.ukp.dkpro.core.api.segmentation.type.Token"
	DefaultEntityLayer   = "webanno.custom.AceEntitySpan"
	DefaultMetadataType  = "de.tudarmstadt.ukp.dkpro.core.api.metadata.type.DocumentMetaData"
)

// Template is the read-only description every snapshot starts from.
type Template struct {
	Language      string            `json:"language"`
	MimeType      string            `json:"mime_type"`
	TriggerLayer  string            `json:"trigger_layer"`
	RelationLayer string            `json:"relation_layer"`
	TokenLayer    string            `json:"token_layer"`
	EntityLayer   string            `json:"entity_layer"`
	MetadataType  string            `json:"metadata_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// DefaultTemplate returns the built-in template for ACE event projects.
func DefaultTemplate() *Template {
	return &Template{
		Language:      "en",
		MimeType:      "text",
		TriggerLayer:  DefaultTriggerLayer,
		RelationLayer: DefaultRelationLayer,
		TokenLayer:    DefaultTokenLayer,
		EntityLayer:   DefaultEntityLayer,
		MetadataType:  DefaultMetadataType,
		Metadata:      map[string]string{"collectionId": "ACE2005"},
	}
}

// LoadTemplate reads a JSON template. Fields left empty take their default.
func LoadTemplate(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read", path, err)
	}
	tmpl := &Template{}
	if err := json.Unmarshal(data, tmpl); err != nil {
		return nil, &errors.ParseError{Format: "template", Path: path, Message: err.Error()}
	}
	tmpl.fill(DefaultTemplate())
	return tmpl, nil
}

func (t *Template) fill(def *Template) {
	set := func(dst *string, v string) {
		if *dst == "" {
			*dst = v
		}
	}
	set(&t.Language, def.Language)
	set(&t.MimeType, def.MimeType)
	set(&t.TriggerLayer, def.TriggerLayer)
	set(&t.RelationLayer, def.RelationLayer)
	set(&t.TokenLayer, def.TokenLayer)
	set(&t.EntityLayer, def.EntityLayer)
	set(&t.MetadataType, def.MetadataType)
}

// Clone returns a deep copy of t.
func (t *Template) Clone() *Template {
	c := *t
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
