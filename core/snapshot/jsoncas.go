package snapshot

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	sofaID     = 1
	metadataID = 2
	viewName   = "_InitialView"
)

// casDocument is the annotation tool's CAS JSON layout: feature structures
// referenced by id live in _referenced_fss, and each view lists the members
// of every layer either by id or inline.
type casDocument struct {
	Views      map[string]map[string][]any `json:"_views"`
	Referenced map[string]map[string]any   `json:"_referenced_fss"`
}

// DocumentUUID returns the deterministic id of a snapshot.
func DocumentUUID(docID, typeKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(docID+"/"+typeKey)).String()
}

// LayerName returns the short name a layer type is listed under in a view.
func LayerName(typeName string) string {
	if i := strings.LastIndex(typeName, "."); i >= 0 {
		return typeName[i+1:]
	}
	return typeName
}

// Marshal serializes a snapshot to CAS JSON.
func Marshal(s *Snapshot) ([]byte, error) {
	tmpl := s.Template
	if tmpl == nil {
		tmpl = DefaultTemplate()
	}

	doc := casDocument{
		Views:      map[string]map[string][]any{viewName: {}},
		Referenced: map[string]map[string]any{},
	}
	view := doc.Views[viewName]
	ref := func(id int, fs map[string]any) {
		doc.Referenced[strconv.Itoa(id)] = fs
	}

	ref(sofaID, map[string]any{
		"_type":      "Sofa",
		"sofaNum":    1,
		"sofaID":     viewName,
		"mimeType":   s.MimeType,
		"sofaString": s.Text,
	})

	meta := map[string]any{
		"_type":         LayerName(tmpl.MetadataType),
		"sofa":          sofaID,
		"begin":         0,
		"end":           utf8.RuneCountInString(s.Text),
		"language":      tmpl.Language,
		"documentTitle": s.DocumentID,
		"documentId":    DocumentUUID(s.DocumentID, s.EventType),
		"eventType":     s.EventType,
	}
	for k, v := range tmpl.Metadata {
		if _, taken := meta[k]; !taken {
			meta[k] = v
		}
	}
	ref(metadataID, meta)
	view[LayerName(tmpl.MetadataType)] = []any{metadataID}

	trigger := LayerName(tmpl.TriggerLayer)
	byID := make(map[int]Span, len(s.Triggers)+len(s.Arguments))
	for _, sp := range append(append([]Span{}, s.Triggers...), s.Arguments...) {
		byID[sp.ID] = sp
		ref(sp.ID, map[string]any{
			"_type":            trigger,
			"sofa":             sofaID,
			"begin":            sp.Begin,
			"end":              sp.End,
			"negative_example": sp.NegativeExample,
		})
		view[trigger] = append(view[trigger], sp.ID)
	}

	// A relation is anchored on its dependent, the trigger span.
	relation := LayerName(tmpl.RelationLayer)
	for _, rel := range s.Relations {
		dep := byID[rel.Dependent]
		view[relation] = append(view[relation], map[string]any{
			"sofa":          sofaID,
			"begin":         dep.Begin,
			"end":           dep.End,
			"Governor":      rel.Governor,
			"Dependent":     rel.Dependent,
			"relation_type": rel.RelationType,
		})
	}

	entity := LayerName(tmpl.EntityLayer)
	for _, sp := range s.Entities {
		view[entity] = append(view[entity], map[string]any{
			"sofa":        sofaID,
			"begin":       sp.Begin,
			"end":         sp.End,
			"entity_type": sp.Label,
		})
	}

	token := LayerName(tmpl.TokenLayer)
	for _, sp := range s.Tokens {
		view[token] = append(view[token], map[string]any{
			"sofa":  sofaID,
			"begin": sp.Begin,
			"end":   sp.End,
			"order": 0,
		})
	}

	return json.MarshalIndent(doc, "", "  ")
}
