package apf

import (
	"testing"

	"github.com/FocuswithJustin/apfingest/core/errors"
)

func TestTypeKey(t *testing.T) {
	if got := TypeKey("Movement", "Transport"); got != "Movement.Transport" {
		t.Errorf("Expected Movement.Transport, got %s", got)
	}
	if got := TypeKey("conflict", "Attack"); got != "conflict.Attack" {
		t.Errorf("Case should be preserved, got %s", got)
	}
}

func TestDocIDFromEventID(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"DOC1-EV1", "DOC1"},
		{"CNN_CF_20030303.1900.00-EV12", "CNN_CF_20030303.1900.00"},
		{"AFP_ENG-2003-EV3", "AFP_ENG-2003"},
		{"DOC1-E1", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := DocIDFromEventID(tt.id); got != tt.want {
			t.Errorf("DocIDFromEventID(%q) = %q, want %q", tt.id, got, tt.want)
		}
	}
}

func TestMentionLen(t *testing.T) {
	if got := (Mention{Start: 10, End: 14}).Len(); got != 5 {
		t.Errorf("Expected 5, got %d", got)
	}
}

func TestReadHeader(t *testing.T) {
	h, err := ReadHeader([]byte(transportAPF))
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	if h.DocID != "DOC1" {
		t.Errorf("Expected DocID DOC1, got %s", h.DocID)
	}
	if h.URI != "DOC1.sgm" || h.Source != "newswire" || h.Type != "text" {
		t.Errorf("Unexpected header %+v", h)
	}
}

func TestReadHeader_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not xml", `<source_file><document DOCID="x"></source_file>`},
		{"no docid", `<source_file URI="a.sgm"><document></document></source_file>`},
		{"no document", `<source_file URI="a.sgm"></source_file>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadHeader([]byte(tt.data))
			if !errors.Is(err, errors.ErrParse) {
				t.Errorf("Expected ErrParse, got %v", err)
			}
		})
	}
}
