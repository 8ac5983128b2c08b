package events

import "github.com/FocuswithJustin/apfingest/core/apf"

// Group is every mention, with its arguments, of the events sharing one type
// key in a document.
type Group struct {
	TypeKey  string
	Mentions []apf.EventMention
}

// Merged is the per-document grouping of events, in order of first
// appearance of each type key.
type Merged []Group

// MergeByType groups the mentions of events by type key. Mention order within
// a group follows record order, then mention order within each record.
func MergeByType(events []apf.EventRecord) Merged {
	var merged Merged
	pos := make(map[string]int)
	for _, ev := range events {
		key := ev.TypeKey()
		i, ok := pos[key]
		if !ok {
			i = len(merged)
			pos[key] = i
			merged = append(merged, Group{TypeKey: key})
		}
		for _, m := range ev.Mentions {
			m.Arguments = append([]apf.Argument(nil), m.Arguments...)
			merged[i].Mentions = append(merged[i].Mentions, m)
		}
	}
	return merged
}

// Lookup returns the group for key.
func (m Merged) Lookup(key string) (Group, bool) {
	for _, g := range m {
		if g.TypeKey == key {
			return g, true
		}
	}
	return Group{}, false
}

// Keys returns the type keys in order.
func (m Merged) Keys() []string {
	keys := make([]string, len(m))
	for i, g := range m {
		keys[i] = g.TypeKey
	}
	return keys
}

// MentionCount returns the total number of mentions across groups.
func (m Merged) MentionCount() int {
	n := 0
	for _, g := range m {
		n += len(g.Mentions)
	}
	return n
}
