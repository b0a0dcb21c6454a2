// Package nostrwire holds the NIP-01 wire types and pairing-URI codec
// shared by every component that talks to a relay.
package nostrwire

// Event is a signed Nostr event (NIP-01).
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`

	// RelayURL records which relay delivered this event; not part of the
	// wire format (never marshaled).
	RelayURL string `json:"-"`
}

// Filter is a NIP-01 subscription filter.
type Filter struct {
	IDs     []string `json:"ids,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Kinds   []int    `json:"kinds,omitempty"`
	Since   *int64   `json:"since,omitempty"`
	Until   *int64   `json:"until,omitempty"`
	Limit   int      `json:"limit,omitempty"`
	PTags   []string `json:"#p,omitempty"`
	ETags   []string `json:"#e,omitempty"`
}

// Tag returns the first value of the first tag named key, and whether one
// was found.
func (e *Event) Tag(key string) (string, bool) {
	for _, t := range e.Tags {
		if len(t) >= 2 && t[0] == key {
			return t[1], true
		}
	}
	return "", false
}

// ParseEventFromInterface converts a map[string]interface{} (as produced by
// decoding a raw `["EVENT", <sub>, {...}]` relay frame into `interface{}`)
// into an Event, without a JSON marshal/unmarshal round trip.
func ParseEventFromInterface(data interface{}) (Event, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return Event{}, false
	}

	var evt Event
	if id, ok := m["id"].(string); ok {
		evt.ID = id
	}
	if pk, ok := m["pubkey"].(string); ok {
		evt.PubKey = pk
	}
	if createdAt, ok := m["created_at"].(float64); ok {
		evt.CreatedAt = int64(createdAt)
	}
	if kind, ok := m["kind"].(float64); ok {
		evt.Kind = int(kind)
	}
	if content, ok := m["content"].(string); ok {
		evt.Content = content
	}
	if sig, ok := m["sig"].(string); ok {
		evt.Sig = sig
	}
	if rawTags, ok := m["tags"].([]interface{}); ok {
		evt.Tags = make([][]string, 0, len(rawTags))
		for _, rt := range rawTags {
			rawTag, ok := rt.([]interface{})
			if !ok {
				continue
			}
			tag := make([]string, 0, len(rawTag))
			for _, v := range rawTag {
				s, ok := v.(string)
				if !ok {
					continue
				}
				tag = append(tag, s)
			}
			evt.Tags = append(evt.Tags, tag)
		}
	}

	if evt.ID == "" || evt.PubKey == "" {
		return Event{}, false
	}
	return evt, true
}
