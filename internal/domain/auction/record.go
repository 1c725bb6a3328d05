package auction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// timestampLayouts are tried in order by ParseTimestamp. The last one is the
// zone-less UTC form found in older data files.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// DecodeID reads an auction id that may be stored as a JSON string or a JSON
// number. A missing or null id decodes to "".
func DecodeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("auction id %s is neither a string nor a number", raw)
	}
	return n.String(), nil
}

// ParseTimestamp parses an RFC 3339 time, or a zone-less one taken as UTC.
// An empty string is the zero time.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// UnmarshalJSON accepts numeric ids alongside string ids.
func (a *Auction) UnmarshalJSON(data []byte) error {
	type record Auction
	aux := struct {
		*record
		ID json.RawMessage `json:"id"`
	}{record: (*record)(a)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	id, err := DecodeID(aux.ID)
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}
