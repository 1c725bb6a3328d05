package persistence

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
	"github.com/davidleathers/live-auction-backend/internal/domain/user"
)

// productRecord is the auction layout written by the Node service that owned
// auctions.json before this engine.
type productRecord struct {
	ID            json.RawMessage `json:"id"`
	Info          string          `json:"info"`
	Value         decimal.Decimal `json:"value"`
	Bit           decimal.Decimal `json:"bit"`
	Max           decimal.Decimal `json:"max"`
	Type          string          `json:"type"`
	Owner         string          `json:"aunction_owner"`
	Description   string          `json:"description"`
	Category      string          `json:"category"`
	StartedAt     string          `json:"startedAt"`
	EndAt         string          `json:"endAt"`
	HighestBidder string          `json:"highestBidder"`
	CurrentEmail  []string        `json:"CurrentEmail"`
	UserClick     int64           `json:"UserClick"`
}

var (
	auctionKeys = jsonKeys(auction.Auction{})
	productKeys = jsonKeys(productRecord{})
)

// jsonKeys lists the lower-cased JSON names of v's fields. encoding/json
// matches object keys case-insensitively, so lookups do the same.
func jsonKeys(v any) map[string]bool {
	t := reflect.TypeOf(v)
	keys := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[strings.ToLower(name)] = true
		}
	}
	return keys
}

func fieldKey(fields map[string]json.RawMessage, key string) (string, bool) {
	if _, ok := fields[key]; ok {
		return key, true
	}
	for k := range fields {
		if strings.EqualFold(k, key) {
			return k, true
		}
	}
	return key, false
}

// isProductRecord tells the Node layout apart from the engine's own.
func isProductRecord(fields map[string]json.RawMessage) bool {
	if _, ok := fieldKey(fields, "current_price"); ok {
		return false
	}
	_, owner := fieldKey(fields, "aunction_owner")
	_, value := fieldKey(fields, "value")
	return owner || value
}

// decodeAuction reads one stored auction in either layout. Fields it does not
// understand are returned so they can be written back untouched.
func decodeAuction(raw json.RawMessage) (auction.Auction, map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return auction.Auction{}, nil, err
	}

	var (
		a     auction.Auction
		known map[string]bool
		err   error
	)
	if isProductRecord(fields) {
		a, err = decodeProduct(raw)
		known = productKeys
	} else {
		err = json.Unmarshal(raw, &a)
		known = auctionKeys
	}
	if err != nil {
		return auction.Auction{}, nil, err
	}

	var extra map[string]json.RawMessage
	for k, v := range fields {
		if known[strings.ToLower(k)] {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[k] = v
	}
	return a, extra, nil
}

func decodeProduct(raw json.RawMessage) (auction.Auction, error) {
	var p productRecord
	if err := json.Unmarshal(raw, &p); err != nil {
		return auction.Auction{}, err
	}
	id, err := auction.DecodeID(p.ID)
	if err != nil {
		return auction.Auction{}, err
	}

	a := auction.Auction{
		ID:            id,
		Title:         p.Info,
		Description:   p.Description,
		Category:      p.Category,
		CurrentPrice:  p.Value,
		Increment:     p.Bit,
		PriceCap:      p.Max,
		Owner:         p.Owner,
		HighestBidder: p.HighestBidder,
		Participants:  p.CurrentEmail,
		BidCount:      p.UserClick,
		Version:       1,
	}
	if strings.EqualFold(p.Type, "success") {
		a.Status = auction.StatusFinalized
	}

	if a.StartedAt, err = auction.ParseTimestamp(p.StartedAt); err != nil {
		return auction.Auction{}, fmt.Errorf("startedAt: %w", err)
	}
	end, err := auction.ParseTimestamp(p.EndAt)
	if err != nil {
		return auction.Auction{}, fmt.Errorf("endAt: %w", err)
	}
	if !end.IsZero() {
		a.EndsAt = &end
	}
	return a, nil
}

// encodeAuction writes a in the engine layout and carries over extra fields
// kept from the stored record.
func encodeAuction(a auction.Auction, extra map[string]json.RawMessage) (json.RawMessage, error) {
	data, err := json.Marshal(a)
	if err != nil || len(extra) == 0 {
		return data, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, taken := fieldKey(fields, k); !taken {
			fields[k] = v
		}
	}
	return json.Marshal(fields)
}

// readTable decodes an auction file holding either an object keyed by id or
// an array of records.
func readTable(data []byte) (map[string]json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if data[0] != '[' {
		var table map[string]json.RawMessage
		err := json.Unmarshal(data, &table)
		return table, err
	}

	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	table := make(map[string]json.RawMessage, len(list))
	for i, raw := range list {
		var head struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		id, err := auction.DecodeID(head.ID)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if id == "" {
			id = strconv.Itoa(i)
		}
		table[id] = raw
	}
	return table, nil
}

// userRecord is one entry of users.json. The account system owns the record;
// only the score and the current wins are ever rewritten, every other field
// is written back exactly as read.
type userRecord struct {
	user.User
	fields  map[string]json.RawMessage
	changed bool
}

func (r *userRecord) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &r.fields); err != nil {
		return err
	}
	return json.Unmarshal(data, &r.User)
}

func (r *userRecord) MarshalJSON() ([]byte, error) {
	if !r.changed {
		return json.Marshal(r.fields)
	}

	out := make(map[string]json.RawMessage, len(r.fields)+2)
	for k, v := range r.fields {
		out[k] = v
	}

	scoreKey, _ := fieldKey(out, "Score")
	score := map[string]json.RawMessage{}
	if raw, ok := out[scoreKey]; ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		if err := json.Unmarshal(raw, &score); err != nil {
			return nil, fmt.Errorf("score of %s: %w", r.Email, err)
		}
	}
	if err := setField(score, "Win", r.Score.Win); err != nil {
		return nil, err
	}
	if err := setField(score, "Lose", r.Score.Lose); err != nil {
		return nil, err
	}
	if err := setField(out, "Score", score); err != nil {
		return nil, err
	}

	wins := r.CurrentWins
	if wins == nil {
		wins = []user.WinRecord{}
	}
	if err := setField(out, "CurrentWin", wins); err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

// setField stores v under key, reusing the spelling already present in the
// record.
func setField(fields map[string]json.RawMessage, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	key, _ = fieldKey(fields, key)
	fields[key] = data
	return nil
}
