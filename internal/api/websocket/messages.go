package websocket

import (
	"encoding/json"
	"strconv"
	"time"
)

// Client message types.
const (
	MsgJoin            = "join"
	MsgLeave           = "leave"
	MsgIncrement       = "increment"
	MsgCustomIncrement = "custom_increment"
	MsgPing            = "ping"
)

// Server message types.
const (
	MsgAuctionsInit = "auctions:init"
	MsgUpdate       = "update"
	MsgUpdateError  = "update:error"
	MsgAuctionNew   = "auction:new"
	MsgBidRejected  = "bid:rejected"
	MsgPong         = "pong"
	MsgError        = "error"
)

// ClientMessage is a frame sent by a browser. Value holds the custom bid
// amount and may be a JSON number or string.
type ClientMessage struct {
	Type      string          `json:"type"`
	AuctionID string          `json:"auction_id,omitempty"`
	Bidder    string          `json:"bidder,omitempty"`
	Value     json.RawMessage `json:"value,omitempty"`
}

// customValue returns the raw decimal text of Value.
func (m ClientMessage) customValue() string {
	if len(m.Value) == 0 {
		return ""
	}
	if m.Value[0] == '"' {
		s, err := strconv.Unquote(string(m.Value))
		if err != nil {
			return string(m.Value)
		}
		return s
	}
	return string(m.Value)
}

// ServerMessage is a frame pushed to a browser.
type ServerMessage struct {
	Type      string      `json:"type"`
	AuctionID string      `json:"auction_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Reason    string      `json:"reason,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
