package user

import (
	"encoding/json"
	"slices"
	"strconv"
	"time"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
)

// winDateLayout is how win dates are written into user records.
const winDateLayout = "2006-01-02T15:04:05"

// Score tracks auction outcomes for one user.
type Score struct {
	Win  int `json:"Win"`
	Lose int `json:"Lose"`
}

// WinRecord marks an auction the user has won and still has to settle.
type WinRecord struct {
	AuctionID string
	WonAt     time.Time
}

type winJSON struct {
	Win  json.RawMessage `json:"win"`
	Date string          `json:"date"`
}

// MarshalJSON writes {"win": <id>, "date": <UTC time>}. Numeric auction ids
// are written as numbers.
func (w WinRecord) MarshalJSON() ([]byte, error) {
	id, err := json.Marshal(w.AuctionID)
	if err != nil {
		return nil, err
	}
	if n, err := strconv.ParseInt(w.AuctionID, 10, 64); err == nil && strconv.FormatInt(n, 10) == w.AuctionID {
		id = []byte(w.AuctionID)
	}

	date := ""
	if !w.WonAt.IsZero() {
		date = w.WonAt.UTC().Format(winDateLayout)
	}
	return json.Marshal(winJSON{Win: id, Date: date})
}

func (w *WinRecord) UnmarshalJSON(data []byte) error {
	var raw winJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, err := auction.DecodeID(raw.Win)
	if err != nil {
		return err
	}
	at, err := auction.ParseTimestamp(raw.Date)
	if err != nil {
		return err
	}
	w.AuctionID, w.WonAt = id, at
	return nil
}

// User is the slice of the user record the auction engine reads and writes.
// The record itself is owned by the account system and carries more fields.
type User struct {
	Email       string      `json:"Email"`
	Score       Score       `json:"Score"`
	CurrentWins []WinRecord `json:"CurrentWin"`
}

// AddCurrentWin appends a win record unless one already exists for the
// auction. It reports whether a record was added.
func (u *User) AddCurrentWin(auctionID string, at time.Time) bool {
	if slices.ContainsFunc(u.CurrentWins, func(w WinRecord) bool { return w.AuctionID == auctionID }) {
		return false
	}
	u.CurrentWins = append(u.CurrentWins, WinRecord{AuctionID: auctionID, WonAt: at})
	return true
}
