// Package persistence stores auctions and user scores, either as flat JSON
// files or in Postgres.
package persistence

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/davidleathers/live-auction-backend/internal/domain/auction"
)

const (
	AuctionsFile = "auctions.json"
	UsersFile    = "users.json"
)

// FileGateway keeps the auction table in one JSON object keyed by auction id.
// It also reads the array layout of older data files. Fields of a stored
// record that the engine does not model are kept and written back.
type FileGateway struct {
	path   string
	logger *zap.Logger

	mu     sync.Mutex
	extras map[string]map[string]json.RawMessage
}

func NewFileGateway(dir string, logger *zap.Logger) (*FileGateway, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileGateway{
		path:   filepath.Join(dir, AuctionsFile),
		logger: logger,
		extras: make(map[string]map[string]json.RawMessage),
	}, nil
}

// LoadAll returns the stored auctions sorted by id. A missing file is an
// empty table.
func (g *FileGateway) LoadAll(_ context.Context) ([]auction.Auction, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	data, err := readFile(g.path)
	if err != nil {
		return nil, err
	}
	table, err := readTable(data)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", g.path, err)
	}

	out := make([]auction.Auction, 0, len(table))
	for key, raw := range table {
		a, extra, err := decodeAuction(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding auction %s in %s: %w", key, g.path, err)
		}
		if a.ID == "" {
			a.ID = key
		}
		a.Normalize()
		if len(extra) > 0 {
			g.extras[a.ID] = extra
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveAll rewrites the file with auctions.
func (g *FileGateway) SaveAll(_ context.Context, auctions []auction.Auction) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	table := make(map[string]json.RawMessage, len(auctions))
	for _, a := range auctions {
		raw, err := encodeAuction(a, g.extras[a.ID])
		if err != nil {
			return fmt.Errorf("encoding auction %s: %w", a.ID, err)
		}
		table[a.ID] = raw
	}

	if err := writeJSON(g.path, table); err != nil {
		return err
	}
	g.logger.Debug("auctions saved", zap.String("path", g.path), zap.Int("count", len(auctions)))
	return nil
}

// FileScoreStore updates the score fields of user records kept in a JSON
// array. Users are created elsewhere; identities without a record are
// skipped.
type FileScoreStore struct {
	path string
	mu   sync.Mutex
}

func NewFileScoreStore(dir string) (*FileScoreStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &FileScoreStore{path: filepath.Join(dir, UsersFile)}, nil
}

// update loads the users, applies fn and writes them back when fn reports a
// change. fn marks the records it modified.
func (s *FileScoreStore) update(fn func(users map[string]*userRecord) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []*userRecord
	if err := readJSON(s.path, &list); err != nil {
		return err
	}

	byEmail := make(map[string]*userRecord, len(list))
	for _, u := range list {
		if u == nil {
			continue
		}
		if id := auction.NormalizeIdentity(u.Email); id != "" {
			byEmail[id] = u
		}
	}

	if !fn(byEmail) {
		return nil
	}
	return writeJSON(s.path, list)
}

func (s *FileScoreStore) IncrementWin(_ context.Context, identity string) (bool, error) {
	found := false
	err := s.update(func(users map[string]*userRecord) bool {
		u, ok := users[auction.NormalizeIdentity(identity)]
		if ok {
			u.Score.Win++
			u.changed = true
			found = true
		}
		return ok
	})
	return found, err
}

func (s *FileScoreStore) AddCurrentWin(_ context.Context, identity, auctionID string, at time.Time) (bool, error) {
	added := false
	err := s.update(func(users map[string]*userRecord) bool {
		u, ok := users[auction.NormalizeIdentity(identity)]
		if !ok {
			return false
		}
		added = u.AddCurrentWin(auctionID, at.UTC())
		u.changed = u.changed || added
		return added
	})
	return added, err
}

func (s *FileScoreStore) IncrementLose(_ context.Context, identities []string, exclude []string) (int, error) {
	skip := identitySet(exclude)
	updated := 0
	err := s.update(func(users map[string]*userRecord) bool {
		for id := range identitySet(identities) {
			if skip[id] {
				continue
			}
			if u, ok := users[id]; ok {
				u.Score.Lose++
				u.changed = true
				updated++
			}
		}
		return updated > 0
	})
	return updated, err
}

func identitySet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id = auction.NormalizeIdentity(id); id != "" {
			set[id] = true
		}
	}
	return set
}

// readFile returns nil for a missing file.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func readJSON(path string, v any) error {
	data, err := readFile(path)
	if err != nil || len(data) == 0 {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// writeJSON replaces path atomically through a temp file in the same
// directory.
func writeJSON(path string, v any) (err error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	err = multierr.Append(err, tmp.Close())
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
