package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mechafrog/ptm/server/internal/domain/catalog"
	"github.com/mechafrog/ptm/server/internal/domain/progress"
)

// DefaultKeyPrefix is the storage key prefix of the play-to-mine save.
const DefaultKeyPrefix = "mf_ptm"

// StorageKey derives the versioned key for a catalog revision. Saves made
// against another revision live under another key and are never read.
func StorageKey(prefix string, revision int) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return fmt.Sprintf("%s_v%d", prefix, revision)
}

// SlotKey derives the key for a catalog. The built-in catalog uses the
// plain revision key; any other content also carries its fingerprint, so a
// custom catalog that reuses a revision number never reads, and then
// overwrites, a save made against different upgrades.
func SlotKey(prefix string, cat *catalog.Catalog) string {
	key := StorageKey(prefix, cat.Revision)
	if cat.IsBuiltin() {
		return key
	}
	return key + "_" + cat.Fingerprint()
}

// SaveSlot loads and saves one player's progress under a versioned key.
type SaveSlot struct {
	kv       KV
	cat      *catalog.Catalog
	key      string
	defaults progress.Defaults
}

// NewSaveSlot binds a KV to the catalog's versioned key.
func NewSaveSlot(kv KV, cat *catalog.Catalog, prefix string, defaults progress.Defaults) *SaveSlot {
	return &SaveSlot{
		kv:       kv,
		cat:      cat,
		key:      SlotKey(prefix, cat),
		defaults: defaults,
	}
}

// Key returns the storage key of the slot.
func (s *SaveSlot) Key() string { return s.key }

// Fresh returns a newly initialized state anchored at now.
func (s *SaveSlot) Fresh(now time.Time) progress.State {
	return progress.New(s.defaults, now)
}

// Load restores the saved state, falling back to a fresh state anchored at
// now. It never fails: read errors and malformed fields are reported as
// diagnostics. found is false when no usable snapshot existed.
func (s *SaveSlot) Load(ctx context.Context, now time.Time) (st progress.State, diags Diagnostics, found bool) {
	fresh := s.Fresh(now)

	data, ok, err := s.kv.Get(ctx, s.key)
	if err != nil {
		return fresh, Diagnostics{{Field: "$", Reason: err.Error()}}, false
	}
	if !ok {
		return fresh, nil, false
	}

	st, diags = DecodeSnapshot(data, s.cat, fresh)
	if len(diags) == 1 && diags[0].Field == "$" {
		return st, diags, false
	}
	return st, diags, true
}

// Save writes a full snapshot of st.
func (s *SaveSlot) Save(ctx context.Context, st progress.State) error {
	data, err := EncodeSnapshot(st, s.cat.Revision)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return s.kv.Put(ctx, s.key, data)
}

// Clear removes the stored snapshot.
func (s *SaveSlot) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key)
}
