package memory

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/models"
)

type idSet map[uuid.UUID]struct{}

// table is the committed state
type table struct {
	mu sync.RWMutex

	rows      map[uuid.UUID]models.VerificationToken
	byToken   map[string]uuid.UUID
	byParcel  map[uuid.UUID]idSet
	byPickup  map[uuid.UUID]idSet
	temporary idSet
}

func newTable() *table {
	return &table{
		rows:      make(map[uuid.UUID]models.VerificationToken),
		byToken:   make(map[string]uuid.UUID),
		byParcel:  make(map[uuid.UUID]idSet),
		byPickup:  make(map[uuid.UUID]idSet),
		temporary: make(idSet),
	}
}

func (t *table) get(id uuid.UUID) (models.VerificationToken, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	row, ok := t.rows[id]
	return row, ok
}

func (t *table) idByToken(token string) (uuid.UUID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	id, ok := t.byToken[token]
	return id, ok
}

func (t *table) parcelIDs(parcelID uuid.UUID) []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return keys(t.byParcel[parcelID])
}

func (t *table) pickupIDs(pickupID uuid.UUID) []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return keys(t.byPickup[pickupID])
}

func (t *table) temporaryIDs() []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return keys(t.temporary)
}

// apply writes committed transaction changes.
// Update of a row deleted by the sweep meanwhile is dropped.
func (t *table) apply(changes map[uuid.UUID]change) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, c := range changes {
		_, exists := t.rows[id]

		switch {
		case c.deleted:
			t.delete(id)
		case c.created:
			t.insert(c.token)
		case exists:
			t.rows[id] = c.token
		}
	}
}

// deleteExpired deletes rows of 'ids' that are temporary and expired before the time
func (t *table) deleteExpired(ids []uuid.UUID, before time.Time) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var count int64
	for _, id := range ids {
		row, ok := t.rows[id]
		if ok && expiredTemporary(row, before) {
			t.delete(id)
			count++
		}
	}
	return count
}

func (t *table) insert(row models.VerificationToken) {
	t.rows[row.ID] = row
	t.byToken[row.Token] = row.ID
	add(t.byParcel, row.ParcelID, row.ID)
	if row.PickupID != nil {
		add(t.byPickup, *row.PickupID, row.ID)
	}
	if row.Type == models.TokenTypeTemporary {
		t.temporary[row.ID] = struct{}{}
	}
}

func (t *table) delete(id uuid.UUID) {
	row, ok := t.rows[id]
	if !ok {
		return
	}

	delete(t.rows, id)
	delete(t.byToken, row.Token)
	remove(t.byParcel, row.ParcelID, id)
	if row.PickupID != nil {
		remove(t.byPickup, *row.PickupID, id)
	}
	delete(t.temporary, id)
}

func expiredTemporary(row models.VerificationToken, before time.Time) bool {
	return row.Type == models.TokenTypeTemporary && row.ExpiresAt != nil && row.ExpiresAt.Before(before)
}

func add(index map[uuid.UUID]idSet, key uuid.UUID, id uuid.UUID) {
	set, ok := index[key]
	if !ok {
		set = make(idSet)
		index[key] = set
	}
	set[id] = struct{}{}
}

func remove(index map[uuid.UUID]idSet, key uuid.UUID, id uuid.UUID) {
	set := index[key]
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func keys(set idSet) []uuid.UUID {
	return slices.Collect(maps.Keys(set))
}
