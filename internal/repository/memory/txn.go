package memory

import (
	"github.com/google/uuid"

	"github.com/nkiryanov/parcelguard/internal/models"
)

// change is the latest version of a row written by a transaction
type change struct {
	token   models.VerificationToken
	created bool // row does not exist in the table yet
	deleted bool
}

// txn reads through its own changes, then the enclosing transactions, then the table
type txn struct {
	table   *table
	parent  *txn
	changes map[uuid.UUID]change
}

func newTxn(t *table, parent *txn) *txn {
	return &txn{table: t, parent: parent, changes: make(map[uuid.UUID]change)}
}

// Read only view of the committed state
func readTxn(t *table) *txn {
	return &txn{table: t}
}

func (tx *txn) lookup(id uuid.UUID) (change, bool) {
	for cur := tx; cur != nil; cur = cur.parent {
		if c, ok := cur.changes[id]; ok {
			return c, true
		}
	}
	return change{}, false
}

func (tx *txn) get(id uuid.UUID) (models.VerificationToken, bool) {
	if c, ok := tx.lookup(id); ok {
		return c.token, !c.deleted
	}
	return tx.table.get(id)
}

func (tx *txn) getByToken(token string) (models.VerificationToken, bool) {
	for cur := tx; cur != nil; cur = cur.parent {
		for id, c := range cur.changes {
			if c.created && c.token.Token == token {
				return tx.get(id)
			}
		}
	}

	id, ok := tx.table.idByToken(token)
	if !ok {
		return models.VerificationToken{}, false
	}
	return tx.get(id)
}

// rows returns current versions of committed rows 'ids' and rows created by
// the transaction, keeping those that match
func (tx *txn) rows(ids []uuid.UUID, match func(models.VerificationToken) bool) []models.VerificationToken {
	seen := make(idSet, len(ids))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for cur := tx; cur != nil; cur = cur.parent {
		for id, c := range cur.changes {
			if c.created {
				seen[id] = struct{}{}
			}
		}
	}

	var res []models.VerificationToken
	for id := range seen {
		if t, ok := tx.get(id); ok && match(t) {
			res = append(res, t)
		}
	}
	return res
}

func (tx *txn) parcelRows(parcelID uuid.UUID) []models.VerificationToken {
	return tx.rows(tx.table.parcelIDs(parcelID), func(t models.VerificationToken) bool {
		return t.ParcelID == parcelID
	})
}

func (tx *txn) pickupRows(pickupID uuid.UUID) []models.VerificationToken {
	return tx.rows(tx.table.pickupIDs(pickupID), func(t models.VerificationToken) bool {
		return t.PickupID != nil && *t.PickupID == pickupID
	})
}

func (tx *txn) put(t models.VerificationToken, created bool) {
	if c, ok := tx.lookup(t.ID); ok && c.created {
		created = true
	}
	tx.changes[t.ID] = change{token: t, created: created}
}

func (tx *txn) remove(t models.VerificationToken) {
	c, _ := tx.lookup(t.ID)
	tx.changes[t.ID] = change{token: t, created: c.created, deleted: true}
}

// merge moves changes of the finished savepoint into tx
func (tx *txn) merge(child *txn) {
	for id, c := range child.changes {
		tx.changes[id] = c
	}
}
