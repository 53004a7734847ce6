package negotiation

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustContractID(t *testing.T, value string) ContractID {
	t.Helper()
	id, err := NewContractID(value)
	if err != nil {
		t.Fatalf("unexpected contract id error: %v", err)
	}
	return id
}

func mustPartyID(t *testing.T, value string) PartyID {
	t.Helper()
	id, err := NewPartyID(value)
	if err != nil {
		t.Fatalf("unexpected party id error: %v", err)
	}
	return id
}

func mustVersionID(t *testing.T, value string) VersionID {
	t.Helper()
	id, err := NewVersionID(value)
	if err != nil {
		t.Fatalf("unexpected version id error: %v", err)
	}
	return id
}

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type sequenceIDGenerator struct {
	prefix string
	next   int
}

func (g *sequenceIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%d", g.prefix, g.next), nil
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:milestones_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Header{}, &Version{}, &Item{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, ids IDProvider) (*Store, *gorm.DB) {
	t.Helper()

	db := newTestDatabase(t)
	clock := func() time.Time { return time.Unix(1760000600, 0).UTC() }

	store, err := NewStore(StoreConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: ids,
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

func milestone(clientID, title string, amountMinor int64) Milestone {
	return Milestone{ClientID: clientID, Title: title, AmountMinor: amountMinor}
}
