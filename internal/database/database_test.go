package database

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/talentmesh/milestones-api/internal/negotiation"
)

func testDSN(name string) string {
	return fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
}

func TestOpenMigratesSchemaAndRecordsMigrations(t *testing.T) {
	db, err := Open("sqlite", testDSN("database_open"), nil)
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	for _, table := range []string{"negotiation_headers", "milestone_versions", "milestone_items", "contract_participants", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s to exist", table)
		}
	}

	var record migrationRecord
	err = db.Where("name = ?", migrationBackfillTransitionTimestamps).Take(&record).Error
	if err != nil {
		t.Fatalf("expected migration record, got %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		t.Fatalf("migration record must carry an applied timestamp")
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "dsn", nil); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open("sqlite", "", nil); err == nil {
		t.Fatalf("expected error for empty dsn")
	}
}

func TestBackfillSeedsTransitionTimestampFromCreation(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(testDSN("database_backfill")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&negotiation.Header{}, &migrationRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	legacy := negotiation.Header{
		HeaderID:         "header-legacy",
		ContractID:       "contract-legacy",
		State:            negotiation.StateStudentEditing,
		AgreedTotalMinor: 9000,
		LockVersion:      1,
		CreatedAtSeconds: 1750000000,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("failed to seed header: %v", err)
	}

	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("unexpected migration error: %v", err)
	}

	var migrated negotiation.Header
	if err := db.Where("contract_id = ?", "contract-legacy").Take(&migrated).Error; err != nil {
		t.Fatalf("failed to reload header: %v", err)
	}
	if migrated.LastTransitionAtSeconds != 1750000000 {
		t.Fatalf("expected backfilled timestamp 1750000000, got %d", migrated.LastTransitionAtSeconds)
	}

	// A second run sees the record and does nothing.
	if err := applyMigrations(db, nil); err != nil {
		t.Fatalf("re-running migrations must be a no-op: %v", err)
	}
}
