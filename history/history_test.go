package history

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "history.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	archive, err := New(db)
	if err != nil {
		t.Fatalf("new archive: %v", err)
	}
	return archive
}

func TestAppendAndList(t *testing.T) {
	archive := openTestArchive(t)

	first, err := archive.Append("stable_depositCollateral", "stb1alice", "WETH", "2000000000000000000", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !Verify(first) {
		t.Fatal("digest should verify for fresh record")
	}
	if _, err := archive.Append("stable_mintDsc", "stb1alice", "", "500000000000000000000", ""); err != nil {
		t.Fatalf("append second: %v", err)
	}
	if _, err := archive.Append("stable_depositCollateral", "stb1bob", "WBTC", "1000000000000000000", ""); err != nil {
		t.Fatalf("append third: %v", err)
	}

	all, err := archive.List("", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}

	alice, err := archive.List("stb1alice", 10)
	if err != nil {
		t.Fatalf("list actor: %v", err)
	}
	if len(alice) != 2 {
		t.Fatalf("expected 2 records for actor, got %d", len(alice))
	}
	for _, record := range alice {
		if record.Actor != "stb1alice" {
			t.Fatalf("unexpected actor %s", record.Actor)
		}
	}
}

func TestAppendValidation(t *testing.T) {
	archive := openTestArchive(t)
	if _, err := archive.Append("", "stb1alice", "", "", ""); err == nil {
		t.Fatal("expected rejection of blank method")
	}
	if _, err := archive.Append("stable_mintDsc", "  ", "", "", ""); err == nil {
		t.Fatal("expected rejection of blank actor")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	archive := openTestArchive(t)
	record, err := archive.Append("stable_burnDsc", "stb1alice", "", "100", "")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	record.Amount = "999"
	if Verify(record) {
		t.Fatal("tampered record should fail verification")
	}
}
