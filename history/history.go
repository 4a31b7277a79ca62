package history

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"lukechampine.com/blake3"
)

// Record is one archived engine operation. The digest binds the canonical
// payload so an archive row can be checked against what the engine applied.
type Record struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Method    string    `gorm:"size:64;index"`
	Actor     string    `gorm:"size:90;index"`
	Asset     string    `gorm:"size:16"`
	Amount    string    `gorm:"size:80"`
	Detail    string    `gorm:"type:text"`
	Digest    string    `gorm:"size:64"`
	CreatedAt time.Time `gorm:"index"`
}

// AutoMigrate performs the schema migrations for the archive.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Record{})
}

// Archive persists an append-only journal of applied engine operations.
type Archive struct {
	db *gorm.DB
}

// New wraps an opened gorm handle and ensures the schema exists.
func New(db *gorm.DB) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("history: database required")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("history: migrate: %w", err)
	}
	return &Archive{db: db}, nil
}

// Append stores one applied operation. Method and actor are required; asset,
// amount and detail are recorded verbatim when present.
func (a *Archive) Append(method, actor, asset, amount, detail string) (*Record, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("history: archive not configured")
	}
	method = strings.TrimSpace(method)
	actor = strings.TrimSpace(actor)
	if method == "" || actor == "" {
		return nil, fmt.Errorf("history: method and actor required")
	}
	record := &Record{
		ID:        uuid.New(),
		Method:    method,
		Actor:     actor,
		Asset:     strings.TrimSpace(asset),
		Amount:    strings.TrimSpace(amount),
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	record.Digest = canonicalDigest(record)
	if err := a.db.Create(record).Error; err != nil {
		return nil, fmt.Errorf("history: append: %w", err)
	}
	return record, nil
}

// List returns the newest records first, capped at limit. A non-empty actor
// filters to that account.
func (a *Archive) List(actor string, limit int) ([]Record, error) {
	if a == nil || a.db == nil {
		return nil, fmt.Errorf("history: archive not configured")
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := a.db.Order("created_at DESC").Limit(limit)
	if trimmed := strings.TrimSpace(actor); trimmed != "" {
		query = query.Where("actor = ?", trimmed)
	}
	var records []Record
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	return records, nil
}

// Verify recomputes the canonical digest of a record.
func Verify(record *Record) bool {
	if record == nil {
		return false
	}
	return canonicalDigest(record) == record.Digest
}

func canonicalDigest(record *Record) string {
	buf := bytes.NewBuffer(nil)
	writeDelimited(buf, []byte(record.Method))
	writeDelimited(buf, []byte(record.Actor))
	writeDelimited(buf, []byte(record.Asset))
	writeDelimited(buf, []byte(record.Amount))
	writeDelimited(buf, []byte(record.Detail))
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func writeDelimited(buf *bytes.Buffer, payload []byte) {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	buf.Write(length[:])
	buf.Write(payload)
}
