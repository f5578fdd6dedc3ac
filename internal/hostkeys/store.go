// Package hostkeys implements host-key verification for outbound SSH
// connections: a persistent trust store backed by embedded SQLite, TOFU
// and strict policies, and client prompting for unknown or changed keys.
package hostkeys

import (
	"errors"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/webssh2/webssh2/internal/gwerrors"
)

// HostKey is one trust decision, keyed by (host, port, algorithm).
// Records are created on user acceptance and never auto-deleted.
type HostKey struct {
	Host      string    `gorm:"primaryKey;size:253"`
	Port      int       `gorm:"primaryKey"`
	Algorithm string    `gorm:"primaryKey;size:64"`
	Key       string    `gorm:"not null"` // base64-encoded public key blob
	AddedAt   time.Time `gorm:"not null"`
	Comment   string
}

// TableName keeps the table name stable across gorm naming strategies.
func (HostKey) TableName() string { return "host_keys" }

// Verdict is the result of a store lookup.
type Verdict int

const (
	// VerdictUnknown means no record exists for (host, port, algorithm).
	VerdictUnknown Verdict = iota
	// VerdictTrusted means the stored key matches the presented key.
	VerdictTrusted
	// VerdictMismatch means a record exists with a different key.
	VerdictMismatch
)

// Store is the server-side host-key trust store.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the SQLite store at path and migrates
// the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindConfig, "hostkey_store_open",
			"open host-key store", err)
	}
	if err := db.AutoMigrate(&HostKey{}); err != nil {
		return nil, gwerrors.Wrap(gwerrors.KindConfig, "hostkey_store_migrate",
			"migrate host-key store", err)
	}
	return &Store{db: db}, nil
}

// Lookup compares the presented key against the stored record.
func (s *Store) Lookup(host string, port int, algorithm, presentedKey string) (Verdict, *HostKey, error) {
	var rec HostKey
	err := s.db.Where("host = ? AND port = ? AND algorithm = ?", host, port, algorithm).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return VerdictUnknown, nil, nil
	}
	if err != nil {
		return VerdictUnknown, nil, gwerrors.Wrap(gwerrors.KindUnknown, "hostkey_lookup",
			"host-key lookup", err)
	}
	if rec.Key == presentedKey {
		return VerdictTrusted, &rec, nil
	}
	return VerdictMismatch, &rec, nil
}

// Insert persists an accepted key, replacing any existing row for the same
// (host, port, algorithm).
func (s *Store) Insert(rec HostKey) error {
	if rec.AddedAt.IsZero() {
		rec.AddedAt = time.Now().UTC()
	}
	err := s.db.Save(&rec).Error
	if err != nil {
		return gwerrors.Wrap(gwerrors.KindUnknown, "hostkey_insert", "host-key insert", err)
	}
	return nil
}

// Count returns the number of stored keys.
func (s *Store) Count() (int64, error) {
	var n int64
	if err := s.db.Model(&HostKey{}).Count(&n).Error; err != nil {
		return 0, gwerrors.Wrap(gwerrors.KindUnknown, "hostkey_count", "host-key count", err)
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
