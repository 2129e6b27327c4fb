// Package store implements the persistence layer contracts spec §4.1
// describes: users, listeners, subscriptions, permissions, virtual paths,
// the activity log and flat settings, backed by a single embedded sqlite
// file opened through gorm.
package store

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-pkgz/lcw/v2"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// dummyHash is compared against on unknown-username lookups so that
// verifyPassword takes the same code path (and roughly the same time)
// whether or not the user exists — spec §3/§8's constant-shape failure.
var dummyHash = sha256Hex("filegate-constant-time-placeholder")

// Store is the single entry point for persistent state. Reads may run
// concurrently; writes are serialized through writeMu so callers observe the
// documented failure kinds instead of a raw SQLITE_BUSY.
type Store struct {
	db      *gorm.DB
	writeMu sync.Mutex

	userCache *lcw.LruCache[User]

	activityCh chan ActivityRecord
	activityWg sync.WaitGroup
	closeOnce  sync.Once
	closeCh    chan struct{}

	droppedActivities uint64
	dropMu            sync.Mutex
}

// Open creates (if needed) and opens the sqlite database at path, migrates
// the schema, and starts the background activity writer.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	cache, err := lcw.NewLruCache(lcw.NewOpts[User]().MaxKeys(1024))
	if err != nil {
		return nil, fmt.Errorf("create user cache: %w", err)
	}

	s := &Store{
		db:         db,
		userCache:  cache,
		activityCh: make(chan ActivityRecord, 1024),
		closeCh:    make(chan struct{}),
	}

	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	s.activityWg.Add(1)
	go s.runActivityWriter()

	return s, nil
}

// Close stops the background activity writer and releases the database.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	s.activityWg.Wait()

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// withWrite serializes one mutation against the single-writer discipline.
func (s *Store) withWrite(fn func(tx *gorm.DB) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Transaction(fn)
}

func sha256Hex(cleartext string) string {
	sum := sha256.Sum256([]byte(cleartext))
	return hex.EncodeToString(sum[:])
}

// CreateUser inserts a new user, hashing the cleartext password if password
// auth is requested.
func (s *Store) CreateUser(username, cleartextPassword string, passwordEnabled bool, publicKey string, guiEnabled bool) (*User, error) {
	if username == "" {
		return nil, fmt.Errorf("%w: empty username", ErrInvalid)
	}
	u := &User{
		Username:        username,
		PasswordEnabled: passwordEnabled,
		PublicKey:       publicKey,
		GUIEnabled:      guiEnabled,
		CreatedAt:       time.Now(),
	}
	if passwordEnabled {
		u.PasswordHash = sha256Hex(cleartextPassword)
	}
	err := s.withWrite(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrAlreadyExists
		}
		return tx.Create(u).Error
	})
	if err != nil {
		return nil, err
	}
	s.userCache.Purge()
	return u, nil
}

// UpdateUser mutates an existing user's fields. A nil cleartextPassword
// leaves PasswordHash untouched unless passwordEnabled is false, in which
// case PasswordHash is cleared too.
func (s *Store) UpdateUser(id uint64, username string, cleartextPassword *string, passwordEnabled bool, publicKey string, guiEnabled bool) error {
	err := s.withWrite(func(tx *gorm.DB) error {
		updates := map[string]any{
			"username":         username,
			"password_enabled": passwordEnabled,
			"public_key":       publicKey,
			"gui_enabled":      guiEnabled,
		}
		if !passwordEnabled {
			updates["password_hash"] = ""
		} else if cleartextPassword != nil {
			updates["password_hash"] = sha256Hex(*cleartextPassword)
		}
		res := tx.Model(&User{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err == nil {
		s.userCache.Purge()
	}
	return err
}

// DeleteUser removes a user and cascades to its subscriptions, permissions
// and virtual paths in the same commit.
func (s *Store) DeleteUser(id uint64) error {
	err := s.withWrite(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&Subscription{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&ListenerPermission{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&VirtualPath{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&User{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err == nil {
		s.userCache.Purge()
	}
	return err
}

// GetUser looks up a user by username, going through the LRU cache first —
// this is on the hot path of every SFTP/FTP authentication attempt.
func (s *Store) GetUser(username string) (*User, error) {
	u, err := s.userCache.Get(username, func() (User, error) {
		var row User
		if err := s.db.Where("username = ?", username).First(&row).Error; err != nil {
			if gormIsNotFound(err) {
				return User{}, ErrNotFound
			}
			return User{}, err
		}
		return row, nil
	})
	if err != nil {
		return nil, err
	}
	out := u
	return &out, nil
}

// ListUsers returns every user, ordered by username.
func (s *Store) ListUsers() ([]User, error) {
	var users []User
	if err := s.db.Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// VerifyPassword returns true iff username exists, is password-enabled, and
// the cleartext hashes to the stored value. Non-existent users and hash
// mismatches are indistinguishable: the dummy-hash comparison always runs.
func (s *Store) VerifyPassword(username, cleartext string) bool {
	u, err := s.GetUser(username)
	candidate := sha256Hex(cleartext)
	if err != nil || !u.PasswordEnabled {
		subtle.ConstantTimeCompare([]byte(candidate), []byte(dummyHash))
		return false
	}
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(u.PasswordHash)) == 1
}

// VerifyPublicKey returns true iff username exists and PublicKey is
// non-empty and equal to presented (the transport already verified the
// client owns the corresponding private key).
func (s *Store) VerifyPublicKey(username, presented string) bool {
	u, err := s.GetUser(username)
	if err != nil || u.PublicKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u.PublicKey), []byte(presented)) == 1
}

func gormIsNotFound(err error) bool {
	return err == gorm.ErrRecordNotFound
}
