package store

import "time"

// Protocol identifies the wire protocol a Listener serves.
type Protocol string

// Supported listener protocols.
const (
	ProtocolSFTP Protocol = "SFTP"
	ProtocolFTP  Protocol = "FTP"
)

// User is a local credential-store principal. At most one row exists per
// Username. PasswordHash is the hex-encoded SHA-256 of the cleartext at
// creation/update time; it is never exposed back to callers.
type User struct {
	ID              uint64 `gorm:"primaryKey"`
	Username        string `gorm:"uniqueIndex;not null"`
	PasswordHash    string
	PasswordEnabled bool
	PublicKey       string
	GUIEnabled      bool
	CreatedAt       time.Time
}

// Listener describes one bound network endpoint for one protocol.
type Listener struct {
	ID        uint64 `gorm:"primaryKey"`
	Name      string `gorm:"not null"`
	Protocol  Protocol
	BindingIP string
	Port      int
	Enabled   bool
	CreatedAt time.Time
}

// Subscription attaches a user to a listener, allowing authentication through it.
type Subscription struct {
	UserID     uint64 `gorm:"primaryKey"`
	ListenerID uint64 `gorm:"primaryKey"`
}

// ListenerPermission holds the seven listener-layer capability booleans for a
// (user, listener) pair.
type ListenerPermission struct {
	UserID       uint64 `gorm:"primaryKey"`
	ListenerID   uint64 `gorm:"primaryKey"`
	CanCreate    bool
	CanEdit      bool
	CanAppend    bool
	CanDelete    bool
	CanList      bool
	CanCreateDir bool
	CanRename    bool
}

// VirtualPath maps a posix-style user-facing path to a host local path, with
// its own set of capability booleans. Multiple rows per user are permitted;
// the authorizer picks the longest matching prefix.
type VirtualPath struct {
	ID             uint64 `gorm:"primaryKey"`
	UserID         uint64 `gorm:"index;not null"`
	VirtualPath    string `gorm:"not null"`
	LocalPath      string `gorm:"not null"`
	CanRead        bool
	CanWrite       bool
	CanAppend      bool
	CanDelete      bool
	CanList        bool
	CanCreateDir   bool
	CanRename      bool
	ApplyToSubdirs bool
}

// ActivityRecord is an append-only audit row. ListenerID is nullable to mark
// GUI/system events that aren't tied to a particular listener.
type ActivityRecord struct {
	ID         uint64 `gorm:"primaryKey"`
	ListenerID *uint64
	Username   string
	Action     string
	Path       string
	Success    bool
	Timestamp  time.Time
}

// Setting is a flat key-value row for store-wide settings, read and
// written through GetSetting/SetSetting.
type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// AllModels lists every model migrated by Store.migrate, in dependency order.
func AllModels() []any {
	return []any{
		&User{},
		&Listener{},
		&Subscription{},
		&ListenerPermission{},
		&VirtualPath{},
		&ActivityRecord{},
		&Setting{},
	}
}
