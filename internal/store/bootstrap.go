package store

import (
	"log"
	"path/filepath"
)

// DefaultAdminUsername and DefaultAdminPassword are the documented bootstrap
// credentials (spec §6) preserved exactly for compatibility with existing
// installs, despite being weak — see WarnIfDefaultCredentialActive's
// WEAK_DEFAULT_CREDENTIAL check.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "admin123"
)

// Bootstrap populates an empty database with the default admin user, both
// default listeners, subscriptions, full listener permissions and a
// catch-all virtual path rooted at dataDir, exactly as spec §6 describes.
// It is a no-op if any user already exists.
func (s *Store) Bootstrap(dataDir string) error {
	users, err := s.ListUsers()
	if err != nil {
		return err
	}
	if len(users) > 0 {
		return nil
	}

	admin, err := s.CreateUser(DefaultAdminUsername, DefaultAdminPassword, true, "", true)
	if err != nil {
		return err
	}

	sftpListener, err := s.CreateListener("Default SFTP", ProtocolSFTP, "0.0.0.0", 22, true)
	if err != nil {
		return err
	}
	ftpListener, err := s.CreateListener("Default FTP", ProtocolFTP, "0.0.0.0", 21, true)
	if err != nil {
		return err
	}

	for _, l := range []*Listener{sftpListener, ftpListener} {
		if err := s.Subscribe(admin.ID, l.ID); err != nil {
			return err
		}
		if err := s.SetListenerPermission(ListenerPermission{
			UserID: admin.ID, ListenerID: l.ID,
			CanCreate: true, CanEdit: true, CanAppend: true, CanDelete: true,
			CanList: true, CanCreateDir: true, CanRename: true,
		}); err != nil {
			return err
		}
	}

	root := filepath.ToSlash(dataDir)
	if _, err := s.CreateVirtualPath(VirtualPath{
		UserID:         admin.ID,
		VirtualPath:    "/",
		LocalPath:      root,
		CanRead:        true,
		CanWrite:       true,
		CanAppend:      true,
		CanDelete:      true,
		CanList:        true,
		CanCreateDir:   true,
		CanRename:      true,
		ApplyToSubdirs: true,
	}); err != nil {
		return err
	}

	log.Printf("[INFO] bootstrapped default admin user and listeners on empty database")
	return nil
}

// WarnIfDefaultCredentialActive logs and records a WEAK_DEFAULT_CREDENTIAL
// activity on every startup where the default admin account still matches
// its documented bootstrap password, per Design Notes — preserved exactly,
// unthrottled, since that is the documented behavior.
func (s *Store) WarnIfDefaultCredentialActive() {
	if !s.VerifyPassword(DefaultAdminUsername, DefaultAdminPassword) {
		return
	}

	log.Printf("[WARN] default admin credentials are still active; change the 'admin' password")
	s.LogActivity(ActivityRecord{
		Username: DefaultAdminUsername,
		Action:   "WEAK_DEFAULT_CREDENTIAL",
		Success:  true,
	})
}
