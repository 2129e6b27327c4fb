package ftpd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/filegate/filegate/internal/authz"
	"github.com/filegate/filegate/internal/session"
	"github.com/filegate/filegate/internal/store"
)

// FS is the afero.Fs adapter bound to one authenticated principal on one
// FTP listener. Every method consults Authorizer before touching the
// host filesystem, mapping FTP's get/list/write/read/delete/mkdir/rename
// onto the same op kinds §4.2 defines for SFTP.
type FS struct {
	driver    *Driver
	principal authz.Principal
	session   *session.Session
}

func (f *FS) logActivity(action, virtualPath string, success bool) {
	f.driver.Store.LogActivity(store.ActivityRecord{
		ListenerID: &f.driver.Listener.ID,
		Username:   f.principal.Username,
		Action:     action,
		Path:       virtualPath,
		Success:    success,
	})
}

func (f *FS) authorize(op authz.Operation, name string) (string, string, error) {
	f.session.ResetIdleTimer()
	vpath := normalizeVirtualPath(name)
	local, err := f.driver.Authorizer.Decide(f.principal, f.driver.Listener.ID, op, vpath)
	if err != nil {
		if aerr, ok := authz.AsError(err); ok {
			f.logActivity(op.String()+"_DENIED", vpath, false)
			return "", vpath, toFTPError(aerr.Kind)
		}
		f.logActivity(op.String()+"_DENIED", vpath, false)
		return "", vpath, err
	}
	return local, vpath, nil
}

// normalizeVirtualPath converts FTP-submitted Windows-style paths to
// posix before authorization, per Design Notes' resolved Open Question.
// It only fixes up separators and the leading slash — it must NOT
// collapse ".." components, since doing so before the Authorizer sees
// the path would silently re-root a traversal attempt instead of
// letting Decide's containment check deny it as an escape (spec §4.2
// step 6).
func normalizeVirtualPath(p string) string {
	posix := strings.ReplaceAll(p, "\\", "/")
	if posix == "" {
		return "/"
	}
	if !strings.HasPrefix(posix, "/") {
		posix = "/" + posix
	}
	return posix
}

func toFTPError(kind authz.Kind) error {
	return fmt.Errorf("ftpd: %s", kind)
}

// Create implements afero.Fs: open for writing, creating/truncating.
func (f *FS) Create(name string) (afero.File, error) {
	local, vpath, err := f.authorize(authz.OpenWrite, name)
	if err != nil {
		return nil, err
	}
	osFile, err := os.OpenFile(local, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		f.logActivity("OPEN_FAILED", vpath, false)
		return nil, err
	}
	f.logActivity("OPEN", vpath, true)
	return &file{File: osFile, fs: f, vpath: vpath}, nil
}

// Mkdir implements afero.Fs.
func (f *FS) Mkdir(name string, perm os.FileMode) error {
	local, vpath, err := f.authorize(authz.MakeDir, name)
	if err != nil {
		return err
	}
	if err := os.Mkdir(local, perm); err != nil {
		f.logActivity("MKDIR_FAILED", vpath, false)
		return err
	}
	f.logActivity("MKDIR", vpath, true)
	return nil
}

// MkdirAll implements afero.Fs by authorizing and creating one level at
// a time, so every intermediate directory is itself authorized.
func (f *FS) MkdirAll(p string, perm os.FileMode) error {
	clean := normalizeVirtualPath(p)
	if clean == "/" {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(clean, "/"), "/")
	cur := ""
	for _, part := range parts {
		cur += "/" + part
		if err := f.Mkdir(cur, perm); err != nil && !os.IsExist(err) {
			return err
		}
	}
	return nil
}

// Open implements afero.Fs: read-only open.
func (f *FS) Open(name string) (afero.File, error) {
	local, vpath, err := f.authorize(authz.OpenRead, name)
	if err != nil {
		return nil, err
	}
	osFile, err := os.Open(local)
	if err != nil {
		f.logActivity("OPEN_FAILED", vpath, false)
		return nil, err
	}
	f.logActivity("OPEN", vpath, true)
	return &file{File: osFile, fs: f, vpath: vpath}, nil
}

// OpenFile implements afero.Fs, distinguishing OpenWrite/OpenAppend/
// OpenRead from the flags the FTP command implies.
func (f *FS) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	op := authz.OpenRead
	switch {
	case flag&os.O_APPEND != 0:
		op = authz.OpenAppend
	case flag&(os.O_WRONLY|os.O_RDWR) != 0:
		op = authz.OpenWrite
	}

	local, vpath, err := f.authorize(op, name)
	if err != nil {
		return nil, err
	}
	osFile, err := os.OpenFile(local, flag, perm)
	if err != nil {
		f.logActivity("OPEN_FAILED", vpath, false)
		return nil, err
	}
	f.logActivity("OPEN", vpath, true)
	return &file{File: osFile, fs: f, vpath: vpath}, nil
}

// Remove implements afero.Fs.
func (f *FS) Remove(name string) error {
	local, vpath, err := f.authorize(authz.Remove, name)
	if err != nil {
		return err
	}
	if err := os.Remove(local); err != nil {
		f.logActivity("REMOVE_FAILED", vpath, false)
		return err
	}
	f.logActivity("REMOVE", vpath, true)
	return nil
}

// RemoveAll implements afero.Fs.
func (f *FS) RemoveAll(p string) error {
	local, vpath, err := f.authorize(authz.Remove, p)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(local); err != nil {
		f.logActivity("REMOVE_FAILED", vpath, false)
		return err
	}
	f.logActivity("REMOVE", vpath, true)
	return nil
}

// Rename implements afero.Fs, authorizing both source and target vps.
func (f *FS) Rename(oldname, newname string) error {
	f.session.ResetIdleTimer()
	srcV := normalizeVirtualPath(oldname)
	dstV := normalizeVirtualPath(newname)
	srcLocal, dstLocal, err := f.driver.Authorizer.DecideRename(f.principal, f.driver.Listener.ID, srcV, dstV)
	if err != nil {
		if aerr, ok := authz.AsError(err); ok {
			f.logActivity("RENAME_DENIED", srcV, false)
			return toFTPError(aerr.Kind)
		}
		f.logActivity("RENAME_DENIED", srcV, false)
		return err
	}
	if err := os.Rename(srcLocal, dstLocal); err != nil {
		f.logActivity("RENAME_FAILED", srcV, false)
		return err
	}
	f.logActivity("RENAME", srcV, true)
	return nil
}

// Stat implements afero.Fs.
func (f *FS) Stat(name string) (os.FileInfo, error) {
	local, _, err := f.authorize(authz.Stat, name)
	if err != nil {
		return nil, err
	}
	return os.Stat(local)
}

// Name implements afero.Fs.
func (f *FS) Name() string {
	return f.driver.Listener.Name
}

// Chmod implements afero.Fs.
func (f *FS) Chmod(name string, mode os.FileMode) error {
	local, _, err := f.authorize(authz.OpenWrite, name)
	if err != nil {
		return err
	}
	return os.Chmod(local, mode)
}

// Chtimes implements afero.Fs.
func (f *FS) Chtimes(name string, atime, mtime time.Time) error {
	local, _, err := f.authorize(authz.OpenWrite, name)
	if err != nil {
		return err
	}
	return os.Chtimes(local, atime, mtime)
}

// Chown implements afero.Fs. uid/gid are nominal in this system (spec
// §4.3's STAT note), so Chown is accepted but not applied.
func (f *FS) Chown(name string, uid, gid int) error {
	_, _, err := f.authorize(authz.OpenWrite, name)
	return err
}

// ReadDir implements ftpserver.ClientDriverExtensionFileList, avoiding
// the need to make our directory File implement Readdir itself.
func (f *FS) ReadDir(name string) ([]os.FileInfo, error) {
	local, vpath, err := f.authorize(authz.List, name)
	if err != nil {
		return nil, err
	}
	it, err := session.NewDirIterator(local)
	if err != nil {
		f.logActivity("OPENDIR_FAILED", vpath, false)
		return nil, err
	}
	f.logActivity("OPENDIR", vpath, true)
	return it.Entries, nil
}

// file adapts *os.File to afero.File, adding the one method os.File
// lacks (WriteString) and resetting the owning session's idle timer on
// every read/write.
type file struct {
	*os.File
	fs    *FS
	vpath string
}

func (fl *file) WriteString(s string) (int, error) {
	if fl.fs != nil {
		fl.fs.session.ResetIdleTimer()
	}
	return fl.File.WriteString(s)
}

func (fl *file) Read(p []byte) (int, error) {
	if fl.fs != nil {
		fl.fs.session.ResetIdleTimer()
	}
	return fl.File.Read(p)
}

func (fl *file) Write(p []byte) (int, error) {
	if fl.fs != nil {
		fl.fs.session.ResetIdleTimer()
	}
	return fl.File.Write(p)
}

func (fl *file) Close() error {
	if fl.fs != nil {
		fl.fs.logActivity("CLOSE", fl.vpath, true)
	}
	return fl.File.Close()
}
