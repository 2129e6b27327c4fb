package sftpd

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/sftp"

	"github.com/filegate/filegate/internal/authz"
	"github.com/filegate/filegate/internal/session"
	"github.com/filegate/filegate/internal/store"
)

// handlers implements sftp.FileReader, sftp.FileWriter, sftp.FileCmder and
// sftp.FileLister for one authenticated Session. Every request is
// authorized against internal/authz before touching the filesystem, and
// its handle (if any) is tracked in internal/session so the CLOSE-count
// invariant in spec §8 is independently checkable.
type handlers struct {
	server    *Server
	principal authz.Principal
	session   *session.Session
}

func (h *handlers) resetIdle() {
	h.session.ResetIdleTimer()
}

func (h *handlers) logActivity(action, virtualPath string, success bool) {
	h.server.Store.LogActivity(store.ActivityRecord{
		ListenerID: &h.server.Listener.ID,
		Username:   h.principal.Username,
		Action:     action,
		Path:       virtualPath,
		Success:    success,
	})
}

// authorize decides op against virtualPath, logging the `_DENIED`
// activity itself on failure so every call site doesn't have to.
func (h *handlers) authorize(op authz.Operation, virtualPath string) (string, error) {
	local, err := h.server.Authorizer.Decide(h.principal, h.server.Listener.ID, op, virtualPath)
	if err != nil {
		if aerr, ok := authz.AsError(err); ok {
			h.logActivity(op.String()+"_DENIED", virtualPath, false)
			return "", toSFTPError(aerr.Kind)
		}
		h.logActivity(op.String()+"_DENIED", virtualPath, false)
		return "", sftp.ErrSSHFxFailure
	}
	return local, nil
}

func toSFTPError(kind authz.Kind) error {
	switch kind {
	case authz.KindNoMapping, authz.KindNoSuchFile:
		return sftp.ErrSSHFxNoSuchFile
	case authz.KindNotSubscribed, authz.KindPermissionDenied, authz.KindEscapeAttempt:
		return sftp.ErrSSHFxPermissionDenied
	default:
		return sftp.ErrSSHFxFailure
	}
}

// fileHandle is the io.ReaderAt/io.WriterAt/io.Closer pkg/sftp holds for
// the lifetime of an OPEN...CLOSE pair. Append mode ignores the client
// offset and always appends at the current end of file, per spec §4.3.
type fileHandle struct {
	h         *handlers
	f         *os.File
	handle    session.HandleID
	appendMode bool
}

func (fh *fileHandle) ReadAt(p []byte, off int64) (int, error) {
	fh.h.resetIdle()
	return fh.f.ReadAt(p, off)
}

func (fh *fileHandle) WriteAt(p []byte, off int64) (int, error) {
	fh.h.resetIdle()
	if fh.appendMode {
		return fh.f.Write(p)
	}
	return fh.f.WriteAt(p, off)
}

func (fh *fileHandle) Close() error {
	err := fh.h.session.CloseHandle(fh.handle)
	fh.h.logActivity("CLOSE", "", true)
	return err
}

// Fileread implements sftp.FileReader.
func (h *handlers) Fileread(r *sftp.Request) (io.ReaderAt, error) {
	h.resetIdle()
	vpath := normalizeVirtualPath(r.Filepath)
	local, err := h.authorize(authz.OpenRead, vpath)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(local)
	if err != nil {
		h.logActivity("OPEN_FAILED", vpath, false)
		return nil, toOSError(err)
	}
	id := h.session.RegisterFile(local, f, false)
	h.logActivity("OPEN", vpath, true)
	return &fileHandle{h: h, f: f, handle: id}, nil
}

// Filewrite implements sftp.FileWriter. The create-vs-edit distinction
// is resolved by internal/authz.Decide (it stats localPath itself); here
// we only need the open(2) flags that follow from the client's request.
func (h *handlers) Filewrite(r *sftp.Request) (io.WriterAt, error) {
	h.resetIdle()
	vpath := normalizeVirtualPath(r.Filepath)
	pflags := r.Pflags()

	op := authz.OpenWrite
	if pflags.Append {
		op = authz.OpenAppend
	}
	local, err := h.authorize(op, vpath)
	if err != nil {
		return nil, err
	}

	flags := os.O_WRONLY
	switch {
	case pflags.Append:
		flags |= os.O_APPEND | os.O_CREATE
	case pflags.Trunc:
		flags |= os.O_TRUNC | os.O_CREATE
	case pflags.Creat:
		flags |= os.O_CREATE
	}
	if pflags.Excl {
		flags |= os.O_EXCL
	}

	f, err := os.OpenFile(local, flags, 0o644)
	if err != nil {
		h.logActivity("OPEN_FAILED", vpath, false)
		return nil, toOSError(err)
	}
	id := h.session.RegisterFile(local, f, pflags.Append)
	h.logActivity("OPEN", vpath, true)
	return &fileHandle{h: h, f: f, handle: id, appendMode: pflags.Append}, nil
}

// Filecmd implements sftp.FileCmder: Rename, Remove, Rmdir, Mkdir,
// Setstat, Symlink, Link.
func (h *handlers) Filecmd(r *sftp.Request) error {
	h.resetIdle()
	vpath := normalizeVirtualPath(r.Filepath)

	switch r.Method {
	case "Remove":
		local, err := h.authorize(authz.Remove, vpath)
		if err != nil {
			return err
		}
		if err := os.Remove(local); err != nil {
			h.logActivity("REMOVE_FAILED", vpath, false)
			return toOSError(err)
		}
		h.logActivity("REMOVE", vpath, true)
		return nil

	case "Rmdir":
		local, err := h.authorize(authz.Remove, vpath)
		if err != nil {
			return err
		}
		if err := os.Remove(local); err != nil {
			h.logActivity("RMDIR_FAILED", vpath, false)
			return toOSError(err)
		}
		h.logActivity("RMDIR", vpath, true)
		return nil

	case "Mkdir":
		local, err := h.authorize(authz.MakeDir, vpath)
		if err != nil {
			return err
		}
		if err := os.Mkdir(local, 0o755); err != nil {
			h.logActivity("MKDIR_FAILED", vpath, false)
			return toOSError(err)
		}
		h.logActivity("MKDIR", vpath, true)
		return nil

	case "Rename":
		targetVPath := normalizeVirtualPath(r.Target)
		srcLocal, dstLocal, err := h.server.Authorizer.DecideRename(h.principal, h.server.Listener.ID, vpath, targetVPath)
		if err != nil {
			if aerr, ok := authz.AsError(err); ok {
				h.logActivity("RENAME_DENIED", vpath, false)
				return toSFTPError(aerr.Kind)
			}
			h.logActivity("RENAME_DENIED", vpath, false)
			return sftp.ErrSSHFxFailure
		}
		if err := os.Rename(srcLocal, dstLocal); err != nil {
			h.logActivity("RENAME_FAILED", vpath, false)
			return toOSError(err)
		}
		h.logActivity("RENAME", vpath, true)
		return nil

	case "Setstat":
		// permissions/ownership changes are accepted as no-ops; we don't
		// model uid/gid/mode beyond what the host filesystem already does
		return nil

	case "Symlink", "Link":
		return sftp.ErrSSHFxOpUnsupported

	default:
		return sftp.ErrSSHFxOpUnsupported
	}
}

// Filelist implements sftp.FileLister: List, Stat, Lstat, Readlink.
func (h *handlers) Filelist(r *sftp.Request) (sftp.ListerAt, error) {
	h.resetIdle()
	vpath := normalizeVirtualPath(r.Filepath)

	switch r.Method {
	case "List":
		local, err := h.authorize(authz.List, vpath)
		if err != nil {
			return nil, err
		}
		it, err := session.NewDirIterator(local)
		if err != nil {
			h.logActivity("OPENDIR_FAILED", vpath, false)
			return nil, toOSError(err)
		}
		h.session.RegisterDir(it)
		h.logActivity("OPENDIR", vpath, true)
		return &dirLister{entries: it.Entries}, nil

	case "Stat", "Lstat":
		local, err := h.authorize(authz.Stat, vpath)
		if err != nil {
			return nil, err
		}
		var info os.FileInfo
		if r.Method == "Lstat" {
			info, err = os.Lstat(local)
		} else {
			info, err = os.Stat(local)
		}
		if err != nil {
			return nil, toOSError(err)
		}
		return &dirLister{entries: []os.FileInfo{info}}, nil

	case "Readlink":
		return nil, sftp.ErrSSHFxOpUnsupported

	default:
		return nil, sftp.ErrSSHFxOpUnsupported
	}
}

// dirLister implements sftp.ListerAt over a snapshot taken once at
// OPENDIR time, exactly the pagination contract pkg/sftp's own paging
// loop expects: repeated calls with increasing offset until io.EOF.
type dirLister struct {
	entries []os.FileInfo
}

func (d *dirLister) ListAt(ls []os.FileInfo, offset int64) (int, error) {
	if offset >= int64(len(d.entries)) {
		return 0, io.EOF
	}
	n := copy(ls, d.entries[offset:])
	if int64(n)+offset >= int64(len(d.entries)) {
		return n, io.EOF
	}
	return n, nil
}

// normalizeVirtualPath ensures every virtual path used for authorization
// is posix-absolute, per spec §4.2 step 6. It must NOT lexically clean
// away ".." components here: doing so before the Authorizer sees the
// path would silently re-root a traversal attempt instead of letting
// Decide's containment check deny it as an escape.
func normalizeVirtualPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}
	return p
}

func toOSError(err error) error {
	switch {
	case os.IsNotExist(err):
		return sftp.ErrSSHFxNoSuchFile
	case os.IsExist(err):
		return sftp.ErrSSHFxFailure
	default:
		return sftp.ErrSSHFxFailure
	}
}
