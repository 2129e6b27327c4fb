// Package authz implements the pure authorization decision described by
// the store's permission tables: it never touches a socket or a file
// descriptor, only the store's read-only CRUD surface and the local
// filesystem's path metadata.
package authz

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/filegate/filegate/internal/store"
)

// Operation enumerates the operation kinds the Authorizer decides over.
type Operation int

const (
	OpenRead Operation = iota
	OpenWrite
	OpenAppend
	List
	Remove
	MakeDir
	Rename
	Stat
)

func (o Operation) String() string {
	switch o {
	case OpenRead:
		return "OpenRead"
	case OpenWrite:
		return "OpenWrite"
	case OpenAppend:
		return "OpenAppend"
	case List:
		return "List"
	case Remove:
		return "Remove"
	case MakeDir:
		return "MakeDir"
	case Rename:
		return "Rename"
	case Stat:
		return "Stat"
	default:
		return "Unknown"
	}
}

// Principal is the authenticated identity a decision is made for.
type Principal struct {
	UserID   uint64
	Username string
}

// Error is the structured failure an Authorizer decision returns. Callers
// (the SFTP/FTP handlers) translate Kind into a protocol status code.
type Error struct {
	Kind Kind
	Op   Operation
	Path string
}

func (e *Error) Error() string {
	return fmt.Sprintf("authz: %s denied for %s (%s)", e.Op, e.Path, e.Kind)
}

func deny(kind Kind, op Operation, path string) error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// AsError unwraps err into an *Error, if it is one.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Authorizer makes decisions against a read-only view of the store.
type Authorizer struct {
	store *store.Store
}

// New builds an Authorizer over s.
func New(s *store.Store) *Authorizer {
	return &Authorizer{store: s}
}

// exists reports whether the write/create distinction and rename-target
// checks need to treat localPath as pre-existing.
func exists(localPath string) bool {
	_, err := os.Lstat(localPath)
	return err == nil
}

// Decide authorizes a single operation on virtualPath for principal on
// listenerID, returning the contained local path on success.
func (a *Authorizer) Decide(principal Principal, listenerID uint64, op Operation, virtualPath string) (string, error) {
	subscribed, err := a.store.IsSubscribed(principal.UserID, listenerID)
	if err != nil {
		return "", fmt.Errorf("authz: check subscription: %w", err)
	}
	if !subscribed {
		return "", deny(KindNotSubscribed, op, virtualPath)
	}

	lp, err := a.store.GetListenerPermission(principal.UserID, listenerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", deny(KindNotSubscribed, op, virtualPath)
		}
		return "", fmt.Errorf("authz: load listener permission: %w", err)
	}

	vps, err := a.store.ListVirtualPaths(principal.UserID)
	if err != nil {
		return "", fmt.Errorf("authz: list virtual paths: %w", err)
	}
	vp, ok := matchVirtualPath(vps, virtualPath)
	if !ok {
		return "", deny(KindNoMapping, op, virtualPath)
	}
	if !vp.ApplyToSubdirs && isStrictlyUnder(virtualPath, vp.VirtualPath) {
		return "", deny(KindNoMapping, op, virtualPath)
	}

	localPath, err := materialize(vp, virtualPath)
	if err != nil {
		return "", deny(KindEscapeAttempt, op, virtualPath)
	}

	if !listenerAllows(lp, op, localPath) {
		return "", deny(KindPermissionDenied, op, virtualPath)
	}
	if !virtualPathAllows(vp, op, localPath) {
		return "", deny(KindPermissionDenied, op, virtualPath)
	}

	return localPath, nil
}

// DecideRename authorizes a rename: both the source (as a Rename-capable
// Remove-like operation) and the target (as an OpenWrite/create) must be
// authorized, each against its own virtual path mapping.
func (a *Authorizer) DecideRename(principal Principal, listenerID uint64, sourceVirtualPath, targetVirtualPath string) (sourceLocal, targetLocal string, err error) {
	sourceLocal, err = a.Decide(principal, listenerID, Rename, sourceVirtualPath)
	if err != nil {
		return "", "", err
	}

	subscribed, err := a.store.IsSubscribed(principal.UserID, listenerID)
	if err != nil {
		return "", "", fmt.Errorf("authz: check subscription: %w", err)
	}
	if !subscribed {
		return "", "", deny(KindNotSubscribed, Rename, targetVirtualPath)
	}
	lp, err := a.store.GetListenerPermission(principal.UserID, listenerID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", deny(KindNotSubscribed, Rename, targetVirtualPath)
		}
		return "", "", fmt.Errorf("authz: load listener permission: %w", err)
	}
	if !lp.CanRename {
		return "", "", deny(KindPermissionDenied, Rename, targetVirtualPath)
	}

	vps, err := a.store.ListVirtualPaths(principal.UserID)
	if err != nil {
		return "", "", fmt.Errorf("authz: list virtual paths: %w", err)
	}
	targetVP, ok := matchVirtualPath(vps, targetVirtualPath)
	if !ok {
		return "", "", deny(KindNoMapping, Rename, targetVirtualPath)
	}
	if !targetVP.ApplyToSubdirs && isStrictlyUnder(targetVirtualPath, targetVP.VirtualPath) {
		return "", "", deny(KindNoMapping, Rename, targetVirtualPath)
	}
	// the target is a file being created: listener-layer CanCreate and
	// virtual-path-layer CanWrite, as OpenWrite requires for a new file
	if !lp.CanCreate || !targetVP.CanWrite {
		return "", "", deny(KindPermissionDenied, Rename, targetVirtualPath)
	}

	targetLocal, err = materialize(targetVP, targetVirtualPath)
	if err != nil {
		return "", "", deny(KindEscapeAttempt, Rename, targetVirtualPath)
	}

	return sourceLocal, targetLocal, nil
}

// matchVirtualPath picks the longest vp.VirtualPath prefix of requestPath
// among vps, per the rule "vp.virtualPath or vp.virtualPath + '/'" with
// "/" matching everything.
func matchVirtualPath(vps []store.VirtualPath, requestPath string) (store.VirtualPath, bool) {
	var best store.VirtualPath
	found := false
	for _, vp := range vps {
		if !vpMatches(vp.VirtualPath, requestPath) {
			continue
		}
		if !found || len(vp.VirtualPath) > len(best.VirtualPath) {
			best = vp
			found = true
		}
	}
	return best, found
}

func vpMatches(vpPath, requestPath string) bool {
	if vpPath == "/" {
		return true
	}
	if requestPath == vpPath {
		return true
	}
	return strings.HasPrefix(requestPath, vpPath+"/")
}

func isStrictlyUnder(requestPath, vpPath string) bool {
	if requestPath == vpPath {
		return false
	}
	if vpPath == "/" {
		return requestPath != "/"
	}
	return strings.HasPrefix(requestPath, vpPath+"/")
}

// materialize computes the local path for requestPath under vp and
// verifies it stays contained within vp.LocalPath. relative is left
// exactly as submitted (including any ".." components) so a traversal
// attempt actually walks filepath.Join past vp.LocalPath instead of
// being silently re-rooted — containedPath is what must catch it.
func materialize(vp store.VirtualPath, requestPath string) (string, error) {
	relative := strings.TrimPrefix(requestPath, vp.VirtualPath)
	relative = strings.TrimPrefix(relative, "/")

	joined := filepath.Join(vp.LocalPath, relative)
	return containedPath(vp.LocalPath, joined)
}

// containedPath verifies joined is contained within root, resolving
// symlinks when possible and falling back to lexical containment when
// the target does not exist yet (OpenCreate, Mkdir).
func containedPath(root, joined string) (string, error) {
	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		resolvedRoot = filepath.Clean(root)
	}

	resolved, err := filepath.EvalSymlinks(joined)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		// target doesn't exist yet: resolve its parent directory instead
		// and re-append the leaf, then fall back to lexical containment.
		parent, errParent := filepath.EvalSymlinks(filepath.Dir(joined))
		if errParent != nil {
			parent = filepath.Clean(filepath.Dir(joined))
		}
		resolved = filepath.Join(parent, filepath.Base(joined))
	}

	if resolved != resolvedRoot && !strings.HasPrefix(resolved, resolvedRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("authz: path %q escapes root %q", resolved, resolvedRoot)
	}
	return resolved, nil
}

// listenerAllows applies the listener-layer capability table from the
// operation-to-boolean mapping; OpenWrite distinguishes create vs edit by
// the pre-existence of localPath.
func listenerAllows(lp *store.ListenerPermission, op Operation, localPath string) bool {
	switch op {
	case OpenRead, List, Stat:
		return lp.CanList
	case OpenWrite:
		if exists(localPath) {
			return lp.CanEdit
		}
		return lp.CanCreate
	case OpenAppend:
		return lp.CanAppend
	case Remove:
		return lp.CanDelete
	case MakeDir:
		return lp.CanCreateDir
	case Rename:
		return lp.CanRename
	default:
		return false
	}
}

// virtualPathAllows applies the virtual-path-layer capability table.
func virtualPathAllows(vp store.VirtualPath, op Operation, localPath string) bool {
	switch op {
	case OpenRead, Stat:
		return vp.CanRead
	case List:
		return vp.CanList
	case OpenWrite:
		return vp.CanWrite
	case OpenAppend:
		return vp.CanAppend
	case Remove:
		return vp.CanDelete
	case MakeDir:
		return vp.CanCreateDir
	case Rename:
		return vp.CanRename
	default:
		return false
	}
}
