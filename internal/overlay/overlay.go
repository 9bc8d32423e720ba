// Package overlay maintains a copy-on-write shadow layer over a source
// directory. Reads of untouched paths go straight to the source tree;
// writes and deletes are redirected into a private shadow directory so
// the source is never mutated while a session is active. The path index
// is the single source of truth for where a logical path lives — every
// resolution routes through it.
package overlay

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	gopath "path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ChangeKind says how a logical path diverges from the source tree.
type ChangeKind string

const (
	// ChangeOverlaid means the path's content lives in the shadow layer.
	ChangeOverlaid ChangeKind = "overlaid"
	// ChangeDeleted means the path is hidden from the merged view.
	ChangeDeleted ChangeKind = "deleted"
)

// Change is one entry of a Diff: a logical path and how it changed.
type Change struct {
	Path string
	Kind ChangeKind
}

// entry tracks one logical path. state transitions are guarded by the
// manager mutex; mu serializes the slow lazy-copy step so two
// first-writers to the same path cannot interleave.
type entry struct {
	mu     sync.Mutex
	state  ChangeKind // "" while unchanged
	shadow string
}

// Manager owns one overlay session: a source root, a private shadow
// directory, and the path index mapping logical paths to their current
// location. All methods are safe for concurrent use.
type Manager struct {
	source string // absolute, symlink-resolved
	eager  bool

	mu      sync.Mutex
	opened  bool
	closed  bool
	shadow  string // temp dir holding the workspace, removed on Close
	workdir string // shadow/workspace, the cwd for spawned commands
	index   map[string]*entry
}

// Option configures a Manager at creation time.
type Option func(*Manager)

// WithEagerCopy copies the source tree into the shadow workspace at
// Open so spawned commands can read untouched files. Without a kernel
// isolation layer this is the only way to give arbitrary processes a
// full merged view; the default lazy mode copies nothing until a path
// is written.
func WithEagerCopy() Option {
	return func(m *Manager) { m.eager = true }
}

// New creates a Manager over the given source root. The root must be
// an existing directory; it is resolved to an absolute, symlink-free
// path so escape checks have a stable anchor.
func New(source string, opts ...Option) (*Manager, error) {
	abs, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("overlay: resolve source root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("overlay: resolve source root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("overlay: stat source root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("overlay: source root %s is not a directory", source)
	}

	m := &Manager{
		source: resolved,
		index:  make(map[string]*entry),
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Open creates the shadow directory and activates the overlay. It must
// be called exactly once; a second call is an error.
func (m *Manager) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.opened || m.closed {
		return ErrAlreadyOpen
	}

	shadow, err := os.MkdirTemp("", "safeshell-")
	if err != nil {
		return &IOError{Op: "create shadow dir", Path: "", Err: err}
	}
	workdir := filepath.Join(shadow, "workspace")
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		os.RemoveAll(shadow)
		return &IOError{Op: "create workspace", Path: workdir, Err: err}
	}

	if m.eager {
		if err := copyTree(m.source, workdir); err != nil {
			os.RemoveAll(shadow)
			return &IOError{Op: "materialize workspace", Path: workdir, Err: err}
		}
	}

	m.shadow = shadow
	m.workdir = workdir
	m.opened = true
	return nil
}

// Close discards the shadow directory and all overlay state. Idempotent,
// and a no-op if Open never succeeded. The session always reaches the
// closed state even when cleanup fails; the failure is reported.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.opened {
		m.closed = true
		return nil
	}
	m.closed = true
	m.index = make(map[string]*entry)

	if err := os.RemoveAll(m.shadow); err != nil {
		return &IOError{Op: "remove shadow dir", Path: m.shadow, Err: err}
	}
	return nil
}

// Workdir returns the shadow workspace used as the working directory
// for spawned commands.
func (m *Manager) Workdir() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.workdir
}

// Source returns the absolute source root.
func (m *Manager) Source() string {
	return m.source
}

// ResolveForRead maps a logical path to the file that currently backs
// it: the shadow copy when overlaid, not-found when deleted, the real
// source path otherwise. Untouched files are never copied.
func (m *Manager) ResolveForRead(path string) (string, error) {
	rel, err := m.canonical(path)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireOpen(); err != nil {
		return "", err
	}

	if m.deletedLocked(rel) {
		return "", fmt.Errorf("overlay: %s: %w", path, fs.ErrNotExist)
	}
	if e, ok := m.index[rel]; ok && e.state == ChangeOverlaid {
		return e.shadow, nil
	}
	return filepath.Join(m.source, filepath.FromSlash(rel)), nil
}

// ResolveForWrite maps a logical path to its shadow location, lazily
// copying the current source content on the first write. Idempotent on
// repeated writes; concurrent first-writes to the same path are
// serialized by a per-path lock.
func (m *Manager) ResolveForWrite(path string) (string, error) {
	rel, err := m.canonical(path)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", &PathEscapeError{Path: path}
	}

	e, err := m.entryFor(rel)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	state := e.state
	workdir := m.workdir
	m.mu.Unlock()

	shadowPath := filepath.Join(workdir, filepath.FromSlash(rel))
	if state == ChangeOverlaid {
		return shadowPath, nil
	}

	if err := os.MkdirAll(filepath.Dir(shadowPath), 0o755); err != nil {
		return "", &IOError{Op: "create shadow parents", Path: shadowPath, Err: err}
	}

	// Lazy copy-on-first-write: capture the source content unless the
	// path was deleted (then it restarts as a new file) or the eager
	// copy already put it in place.
	if state != ChangeDeleted {
		src := filepath.Join(m.source, filepath.FromSlash(rel))
		if info, statErr := os.Stat(src); statErr == nil && info.Mode().IsRegular() {
			if _, err := os.Lstat(shadowPath); errors.Is(err, fs.ErrNotExist) {
				if err := copyFile(src, shadowPath, info.Mode().Perm()); err != nil {
					return "", &IOError{Op: "copy on write", Path: rel, Err: err}
				}
			}
		}
	}

	m.mu.Lock()
	e.state = ChangeOverlaid
	e.shadow = shadowPath
	m.mu.Unlock()

	return shadowPath, nil
}

// Delete hides a logical path from the merged view. Nothing is removed
// from the source root; an overlaid shadow copy is discarded.
func (m *Manager) Delete(path string) error {
	rel, err := m.canonical(path)
	if err != nil {
		return err
	}
	if rel == "." {
		return &PathEscapeError{Path: path}
	}

	e, err := m.entryFor(rel)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m.mu.Lock()
	state := e.state
	workdir := m.workdir
	m.mu.Unlock()

	switch state {
	case ChangeDeleted:
		return fmt.Errorf("overlay: %s: %w", path, fs.ErrNotExist)
	case ChangeOverlaid:
		os.RemoveAll(e.shadow)
	default:
		src := filepath.Join(m.source, filepath.FromSlash(rel))
		_, statErr := os.Lstat(src)
		// A directory may exist only in the overlay, as the parent of
		// overlaid paths. The index decides existence, not the source.
		if statErr != nil && !m.hasOverlaidUnder(rel) {
			return fmt.Errorf("overlay: %s: %w", path, fs.ErrNotExist)
		}
		// Discard the workspace subtree: the eager copy and any shadow
		// files living under the deleted path.
		os.RemoveAll(filepath.Join(workdir, filepath.FromSlash(rel)))

		m.mu.Lock()
		m.dropUnderLocked(rel)
		if statErr != nil {
			// The source never had this path, so there is nothing to
			// hide: dropping the subtree reverts it entirely.
			delete(m.index, rel)
			m.mu.Unlock()
			return nil
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	e.state = ChangeDeleted
	e.shadow = ""
	m.mu.Unlock()
	return nil
}

// ListDir returns the merged directory listing: real source entries
// minus deleted paths, plus overlaid entries, under their logical names.
func (m *Manager) ListDir(dir string) ([]string, error) {
	rel, err := m.canonical(dir)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	if rel != "." && m.deletedLocked(rel) {
		return nil, fmt.Errorf("overlay: %s: %w", dir, fs.ErrNotExist)
	}

	names := make(map[string]bool)
	srcDir := filepath.Join(m.source, filepath.FromSlash(rel))
	entries, readErr := os.ReadDir(srcDir)
	for _, de := range entries {
		child := gopath.Join(rel, de.Name())
		if m.deletedLocked(child) {
			continue
		}
		names[de.Name()] = true
	}

	// Overlaid paths contribute their own names plus any intermediate
	// directories the source tree does not have.
	for p, e := range m.index {
		if e.state != ChangeOverlaid {
			continue
		}
		for cur := p; cur != "." && cur != ""; cur = gopath.Dir(cur) {
			if gopath.Dir(cur) == rel {
				names[gopath.Base(cur)] = true
			}
		}
	}

	if len(names) == 0 && readErr != nil {
		return nil, fmt.Errorf("overlay: %s: %w", dir, readErr)
	}

	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Diff returns every overlaid or deleted logical path, sorted. It is
// introspection only — changes are never applied back to the source.
func (m *Manager) Diff() []Change {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changes []Change
	for p, e := range m.index {
		if e.state == "" {
			continue
		}
		changes = append(changes, Change{Path: p, Kind: e.state})
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes
}

// Sync reconciles workspace mutations made by spawned processes into
// the path index, keeping it the single source of truth. New or
// modified workspace files become overlaid; files a process removed
// become deleted (eager mode) or drop out of the index (lazy mode, new
// files that no longer exist).
func (m *Manager) Sync() error {
	m.mu.Lock()
	if err := m.requireOpen(); err != nil {
		m.mu.Unlock()
		return err
	}
	workdir := m.workdir
	eager := m.eager
	m.mu.Unlock()

	seen := make(map[string]bool)
	err := filepath.WalkDir(workdir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(workdir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		seen[rel] = true

		m.mu.Lock()
		e, ok := m.index[rel]
		state := ChangeKind("")
		if ok {
			state = e.state
		}
		m.mu.Unlock()

		if state == ChangeOverlaid {
			return nil
		}
		if state == "" && eager {
			// Untouched eager copies stay unindexed.
			if same, err := sameContent(filepath.Join(m.source, filepath.FromSlash(rel)), p); err == nil && same {
				return nil
			}
		}

		e, err = m.entryFor(rel)
		if err != nil {
			return err
		}
		m.mu.Lock()
		e.state = ChangeOverlaid
		e.shadow = p
		m.mu.Unlock()
		return nil
	})
	if err != nil {
		return &IOError{Op: "sync workspace", Path: workdir, Err: err}
	}

	// Deletions: overlaid entries whose shadow file vanished, and in
	// eager mode source files whose workspace copy vanished.
	m.mu.Lock()
	type pending struct {
		rel string
		e   *entry
	}
	var overlaid []pending
	for p, e := range m.index {
		if e.state == ChangeOverlaid && !seen[p] {
			overlaid = append(overlaid, pending{p, e})
		}
	}
	m.mu.Unlock()

	for _, pe := range overlaid {
		src := filepath.Join(m.source, filepath.FromSlash(pe.rel))
		m.mu.Lock()
		if _, err := os.Lstat(src); err == nil {
			pe.e.state = ChangeDeleted
			pe.e.shadow = ""
		} else {
			delete(m.index, pe.rel)
		}
		m.mu.Unlock()
	}

	if eager {
		err := filepath.WalkDir(m.source, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(m.source, p)
			if err != nil {
				return err
			}
			rel = filepath.ToSlash(rel)
			if seen[rel] {
				return nil
			}
			m.mu.Lock()
			e, ok := m.index[rel]
			if !ok {
				e = &entry{}
				m.index[rel] = e
			}
			if e.state != ChangeDeleted {
				e.state = ChangeDeleted
				e.shadow = ""
			}
			m.mu.Unlock()
			return nil
		})
		if err != nil {
			return &IOError{Op: "sync deletions", Path: m.source, Err: err}
		}
	}
	return nil
}

// --- internals ---

func (m *Manager) requireOpen() error {
	if m.closed {
		return ErrClosed
	}
	if !m.opened {
		return ErrNotOpen
	}
	return nil
}

// entryFor returns the index entry for rel, creating it if needed.
func (m *Manager) entryFor(rel string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.requireOpen(); err != nil {
		return nil, err
	}
	e, ok := m.index[rel]
	if !ok {
		e = &entry{}
		m.index[rel] = e
	}
	return e, nil
}

// hasOverlaidUnder reports whether any overlaid path lives strictly
// under rel.
func (m *Manager) hasOverlaidUnder(rel string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := rel + "/"
	for p, e := range m.index {
		if e.state == ChangeOverlaid && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// dropUnderLocked removes index entries strictly under rel; their
// shadow files are gone with the workspace subtree. Caller holds m.mu.
func (m *Manager) dropUnderLocked(rel string) {
	prefix := rel + "/"
	for p := range m.index {
		if strings.HasPrefix(p, prefix) {
			delete(m.index, p)
		}
	}
}

// deletedLocked reports whether rel or any of its ancestors is marked
// deleted. Caller holds m.mu.
func (m *Manager) deletedLocked(rel string) bool {
	for cur := rel; cur != "." && cur != ""; cur = gopath.Dir(cur) {
		if e, ok := m.index[cur]; ok && e.state == ChangeDeleted {
			return true
		}
	}
	return false
}

// canonical normalizes a logical path to a slash-separated path
// relative to the source root, resolving symlinks so no two keys alias
// the same real file. Paths escaping the root are rejected.
func (m *Manager) canonical(path string) (string, error) {
	p := path
	if !filepath.IsAbs(p) {
		p = filepath.Join(m.source, p)
	}
	p = filepath.Clean(p)

	resolved, err := resolveExistingSymlinks(p)
	if err != nil {
		return "", &IOError{Op: "resolve", Path: path, Err: err}
	}

	rel, err := filepath.Rel(m.source, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathEscapeError{Path: path}
	}
	return filepath.ToSlash(rel), nil
}

// resolveExistingSymlinks resolves symlinks in the longest existing
// prefix of p and reattaches the non-existing remainder, so new paths
// can still be canonicalized.
func resolveExistingSymlinks(p string) (string, error) {
	suffix := ""
	cur := p
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			// Symlinks and special files are skipped: the workspace
			// must never provide a write path back into the source.
			return nil
		}
		return copyFile(p, target, info.Mode().Perm())
	})
}

func sameContent(a, b string) (bool, error) {
	ia, err := os.Stat(a)
	if err != nil {
		return false, err
	}
	ib, err := os.Stat(b)
	if err != nil {
		return false, err
	}
	if ia.Size() != ib.Size() {
		return false, nil
	}
	da, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}
	db, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}
	return string(da) == string(db), nil
}
