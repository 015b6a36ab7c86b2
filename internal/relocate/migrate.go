// Package relocate moves a storage root to a new directory. A migration can
// be interrupted at any point and re-run; every run makes progress toward
// each source file being present once at the destination and the source
// being gone.
package relocate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrDestinationInsideSource is returned when the destination lies under the
// source, which would make the walk move the destination into itself.
var ErrDestinationInsideSource = errors.New("destination is inside source")

// partialSuffix marks a file copy still in progress.
const partialSuffix = ".partial"

// Result counts what a migration did per entry.
type Result struct {
	Moved           int `json:"moved"`
	Copied          int `json:"copied"`
	ConflictRenamed int `json:"conflict_renamed"`
	Skipped         int `json:"skipped"`
	Kept            int `json:"kept,omitempty"`
}

// EventKind classifies a progress Event.
type EventKind string

const (
	EventMoved      EventKind = "moved"
	EventCopied     EventKind = "copied"
	EventRenamed    EventKind = "conflict_renamed"
	EventSkipped    EventKind = "skipped"
	EventKept       EventKind = "kept"
	EventRemovedDir EventKind = "removed_dir"
)

// Event describes one completed step.
type Event struct {
	Kind        EventKind
	Source      string
	Destination string
}

// Migrator relocates directory trees.
type Migrator struct {
	logger *slog.Logger

	// Progress, when set, is called after each completed step.
	Progress func(Event)

	// rename is os.Rename; tests swap it to force the copy path.
	rename func(oldpath, newpath string) error

	// keep holds canonical source paths left where they are.
	keep map[string]struct{}
}

// Keep marks paths that stay in the source tree, such as a config file or
// an open log file living under the storage root. The source directories
// holding them are not removed.
func (m *Migrator) Keep(paths ...string) error {
	if m.keep == nil {
		m.keep = make(map[string]struct{}, len(paths))
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		c, err := canonical(p)
		if err != nil {
			return fmt.Errorf("resolve kept path: %w", err)
		}
		m.keep[c] = struct{}{}
	}
	return nil
}

// New returns a Migrator logging to logger (slog.Default when nil).
func New(logger *slog.Logger) *Migrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Migrator{logger: logger, rename: os.Rename}
}

// Migrate moves everything under src into dst and removes src.
//
// Entries absent at dst are renamed, falling back to copy and delete when
// rename fails (for example across devices). Directories present on both
// sides are merged. A file already at dst with the same size is taken to be
// a finished earlier copy and the source is deleted. Any other clash is moved
// in as "<stem>-migrated-<k><ext>". The size check on a same-named file is
// a heuristic: a different file that happens to have the same size is
// treated as a copy and the source is dropped. A "-migrated-<k>" file is
// only taken as an earlier copy when its bytes match.
func (m *Migrator) Migrate(ctx context.Context, src, dst string) (Result, error) {
	var res Result

	srcPath, err := canonical(src)
	if err != nil {
		return res, fmt.Errorf("resolve source: %w", err)
	}
	dstPath, err := canonical(dst)
	if err != nil {
		return res, fmt.Errorf("resolve destination: %w", err)
	}

	if srcPath == dstPath {
		return res, nil
	}
	if within(srcPath, dstPath) {
		return res, fmt.Errorf("%w: %s is under %s", ErrDestinationInsideSource, dstPath, srcPath)
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.logger.Info("migration source absent, nothing to do", "source", srcPath)
			return res, nil
		}
		return res, fmt.Errorf("stat source: %w", err)
	}
	if !info.IsDir() {
		return res, fmt.Errorf("source %s is not a directory", srcPath)
	}

	if err := os.MkdirAll(dstPath, info.Mode().Perm()|0o700); err != nil {
		return res, fmt.Errorf("create destination: %w", err)
	}

	m.logger.Info("migration started", "source", srcPath, "destination", dstPath)
	if err := m.merge(ctx, srcPath, dstPath, &res); err != nil {
		return res, err
	}
	m.logger.Info("migration finished", "source", srcPath, "destination", dstPath,
		"moved", res.Moved, "copied", res.Copied,
		"conflict_renamed", res.ConflictRenamed, "skipped", res.Skipped, "kept", res.Kept)
	return res, nil
}

// merge moves the contents of src into dst, then removes src if empty.
func (m *Migrator) merge(ctx context.Context, src, dst string, res *Result) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}

	kept := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}

		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())

		if _, ok := m.keep[from]; ok {
			kept++
			res.Kept++
			m.emit(EventKept, from, "")
			continue
		}

		existing, err := os.Lstat(to)
		switch {
		case errors.Is(err, fs.ErrNotExist) && e.IsDir() && m.holdsKept(from):
			// Moving the directory whole would take the kept path with it.
			if err := os.MkdirAll(to, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", to, err)
			}
			if err := m.merge(ctx, from, to, res); err != nil {
				return err
			}
			kept++

		case errors.Is(err, fs.ErrNotExist):
			copied, err := m.transfer(from, to)
			if err != nil {
				return err
			}
			if copied {
				res.Copied++
				m.emit(EventCopied, from, to)
			} else {
				res.Moved++
				m.emit(EventMoved, from, to)
			}

		case err != nil:
			return fmt.Errorf("stat %s: %w", to, err)

		case e.IsDir() && existing.IsDir():
			if err := m.merge(ctx, from, to, res); err != nil {
				return err
			}
			if m.holdsKept(from) {
				kept++
			}

		case sameFile(e, existing):
			if err := os.Remove(from); err != nil {
				return fmt.Errorf("remove redundant %s: %w", from, err)
			}
			res.Skipped++
			m.emit(EventSkipped, from, to)

		default:
			target, done, err := conflictTarget(from, e, to)
			if err != nil {
				return err
			}
			if done {
				// An earlier interrupted run already placed this file.
				if err := os.RemoveAll(from); err != nil {
					return fmt.Errorf("remove redundant %s: %w", from, err)
				}
				res.Skipped++
				m.emit(EventSkipped, from, target)
				continue
			}
			if _, err := m.transfer(from, target); err != nil {
				return err
			}
			res.ConflictRenamed++
			m.emit(EventRenamed, from, target)
		}
	}

	if kept > 0 {
		m.logger.Info("kept files left in source", "dir", src, "kept", kept)
		return nil
	}
	return m.removeIfEmpty(src)
}

// transfer moves from to the absent path to, reporting whether it had to copy.
func (m *Migrator) transfer(from, to string) (bool, error) {
	err := m.rename(from, to)
	if err == nil {
		return false, nil
	}
	m.logger.Debug("rename failed, copying", "source", from, "error", err)

	if err := copyTree(from, to); err != nil {
		return true, fmt.Errorf("copy %s to %s: %w", from, to, err)
	}
	if err := os.RemoveAll(from); err != nil {
		return true, fmt.Errorf("remove %s after copy: %w", from, err)
	}
	return true, nil
}

// holdsKept reports whether a kept path lies under dir.
func (m *Migrator) holdsKept(dir string) bool {
	for p := range m.keep {
		if within(dir, p) {
			return true
		}
	}
	return false
}

func (m *Migrator) removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	if len(entries) > 0 {
		m.logger.Warn("source directory not empty after migration", "dir", dir, "entries", len(entries))
		return nil
	}
	if err := os.Remove(dir); err != nil {
		return fmt.Errorf("remove %s: %w", dir, err)
	}
	m.emit(EventRemovedDir, dir, "")
	return nil
}

func (m *Migrator) emit(kind EventKind, from, to string) {
	if m.Progress != nil {
		m.Progress(Event{Kind: kind, Source: from, Destination: to})
	}
}

// sameFile applies the equal-size heuristic to two regular files.
func sameFile(src fs.DirEntry, dst fs.FileInfo) bool {
	if !src.Type().IsRegular() || !dst.Mode().IsRegular() {
		return false
	}
	info, err := src.Info()
	if err != nil {
		return false
	}
	return info.Size() == dst.Size()
}

// conflictTarget picks the first free "<stem>-migrated-<k><ext>" next to to.
// done is true when a candidate already holds a byte-identical copy of the
// regular file from; a candidate that only matches in size is someone
// else's file and is skipped over.
func conflictTarget(from string, src fs.DirEntry, to string) (target string, done bool, err error) {
	dir, base := filepath.Split(to)
	ext := filepath.Ext(base)
	if src.IsDir() {
		ext = ""
	}
	stem := strings.TrimSuffix(base, ext)

	for k := 1; ; k++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-migrated-%d%s", stem, k, ext))
		info, err := os.Lstat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			return candidate, false, nil
		}
		if err != nil {
			return "", false, fmt.Errorf("stat %s: %w", candidate, err)
		}
		if !sameFile(src, info) {
			continue
		}
		equal, err := sameContent(from, candidate)
		if err != nil {
			return "", false, err
		}
		if equal {
			return candidate, true, nil
		}
	}
}

// sameContent compares two regular files byte by byte.
func sameContent(a, b string) (bool, error) {
	fa, err := os.Open(a)
	if err != nil {
		return false, err
	}
	defer fa.Close()
	fb, err := os.Open(b)
	if err != nil {
		return false, err
	}
	defer fb.Close()

	bufA := make([]byte, 32*1024)
	bufB := make([]byte, 32*1024)
	for {
		na, errA := io.ReadFull(fa, bufA)
		nb, errB := io.ReadFull(fb, bufB)
		if !bytes.Equal(bufA[:na], bufB[:nb]) {
			return false, nil
		}
		endA := errors.Is(errA, io.EOF) || errors.Is(errA, io.ErrUnexpectedEOF)
		endB := errors.Is(errB, io.EOF) || errors.Is(errB, io.ErrUnexpectedEOF)
		switch {
		case errA != nil && !endA:
			return false, fmt.Errorf("read %s: %w", a, errA)
		case errB != nil && !endB:
			return false, fmt.Errorf("read %s: %w", b, errB)
		case endA || endB:
			return endA && endB, nil
		}
	}
}

// canonical makes p absolute and resolves symlinks in its longest existing
// prefix, so paths that do not exist yet still compare correctly.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}

	var rest []string
	cur := abs
	for {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return abs, nil
		}
		rest = append([]string{filepath.Base(cur)}, rest...)
		cur = parent
	}
}

// within reports whether child is strictly under parent.
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// copyTree copies a file, symlink or directory tree from src to the absent
// path dst, preserving permission bits and modification times.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&fs.ModeSymlink != 0:
		link, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(link, dst)

	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil

	case info.Mode().IsRegular():
		return copyFile(src, dst, info)

	default:
		return fmt.Errorf("unsupported file type %s", info.Mode().Type())
	}
}

// copyFile writes through a sibling partial file and renames it into place,
// so an interrupted copy never leaves a short file under the final name.
func copyFile(src, dst string, info fs.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + partialSuffix
	os.Remove(tmp) //nolint:errcheck

	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	if err := os.Chtimes(tmp, info.ModTime(), info.ModTime()); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return err
	}
	return os.Rename(tmp, dst)
}
