package transfer

import (
	"fmt"

	"digital.vasic.vfs/pkg/client"
)

// ancestors holds the identities of the directories being descended into.
type ancestors map[string]struct{}

// enter records dir and fails with ErrLoop when it is already an ancestor.
func (a ancestors) enter(p string, dir *client.FileInfo) error {
	if dir.ID == "" {
		return nil
	}
	if _, ok := a[dir.ID]; ok {
		return fmt.Errorf("%s: %w", p, ErrLoop)
	}
	a[dir.ID] = struct{}{}
	return nil
}

func (a ancestors) leave(dir *client.FileInfo) {
	delete(a, dir.ID)
}

type totals struct {
	files int64
	bytes int64
	data  int64
}

func (t *totals) addFile(size int64) {
	t.files++
	t.bytes += size
	t.data += size
}

func (t *totals) addDir() {
	t.files++
	t.bytes += DirectoryOverhead
}

// collect stats every item and computes the request totals. Items whose
// stat the handler chose to skip are dropped.
func (e *engine) collect(items []*item) ([]*item, error) {
	kept := items[:0]
	sources := newDirIndex(e.ctx, e.req.Source)
	for _, it := range items {
		e.setNames(it.src, it.dst, 0)
		if err := e.tick(); err != nil {
			return nil, err
		}

		skipped, err := e.attempt("stat", it.src, func() error {
			info, err := sources.lstat(it.src)
			it.info = info
			return err
		})
		if err != nil {
			return nil, err
		}
		if skipped {
			continue
		}

		var t totals
		if e.moving {
			// a rename is one operation, whatever is below the item
			if it.info.IsDir && !it.info.IsSymlink {
				t.addDir()
			} else if it.info.IsSymlink {
				t.addFile(0)
			} else {
				t.addFile(it.info.Size)
			}
		} else if err := e.count(it.src, it.Source, it.info, ancestors{}, &t); err != nil {
			return nil, err
		}

		it.files, it.bytes, it.data = t.files, t.bytes, t.data
		e.info.FilesTotal += t.files
		e.info.BytesTotal += t.bytes
		kept = append(kept, it)
	}
	e.log.Debug("collected", "files", e.info.FilesTotal, "bytes", e.info.BytesTotal)
	return kept, nil
}

// count adds the entry at p, and below it when recursing, to t. Listing
// failures are logged and left for the copy to report.
func (e *engine) count(p, rel string, info *client.FileInfo, anc ancestors, t *totals) error {
	if info.IsSymlink {
		if !e.req.Options.Has(FollowSymlinks) {
			t.addFile(0)
			return nil
		}
		target, err := e.req.Source.GetFileInfo(e.ctx, p)
		if err != nil {
			if ierr := e.interrupted(); ierr != nil {
				return ierr
			}
			e.log.Debug("cannot follow symlink", "path", p, "error", err)
			t.addFile(0)
			return nil
		}
		info = target
	}

	if !info.IsDir {
		t.addFile(info.Size)
		return nil
	}
	t.addDir()
	if !e.req.Options.Has(Recursive) {
		return nil
	}

	if err := anc.enter(p, info); err != nil {
		return err
	}
	defer anc.leave(info)

	entries, err := e.req.Source.ListDirectory(e.ctx, p)
	if err != nil {
		if ierr := e.interrupted(); ierr != nil {
			return ierr
		}
		e.log.Warn("cannot list directory", "path", p, "error", err)
		return nil
	}
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		childRel := rel + "/" + entry.Name
		if e.filter.excluded(childRel) {
			continue
		}
		childPath := client.JoinPath(p, entry.Name)
		e.info.SourceName = childPath
		if err := e.tick(); err != nil {
			return err
		}
		if err := e.count(childPath, childRel, entry, anc, t); err != nil {
			return err
		}
	}
	return nil
}
