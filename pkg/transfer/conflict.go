package transfer

import (
	"fmt"

	"digital.vasic.vfs/pkg/client"
)

type resolution int

const (
	resolveReplace resolution = iota
	resolveSkip
)

// resolveConflicts probes the target of every item in order. Conflicts are
// replaced by deleting the existing entry, skipped by dropping the item, or
// abort the request.
func (e *engine) resolveConflicts(items []*item) ([]*item, error) {
	kept := items[:0]
	targets := newDirIndex(e.ctx, e.req.Target)
	for _, it := range items {
		e.setNames(it.src, it.dst, 0)
		if err := e.tick(); err != nil {
			return nil, err
		}

		var exists bool
		skipped, err := e.attempt("stat", it.dst, func() error {
			var err error
			exists, err = e.req.Target.FileExists(e.ctx, it.dst)
			return err
		})
		if err != nil {
			return nil, err
		}
		if skipped {
			e.drop(it)
			continue
		}
		if !exists {
			kept = append(kept, it)
			continue
		}
		if e.sameEntry(it.src, it.dst, it.info, targets) {
			return nil, fmt.Errorf("%s: source and target are the same entry: %w", it.dst, ErrFileExists)
		}

		res, err := e.conflict(it.dst)
		if err != nil {
			return nil, err
		}
		if res == resolveSkip {
			e.log.Debug("skipping existing target", "path", it.dst)
			e.drop(it)
			continue
		}

		skipped, err = e.removeTarget(it.dst, targets)
		if err != nil {
			return nil, err
		}
		if skipped {
			e.drop(it)
			continue
		}
		kept = append(kept, it)
	}
	return kept, nil
}

// drop takes an item out of the request totals.
func (e *engine) drop(it *item) {
	e.info.FilesTotal -= it.files
	e.info.BytesTotal -= it.bytes
}

// conflict decides what to do with an existing target according to the
// overwrite mode, asking the handler in query mode. The "all" answers
// change the mode for the rest of the request.
func (e *engine) conflict(dst string) (resolution, error) {
	switch e.overwrite {
	case OverwriteReplace:
		return resolveReplace, nil
	case OverwriteSkip:
		return resolveSkip, nil
	case OverwriteQuery:
	default:
		return 0, fmt.Errorf("%s: %w", dst, ErrFileExists)
	}

	e.info.Status = StatusOverwrite
	action := e.handler.Overwrite(e.snapshot())
	e.info.Status = StatusOk

	switch action {
	case OverwriteActionReplaceAll:
		e.overwrite = OverwriteReplace
		return resolveReplace, nil
	case OverwriteActionReplace:
		return resolveReplace, nil
	case OverwriteActionSkipAll:
		e.overwrite = OverwriteSkip
		return resolveSkip, nil
	case OverwriteActionSkip:
		return resolveSkip, nil
	default:
		return 0, e.fatal(fmt.Errorf("%s: %w", dst, ErrFileExists))
	}
}

// removeTarget deletes the existing entry at dst: directories recursively,
// files and links with unlink.
func (e *engine) removeTarget(dst string, targets *dirIndex) (bool, error) {
	e.log.Debug("replacing existing target", "path", dst)
	defer targets.forget(dst)
	return e.attempt("delete", dst, func() error {
		info, err := targets.lstat(dst)
		if client.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.IsDir && !info.IsSymlink {
			return e.req.Target.DeleteDirectory(e.ctx, dst, true)
		}
		return e.req.Target.DeleteFile(e.ctx, dst)
	})
}
