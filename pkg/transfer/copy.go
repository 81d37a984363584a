package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"golang.org/x/time/rate"

	"digital.vasic.vfs/pkg/client"
)

// maxDuplicateAttempts bounds the search for a free unique name.
const maxDuplicateAttempts = 1000

// copyItem copies one top-level item, deleting the source afterwards when
// the request asks for move semantics.
func (e *engine) copyItem(it *item) (bool, error) {
	return e.copyEntry(it.src, it.dst, it.Source, it.info, ancestors{}, e.req.Options.Has(RemoveSource))
}

// copyEntry copies the entry at src to dst. done reports whether the entry
// and everything below it arrived; it is false after a skip. With remove
// set, sources are deleted as soon as they are copied.
func (e *engine) copyEntry(src, dst, rel string, info *client.FileInfo, anc ancestors, remove bool) (done bool, err error) {
	if !info.IsSymlink {
		return e.copyResolved(src, dst, rel, info, anc, remove)
	}
	if !e.req.Options.Has(FollowSymlinks) {
		return e.copySymlink(src, dst, info, remove)
	}

	var target *client.FileInfo
	skipped, err := e.attempt("stat", src, func() error {
		var err error
		target, err = e.req.Source.GetFileInfo(e.ctx, src)
		return err
	})
	if err != nil || skipped {
		return false, err
	}
	// Deleting through a followed link would remove the link target's
	// children, so only the link itself is removed.
	done, err = e.copyResolved(src, dst, rel, target, anc, false)
	if err != nil || !done || !remove {
		return done, err
	}
	return e.removeSource(src, false)
}

func (e *engine) copyResolved(src, dst, rel string, info *client.FileInfo, anc ancestors, remove bool) (bool, error) {
	if info.IsDir {
		if !e.req.Options.Has(Recursive) {
			e.setNames(src, dst, 0)
			_, err := e.attempt("copy", src, func() error {
				return fmt.Errorf("%s: %w", src, ErrIsDirectory)
			})
			return false, err
		}
		return e.copyDir(src, dst, rel, info, anc, remove)
	}

	done, err := e.copyFile(src, dst, info.Size, info.Mode.Perm())
	if err != nil || !done || !remove {
		return done, err
	}
	return e.removeSource(src, false)
}

// copyDir creates dst and copies the children of src into it. The source
// directory is removed only when every child was moved.
func (e *engine) copyDir(src, dst, rel string, info *client.FileInfo, anc ancestors, remove bool) (bool, error) {
	if err := anc.enter(src, info); err != nil {
		return false, err
	}
	defer anc.leave(info)

	e.setNames(src, dst, 0)
	if err := e.setPhase(PhaseOpenTarget); err != nil {
		return false, err
	}
	created, err := e.claim(src, dst, func(p string) error {
		return e.req.Target.CreateDirectory(e.ctx, p, info.Mode.Perm())
	})
	if err != nil || created == "" {
		return false, err
	}
	dst = created
	e.info.FileIndex++
	e.log.Debug("created directory", "path", dst)

	var entries []*client.FileInfo
	skipped, err := e.attempt("list", src, func() error {
		var err error
		entries, err = e.req.Source.ListDirectory(e.ctx, src)
		return err
	})
	if err != nil || skipped {
		return false, err
	}

	complete := true
	for _, entry := range entries {
		if entry.Name == "." || entry.Name == ".." {
			continue
		}
		childRel := rel + "/" + entry.Name
		if e.filter.excluded(childRel) {
			complete = false
			continue
		}
		done, err := e.copyEntry(client.JoinPath(src, entry.Name), client.JoinPath(dst, entry.Name), childRel, entry, anc, remove)
		if err != nil {
			return false, err
		}
		if !done {
			complete = false
		}
	}

	if !remove {
		return complete, nil
	}
	if !complete {
		e.log.Warn("keeping source directory, not all entries were moved", "path", src)
		return false, nil
	}
	return e.removeSource(src, true)
}

// copyFile streams one file. Failures while streaming restart the file
// from the beginning when the handler asks for a retry.
func (e *engine) copyFile(src, dst string, size int64, perm os.FileMode) (bool, error) {
	e.setNames(src, dst, size)
	e.log.Debug("copying", "source", src, "target", dst, "size", size)

	var (
		// counted is the part of this file already in TotalBytesCopied
		counted int64
		// claimed is set once the target path belongs to this copy
		claimed bool
		target  = dst
	)
	for {
		if err := e.setPhase(PhaseOpenSource); err != nil {
			return false, e.discard(target, claimed, err)
		}
		var r io.ReadCloser
		skipped, err := e.attempt("open", src, func() error {
			var err error
			r, err = e.req.Source.OpenFile(e.ctx, src)
			return err
		})
		if err != nil || skipped {
			return false, e.discard(target, claimed, err)
		}

		if err := e.setPhase(PhaseOpenTarget); err != nil {
			closeQuietly(r, e.log, src)
			return false, e.discard(target, claimed, err)
		}
		var w io.WriteCloser
		create := func(p string) error {
			var err error
			w, err = e.req.Target.CreateFile(e.ctx, p, client.CreateOptions{Exclusive: !claimed, Perm: perm})
			return err
		}
		if claimed {
			skipped, err = e.attempt("create", target, func() error { return create(target) })
		} else {
			target, err = e.claim(src, dst, create)
			skipped = target == ""
		}
		if err != nil || skipped {
			closeQuietly(r, e.log, src)
			return false, e.discard(target, claimed, err)
		}
		claimed = true
		e.info.TargetName = target

		if err := e.setPhase(PhaseCopying); err != nil {
			closeQuietly(r, e.log, src)
			closeQuietly(w, e.log, target)
			return false, e.discard(target, claimed, err)
		}
		serr := e.stream(r, w, &counted)
		closeQuietly(r, e.log, src)
		if werr := w.Close(); werr != nil && serr == nil {
			serr = backendError("write", target, werr)
		}
		if serr == nil && e.req.Options.Has(Verify) {
			serr = e.verify(src, target)
		}
		if serr == nil {
			break
		}
		if errors.Is(serr, ErrInterrupted) {
			return false, e.discard(target, claimed, serr)
		}

		switch e.onError(serr) {
		case ErrorRetry:
			e.log.Debug("retrying file", "source", src, "error", serr)
			continue
		case ErrorSkip:
			e.log.Debug("skipping file after error", "source", src, "error", serr)
			return false, e.discard(target, claimed, nil)
		default:
			return false, e.discard(target, claimed, e.fatal(serr))
		}
	}

	e.info.FileIndex++
	if err := e.setPhase(PhaseFileCompleted); err != nil {
		return false, err
	}
	return true, nil
}

// discard removes a partially written target owned by this copy and
// returns err.
func (e *engine) discard(target string, claimed bool, err error) error {
	if !claimed {
		return err
	}
	ctx := context.WithoutCancel(e.ctx)
	if derr := e.req.Target.DeleteFile(ctx, target); derr != nil && !client.IsNotExist(derr) {
		e.log.Warn("cannot remove partial target", "path", target, "error", derr)
	}
	return err
}

// stream copies r to w in blocks, updating the byte counters and checking
// for cancellation before every read.
func (e *engine) stream(r io.Reader, w io.Writer, counted *int64) error {
	buf := make([]byte, e.blockSize)
	var copied int64
	e.info.BytesCopied = 0
	for {
		if err := e.tick(); err != nil {
			return err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if err := e.throttle(n); err != nil {
				return err
			}
			wn, werr := w.Write(buf[:n])
			if werr == nil && wn < n {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				return e.fatal(backendError("write", e.info.TargetName, werr))
			}
			copied += int64(n)
			e.info.BytesCopied = copied
			if copied > e.info.FileSize {
				e.info.FileSize = copied
			}
			if copied > *counted {
				e.info.TotalBytesCopied += copied - *counted
				*counted = copied
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return e.fatal(backendError("read", e.info.SourceName, rerr))
		}
	}
}

// copySymlink recreates a link on the target. Backends without link
// support on either side leave the link out.
func (e *engine) copySymlink(src, dst string, info *client.FileInfo, remove bool) (bool, error) {
	e.setNames(src, dst, 0)
	_, sourceLinks := e.req.Source.(client.SymlinkClient)
	linker, targetLinks := e.req.Target.(client.SymlinkClient)
	if !sourceLinks || !targetLinks || info.LinkTarget == "" {
		e.log.Warn("skipping symlink", "path", src, "target", info.LinkTarget)
		return false, nil
	}

	if err := e.setPhase(PhaseOpenTarget); err != nil {
		return false, err
	}
	created, err := e.claim(src, dst, func(p string) error {
		return linker.CreateSymlink(e.ctx, info.LinkTarget, p)
	})
	if err != nil || created == "" {
		return false, err
	}
	e.info.FileIndex++
	if err := e.setPhase(PhaseFileCompleted); err != nil {
		return false, err
	}
	if !remove {
		return true, nil
	}
	return e.removeSource(src, false)
}

// claim creates the target entry with create, which must fail with
// client.ErrExist when the entry exists. Conflicts go through unique naming
// or the overwrite mode. It returns the path used, or "" when skipped.
func (e *engine) claim(src, dst string, create func(p string) error) (string, error) {
	for {
		if err := e.interrupted(); err != nil {
			return "", err
		}
		err := create(dst)
		if err == nil {
			return dst, nil
		}
		if !client.IsExist(err) {
			ferr := backendError("create", dst, err)
			switch e.onError(ferr) {
			case ErrorRetry:
				continue
			case ErrorSkip:
				return "", nil
			default:
				return "", e.fatal(ferr)
			}
		}

		if e.req.Options.Has(UseUniqueNames) {
			return e.duplicate(dst, create)
		}
		targets := newDirIndex(e.ctx, e.req.Target)
		if e.sameEntry(src, dst, nil, targets) {
			return "", fmt.Errorf("%s: source and target are the same entry: %w", dst, ErrFileExists)
		}
		res, err := e.conflict(dst)
		if err != nil {
			return "", err
		}
		if res == resolveSkip {
			e.log.Debug("skipping existing target", "path", dst)
			return "", nil
		}
		skipped, err := e.removeTarget(dst, targets)
		if err != nil || skipped {
			return "", err
		}
	}
}

// duplicate looks for a free alternative to dst, proposing UniqueName
// candidates to the handler.
func (e *engine) duplicate(dst string, create func(p string) error) (string, error) {
	dir, base := path.Split(dst)
	defer func() {
		e.info.Status = StatusOk
		e.info.DuplicateName = ""
		e.info.DuplicateCount = 0
	}()

	for count := 1; count <= maxDuplicateAttempts; count++ {
		if err := e.interrupted(); err != nil {
			return "", err
		}
		proposed := UniqueName(base, count)
		e.info.Status = StatusDuplicate
		e.info.DuplicateName = proposed
		e.info.DuplicateCount = count
		action := e.handler.Duplicate(e.snapshot())
		e.info.Status = StatusOk

		switch action.Decision {
		case DuplicateSkip:
			e.log.Debug("skipping duplicate", "path", dst)
			return "", nil
		case DuplicateAbort:
			return "", e.fatal(fmt.Errorf("%s: %w", dst, ErrFileExists))
		}

		name := path.Base(action.Name)
		if action.Name == "" {
			name = proposed
		}
		candidate := client.JoinPath(dir, name)
		e.info.TargetName = candidate

		// a failed create of the chosen name is retried with that name
		var exists bool
		skipped, err := e.attempt("create", candidate, func() error {
			err := create(candidate)
			if client.IsExist(err) {
				exists = true
				return nil
			}
			return err
		})
		if err != nil {
			return "", err
		}
		if skipped {
			return "", nil
		}
		if !exists {
			e.log.Debug("using unique name", "path", candidate)
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: no free name after %d attempts: %w", dst, maxDuplicateAttempts, ErrFileExists)
}

// removeSource deletes a source entry after it was copied. A directory
// that is not empty is kept.
func (e *engine) removeSource(src string, dir bool) (bool, error) {
	e.info.SourceName = src
	if err := e.setPhase(PhaseDeleteSource); err != nil {
		return false, err
	}
	kept := false
	skipped, err := e.attempt("delete", src, func() error {
		if !dir {
			return e.req.Source.DeleteFile(e.ctx, src)
		}
		err := e.req.Source.DeleteDirectory(e.ctx, src, false)
		if errors.Is(err, client.ErrNotEmpty) {
			kept = true
			return nil
		}
		return err
	})
	if err != nil {
		return false, err
	}
	if kept {
		e.log.Warn("keeping source directory, it is not empty", "path", src)
		return false, nil
	}
	return !skipped, nil
}

// newBandwidthLimiter caps aggregate throughput to bytesPerSec with a burst
// of at most 1 MiB.
func newBandwidthLimiter(bytesPerSec int64) *rate.Limiter {
	burst := 1 << 20
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// throttle waits until n bytes may pass the bandwidth limiter. Waits are
// split so that no single wait exceeds the burst.
func (e *engine) throttle(n int) error {
	if e.limiter == nil {
		return nil
	}
	burst := e.limiter.Burst()
	for n > 0 {
		chunk := min(n, burst)
		if err := e.limiter.WaitN(e.ctx, chunk); err != nil {
			return ErrInterrupted
		}
		n -= chunk
	}
	return nil
}
