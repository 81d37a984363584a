// Package transfer copies and moves files between filesystem clients.
//
// A transfer walks a list of items below a source directory and reproduces
// them below a target directory. Name conflicts, backend failures and
// duplicate names are resolved through a Handler, which also receives
// progress. Moves on one filesystem are atomic renames; everything else is
// copied block by block, followed by a delete of the source for moves.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"digital.vasic.vfs/pkg/client"
)

// item is one request pair together with what the preflight learned about it.
type item struct {
	Pair
	src  string
	dst  string
	info *client.FileInfo
	// files and bytes are the preflight totals for this item; data is the
	// file content share of bytes.
	files int64
	bytes int64
	data  int64
}

type engine struct {
	ctx     context.Context
	req     *Request
	log     *slog.Logger
	handler Handler

	info      ProgressInfo
	overwrite OverwriteMode
	moving    bool
	blockSize int
	filter    *filter
	limiter   *rate.Limiter
	ticks     *rate.Sometimes
}

// Transfer runs req to completion on the calling goroutine. Cancelling ctx
// stops the transfer at the next progress point with ErrInterrupted.
func Transfer(ctx context.Context, req *Request) (err error) {
	if err := req.validate(); err != nil {
		return err
	}
	e, err := newEngine(ctx, req)
	if err != nil {
		return err
	}

	started := time.Now()
	e.log.Info("transfer started",
		"source", req.Source.GetProtocol(), "source_dir", req.SourceDir,
		"target", req.Target.GetProtocol(), "target_dir", req.TargetDir,
		"items", len(req.Items), "options", fmt.Sprintf("%#x", uint(req.Options)))
	defer func() {
		e.finish()
		attrs := []any{
			"files", e.info.FileIndex, "bytes", e.info.TotalBytesCopied,
			"elapsed", time.Since(started).Round(time.Millisecond),
		}
		if err != nil {
			e.log.Warn("transfer failed", append(attrs, "error", err)...)
			return
		}
		e.log.Info("transfer finished", attrs...)
	}()

	return e.run()
}

func newEngine(ctx context.Context, req *Request) (*engine, error) {
	f, err := newFilter(req.Exclude)
	if err != nil {
		return nil, err
	}
	logger := req.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	handler := req.Handler
	if handler == nil {
		handler = HandlerFuncs{}
	}
	interval := req.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	e := &engine{
		ctx:       ctx,
		req:       req,
		log:       logger,
		handler:   handler,
		overwrite: req.OverwriteMode,
		blockSize: blockSizeFor(req),
		filter:    f,
		ticks:     &rate.Sometimes{Interval: interval},
	}
	if req.BandwidthLimit > 0 {
		e.limiter = newBandwidthLimiter(req.BandwidthLimit)
	}
	return e, nil
}

func blockSizeFor(req *Request) int {
	if req.BlockSize > 0 {
		return req.BlockSize
	}
	if bs, ok := req.Source.(client.BlockSizer); ok && bs.BlockSize() > 0 {
		return bs.BlockSize()
	}
	return DefaultBlockSize
}

// run sequences the request: decide move or copy, count, resolve conflicts,
// then process every remaining item in order.
func (e *engine) run() error {
	if err := e.setPhase(PhaseInitial); err != nil {
		return err
	}

	if err := e.checkTargetDir(); err != nil {
		return err
	}
	moving, err := e.decideMove()
	if err != nil {
		return err
	}
	e.moving = moving

	items, err := e.prepareItems()
	if err != nil {
		return err
	}

	if err := e.setPhase(PhaseCollecting); err != nil {
		return err
	}
	items, err = e.collect(items)
	if err != nil {
		return err
	}

	if !e.req.Options.Has(UseUniqueNames) {
		items, err = e.resolveConflicts(items)
		if err != nil {
			return err
		}
	}

	if err := e.setPhase(PhaseReadyToGo); err != nil {
		return err
	}

	for _, it := range items {
		if e.moving {
			err = e.moveItem(it)
		} else {
			_, err = e.copyItem(it)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// finish emits PhaseCompleted whatever the outcome. The answer is ignored.
func (e *engine) finish() {
	e.info.Phase = PhaseCompleted
	e.info.Status = StatusOk
	e.info.DuplicateName = ""
	e.info.DuplicateCount = 0
	snapshot := e.info
	e.handler.Progress(&snapshot)
}

func (e *engine) checkTargetDir() error {
	info, err := e.req.Target.GetFileInfo(e.ctx, e.req.TargetDir)
	if err != nil {
		if e.ctx.Err() != nil {
			return ErrInterrupted
		}
		return backendError("stat", e.req.TargetDir, err)
	}
	if !info.IsDir {
		return fmt.Errorf("target %s: %w", e.req.TargetDir, ErrNotADirectory)
	}
	return nil
}

// decideMove reports whether items can be renamed in place. A rename needs
// move semantics, no unique names, and both sides on one filesystem of one
// client.
func (e *engine) decideMove() (bool, error) {
	opts := e.req.Options
	if !opts.Has(RemoveSource) || opts.Has(UseUniqueNames) {
		if opts.Has(RemoveSource) && opts.Has(SameFilesystemOnly) {
			return false, ErrNotSameFilesystem
		}
		return false, nil
	}

	same := e.req.Source == e.req.Target
	if same {
		var err error
		same, err = e.req.Source.SameFilesystem(e.ctx, e.req.SourceDir, e.req.TargetDir)
		if err != nil {
			if e.ctx.Err() != nil {
				return false, ErrInterrupted
			}
			e.log.Warn("same filesystem check failed, copying instead", "error", err)
			same = false
		}
	}
	if !same && opts.Has(SameFilesystemOnly) {
		return false, ErrNotSameFilesystem
	}
	e.log.Debug("transfer mode decided", "move", same)
	return same, nil
}

// prepareItems builds the work list, drops excluded items, and rejects
// items that would be copied into themselves.
func (e *engine) prepareItems() ([]*item, error) {
	items := make([]*item, 0, len(e.req.Items))
	sameClient := e.req.Source == e.req.Target
	for _, p := range e.req.Items {
		it := &item{
			Pair: p,
			src:  client.JoinPath(e.req.SourceDir, p.Source),
			dst:  client.JoinPath(e.req.TargetDir, p.Target),
		}
		if e.filter.excluded(p.Source) {
			e.log.Debug("excluded", "path", it.src)
			continue
		}
		if sameClient {
			src, dst := cleanPath(it.src), cleanPath(it.dst)
			if src == dst && e.moving {
				e.log.Debug("source and target are the same, nothing to move", "path", it.src)
				continue
			}
			if strings.HasPrefix(dst, strings.TrimSuffix(src, "/")+"/") {
				return nil, fmt.Errorf("cannot transfer %s into itself (%s): %w", it.src, it.dst, ErrLoop)
			}
		}
		items = append(items, it)
	}
	return items, nil
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}

// sameEntry reports whether dst on the target is the entry src on the
// source. Two clients can reach one storage, so beyond a path match on a
// shared client the entry ids decide. srcInfo may be nil.
func (e *engine) sameEntry(src, dst string, srcInfo *client.FileInfo, targets *dirIndex) bool {
	if e.req.Source == e.req.Target && cleanPath(src) == cleanPath(dst) {
		return true
	}
	if e.req.Source.GetProtocol() != e.req.Target.GetProtocol() {
		return false
	}
	if srcInfo == nil {
		var err error
		if srcInfo, err = newDirIndex(e.ctx, e.req.Source).lstat(src); err != nil {
			return false
		}
	}
	if srcInfo.ID == "" {
		return false
	}
	dstInfo, err := targets.lstat(dst)
	if err != nil {
		return false
	}
	return dstInfo.ID == srcInfo.ID
}

// snapshot returns a copy of the progress record for a handler call.
func (e *engine) snapshot() *ProgressInfo {
	s := e.info
	return &s
}

// interrupted returns ErrInterrupted once the context is done.
func (e *engine) interrupted() error {
	if e.ctx.Err() != nil {
		return ErrInterrupted
	}
	return nil
}

// tick delivers a throttled progress update and checks for cancellation.
func (e *engine) tick() error {
	if err := e.interrupted(); err != nil {
		return err
	}
	action := TickContinue
	e.ticks.Do(func() {
		action = e.handler.Progress(e.snapshot())
	})
	if action == TickAbort {
		return ErrInterrupted
	}
	return nil
}

// notify delivers a progress update immediately.
func (e *engine) notify() error {
	if err := e.interrupted(); err != nil {
		return err
	}
	if e.handler.Progress(e.snapshot()) == TickAbort {
		return ErrInterrupted
	}
	return nil
}

func (e *engine) setPhase(p Phase) error {
	e.info.Phase = p
	return e.notify()
}

// setNames starts work on a new entry.
func (e *engine) setNames(src, dst string, size int64) {
	e.info.SourceName = src
	e.info.TargetName = dst
	e.info.FileSize = size
	e.info.BytesCopied = 0
}

// dirIndex answers lstat queries from one listing per parent directory,
// so sibling items cost a single ListDirectory. The client interface only
// exposes link-aware metadata through listings.
type dirIndex struct {
	ctx  context.Context
	c    client.Client
	dirs map[string]map[string]*client.FileInfo
}

func newDirIndex(ctx context.Context, c client.Client) *dirIndex {
	return &dirIndex{ctx: ctx, c: c, dirs: make(map[string]map[string]*client.FileInfo)}
}

// lstat returns the entry for p without following a final symlink. A name
// missing from a cached listing lists the parent again, so a retry sees
// entries that appeared since.
func (d *dirIndex) lstat(p string) (*client.FileInfo, error) {
	if cleanPath(p) == "/" {
		return d.c.GetFileInfo(d.ctx, p)
	}
	parent, name := splitParent(p)
	entries, cached := d.dirs[parent]
	if cached {
		if entry, ok := entries[name]; ok {
			return entry, nil
		}
	}

	list, err := d.c.ListDirectory(d.ctx, parent)
	if err != nil {
		delete(d.dirs, parent)
		if client.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", p, client.ErrNotExist)
		}
		return nil, err
	}
	entries = make(map[string]*client.FileInfo, len(list))
	for _, entry := range list {
		entries[entry.Name] = entry
	}
	d.dirs[parent] = entries
	if entry, ok := entries[name]; ok {
		return entry, nil
	}
	return nil, fmt.Errorf("%s: %w", p, client.ErrNotExist)
}

// forget drops p from the cached listing after it was removed.
func (d *dirIndex) forget(p string) {
	parent, name := splitParent(p)
	delete(d.dirs[parent], name)
}

func splitParent(p string) (string, string) {
	parent, name := path.Split(strings.TrimSuffix(p, "/"))
	if parent == "" {
		parent = "."
	}
	return parent, name
}

func closeQuietly(c io.Closer, log *slog.Logger, what string) {
	if err := c.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Debug("close failed", "handle", what, "error", err)
	}
}
