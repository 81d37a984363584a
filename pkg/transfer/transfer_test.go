package transfer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"digital.vasic.vfs/pkg/client"
)

func TestTransfer_SingleFile(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/x.txt", "0123456789")
	mkdir(t, fs, "/dst")

	var rec recorder
	err := Transfer(context.Background(), &Request{
		Source:    fs,
		Target:    fs,
		SourceDir: "/src",
		TargetDir: "/dst",
		Items:     []Pair{{Source: "x.txt", Target: "x.txt"}},
		Handler:   rec.handler(),
	})
	require.NoError(t, err)

	last := rec.last()
	assert.Equal(t, PhaseCompleted, last.Phase)
	assert.Equal(t, int64(1), last.FilesTotal)
	assert.Equal(t, int64(10), last.BytesTotal)
	assert.Equal(t, int64(10), last.TotalBytesCopied)
	assert.Equal(t, int64(1), last.FileIndex)
	assert.Equal(t, "0123456789", read(t, fs, "/dst/x.txt"))
	assert.Equal(t, "0123456789", read(t, fs, "/src/x.txt"))
}

func TestTransfer_Phases(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/x.txt", "data")
	mkdir(t, fs, "/dst")

	var rec recorder
	require.NoError(t, Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:   []Pair{{Source: "x.txt", Target: "x.txt"}},
		Handler: rec.handler(),
	}))

	assert.Equal(t, []Phase{
		PhaseInitial, PhaseCollecting, PhaseReadyToGo,
		PhaseOpenSource, PhaseOpenTarget, PhaseCopying, PhaseFileCompleted,
		PhaseCompleted,
	}, rec.phases())
}

func TestTransfer_RenamesWithTargetNames(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/a.txt", "a")
	put(t, fs, "/src/b.txt", "b")
	mkdir(t, fs, "/dst")

	pairs, err := NewPairs([]string{"a.txt", "b.txt"}, []string{"one.txt", "two.txt"})
	require.NoError(t, err)

	require.NoError(t, Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst", Items: pairs,
	}))
	assert.Equal(t, "a", read(t, fs, "/dst/one.txt"))
	assert.Equal(t, "b", read(t, fs, "/dst/two.txt"))
	assert.False(t, exists(t, fs, "/dst/a.txt"))
}

func TestTransfer_DirectoryOverExistingFile(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/dir/a", "12345")
	put(t, fs, "/dst/dir", "occupied")

	var rec recorder
	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:         []Pair{{Source: "dir", Target: "dir"}},
		Options:       Recursive,
		OverwriteMode: OverwriteAbort,
		Handler:       rec.handler(),
	})
	require.ErrorIs(t, err, ErrFileExists)

	last := rec.last()
	assert.Equal(t, PhaseCompleted, last.Phase)
	assert.Equal(t, int64(0), last.TotalBytesCopied)
	assert.Equal(t, "occupied", read(t, fs, "/dst/dir"))
}

func TestTransfer_OverwriteSkip(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/a.txt", "new a")
	put(t, fs, "/src/b.txt", "new b")
	put(t, fs, "/dst/a.txt", "old a")

	var rec recorder
	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:         []Pair{{Source: "a.txt", Target: "a.txt"}, {Source: "b.txt", Target: "b.txt"}},
		OverwriteMode: OverwriteSkip,
		Handler:       rec.handler(),
	})
	require.NoError(t, err)

	assert.Equal(t, "old a", read(t, fs, "/dst/a.txt"))
	assert.Equal(t, "new b", read(t, fs, "/dst/b.txt"))

	last := rec.last()
	assert.Equal(t, int64(1), last.FilesTotal)
	assert.Equal(t, int64(5), last.BytesTotal)
	assert.Equal(t, int64(5), last.TotalBytesCopied)
}

func TestTransfer_OverwriteReplace(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/a.txt", "new")
	put(t, fs, "/src/tree/one.txt", "1")
	put(t, fs, "/dst/a.txt", "old")
	put(t, fs, "/dst/tree/stale.txt", "stale")

	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:         []Pair{{Source: "a.txt", Target: "a.txt"}, {Source: "tree", Target: "tree"}},
		Options:       Recursive,
		OverwriteMode: OverwriteReplace,
	})
	require.NoError(t, err)

	assert.Equal(t, "new", read(t, fs, "/dst/a.txt"))
	assert.Equal(t, "1", read(t, fs, "/dst/tree/one.txt"))
	assert.False(t, exists(t, fs, "/dst/tree/stale.txt"))
}

func TestTransfer_OverwriteQuery(t *testing.T) {
	tests := []struct {
		name    string
		answer  OverwriteAction
		want    string
		wantErr error
	}{
		{"replace all", OverwriteActionReplaceAll, "new", nil},
		{"skip all", OverwriteActionSkipAll, "old", nil},
		{"abort", OverwriteActionAbort, "old", ErrFileExists},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := newMemory(t, "fs")
			var items []Pair
			for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
				put(t, fs, "/src/"+name, "new")
				put(t, fs, "/dst/"+name, "old")
				items = append(items, Pair{Source: name, Target: name})
			}

			h := &mockHandler{}
			h.On("Overwrite", "/dst/a.txt").Return(tt.answer).Once()

			err := Transfer(context.Background(), &Request{
				Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
				Items:         items,
				OverwriteMode: OverwriteQuery,
				Handler:       h,
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			h.AssertExpectations(t)
			h.AssertNumberOfCalls(t, "Overwrite", 1)
			for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
				assert.Equal(t, tt.want, read(t, fs, "/dst/"+name))
			}
		})
	}
}

func TestTransfer_OverwriteQueryPerItem(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/a.txt", "new")
	put(t, fs, "/src/b.txt", "new")
	put(t, fs, "/dst/a.txt", "old")
	put(t, fs, "/dst/b.txt", "old")

	h := &mockHandler{}
	h.On("Overwrite", "/dst/a.txt").Return(OverwriteActionSkip).Once()
	h.On("Overwrite", "/dst/b.txt").Return(OverwriteActionReplace).Once()

	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:         []Pair{{Source: "a.txt", Target: "a.txt"}, {Source: "b.txt", Target: "b.txt"}},
		OverwriteMode: OverwriteQuery,
		Handler:       h,
	})
	require.NoError(t, err)
	h.AssertExpectations(t)

	assert.Equal(t, "old", read(t, fs, "/dst/a.txt"))
	assert.Equal(t, "new", read(t, fs, "/dst/b.txt"))
}

func TestTransfer_RecursiveTree(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/tree/a.txt", "abc")
	put(t, fs, "/src/tree/sub/b.txt", "defg")
	put(t, fs, "/src/tree/sub/deeper/c.txt", "hijkl")
	mkdir(t, fs, "/src/tree/empty")
	mkdir(t, fs, "/dst")

	var rec recorder
	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:     []Pair{{Source: "tree", Target: "tree"}},
		Options:   Recursive,
		Handler:   rec.handler(),
		BlockSize: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "abc", read(t, fs, "/dst/tree/a.txt"))
	assert.Equal(t, "defg", read(t, fs, "/dst/tree/sub/b.txt"))
	assert.Equal(t, "hijkl", read(t, fs, "/dst/tree/sub/deeper/c.txt"))
	info, err := fs.GetFileInfo(context.Background(), "/dst/tree/empty")
	require.NoError(t, err)
	assert.True(t, info.IsDir)

	last := rec.last()
	assert.Equal(t, int64(7), last.FilesTotal)
	assert.Equal(t, int64(4*DirectoryOverhead+12), last.BytesTotal)
	assert.Equal(t, int64(12), last.TotalBytesCopied)
	assert.Equal(t, int64(7), last.FileIndex)
}

func TestTransfer_ProgressInvariants(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/tree/a.txt", strings.Repeat("a", 100))
	put(t, fs, "/src/tree/b.txt", strings.Repeat("b", 37))
	mkdir(t, fs, "/dst")

	var rec recorder
	require.NoError(t, Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:            []Pair{{Source: "tree", Target: "tree"}},
		Options:          Recursive,
		Handler:          rec.handler(),
		BlockSize:        8,
		ProgressInterval: time.Nanosecond,
	}))

	var total int64
	for _, info := range rec.infos {
		assert.LessOrEqual(t, info.BytesCopied, info.FileSize)
		assert.GreaterOrEqual(t, info.TotalBytesCopied, total)
		total = info.TotalBytesCopied
	}
	assert.Equal(t, int64(137), total)
}

func TestTransfer_DirectoryNotRecursive(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/dir/a.txt", "a")
	mkdir(t, fs, "/dst")

	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items: []Pair{{Source: "dir", Target: "dir"}},
	})
	require.ErrorIs(t, err, ErrIsDirectory)
	assert.False(t, exists(t, fs, "/dst/dir"))
}

func TestTransfer_DirectoryNotRecursive_Skip(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/dir/a.txt", "a")
	put(t, fs, "/src/b.txt", "b")
	mkdir(t, fs, "/dst")

	h := &mockHandler{}
	h.On("Error", "/src/dir", mock.MatchedBy(func(err error) bool {
		return errors.Is(err, ErrIsDirectory)
	})).Return(ErrorSkip).Once()

	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:     []Pair{{Source: "dir", Target: "dir"}, {Source: "b.txt", Target: "b.txt"}},
		ErrorMode: ErrorModeQuery,
		Handler:   h,
	})
	require.NoError(t, err)
	h.AssertExpectations(t)
	assert.False(t, exists(t, fs, "/dst/dir"))
	assert.Equal(t, "b", read(t, fs, "/dst/b.txt"))
}

func TestTransfer_TargetNotADirectory(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/a.txt", "a")
	put(t, fs, "/dst", "file")

	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items: []Pair{{Source: "a.txt", Target: "a.txt"}},
	})
	assert.ErrorIs(t, err, ErrNotADirectory)
}

func TestTransfer_MissingSource(t *testing.T) {
	fs := newMemory(t, "fs")
	mkdir(t, fs, "/src")
	mkdir(t, fs, "/dst")

	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items: []Pair{{Source: "nope.txt", Target: "nope.txt"}},
	})
	require.Error(t, err)
	var be *BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "stat", be.Op)
	assert.True(t, client.IsNotExist(err))
}

func TestTransfer_CopyIntoItself(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/tree/a.txt", "a")

	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/src/tree",
		Items:   []Pair{{Source: "tree", Target: "tree"}},
		Options: Recursive,
	})
	require.ErrorIs(t, err, ErrLoop)
	assert.False(t, exists(t, fs, "/src/tree/tree"))
}

func TestTransfer_SameEntryWithoutUniqueNames(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/a.txt", "keep me")

	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/src",
		Items:         []Pair{{Source: "a.txt", Target: "a.txt"}},
		OverwriteMode: OverwriteReplace,
	})
	require.ErrorIs(t, err, ErrFileExists)
	assert.Equal(t, "keep me", read(t, fs, "/src/a.txt"))
}

func TestTransfer_Exclude(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/tree/a.txt", "a")
	put(t, fs, "/src/tree/b.log", "b")
	put(t, fs, "/src/tree/sub/c.log", "c")
	put(t, fs, "/src/tree/sub/d.txt", "d")
	put(t, fs, "/src/tree/cache/e.txt", "e")
	put(t, fs, "/src/top.log", "top")
	mkdir(t, fs, "/dst")

	var rec recorder
	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:   []Pair{{Source: "tree", Target: "tree"}, {Source: "top.log", Target: "top.log"}},
		Options: Recursive,
		Exclude: []string{"*.log", "tree/cache"},
		Handler: rec.handler(),
	})
	require.NoError(t, err)

	assert.True(t, exists(t, fs, "/dst/tree/a.txt"))
	assert.True(t, exists(t, fs, "/dst/tree/sub/d.txt"))
	assert.False(t, exists(t, fs, "/dst/tree/b.log"))
	assert.False(t, exists(t, fs, "/dst/tree/sub/c.log"))
	assert.False(t, exists(t, fs, "/dst/tree/cache"))
	assert.False(t, exists(t, fs, "/dst/top.log"))

	// tree, tree/sub, a.txt and sub/d.txt
	assert.Equal(t, int64(4), rec.last().FilesTotal)
}

func TestTransfer_InvalidExclude(t *testing.T) {
	fs := newMemory(t, "fs")
	err := Transfer(context.Background(), &Request{
		Source: fs, Target: fs, Items: []Pair{{Source: "a", Target: "a"}},
		Exclude: []string{"[unterminated"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid exclude pattern")
}

func TestTransfer_Validate(t *testing.T) {
	fs := newMemory(t, "fs")
	assert.Error(t, Transfer(context.Background(), &Request{Source: fs}))
	assert.Error(t, Transfer(context.Background(), &Request{
		Source: fs, Target: fs, Items: []Pair{{Source: "a", Target: ""}},
	}))
	assert.Error(t, Transfer(context.Background(), &Request{
		Source: fs, Target: fs, BandwidthLimit: -1,
	}))
}

func TestTransfer_NoItems(t *testing.T) {
	fs := newMemory(t, "fs")
	var rec recorder
	require.NoError(t, Transfer(context.Background(), &Request{
		Source: fs, Target: fs, Handler: rec.handler(),
	}))
	assert.Equal(t, PhaseCompleted, rec.last().Phase)
}

func TestTransfer_BandwidthLimit(t *testing.T) {
	fs := newMemory(t, "fs")
	put(t, fs, "/src/a.txt", strings.Repeat("x", 2048))
	mkdir(t, fs, "/dst")

	require.NoError(t, Transfer(context.Background(), &Request{
		Source: fs, Target: fs, SourceDir: "/src", TargetDir: "/dst",
		Items:          []Pair{{Source: "a.txt", Target: "a.txt"}},
		BandwidthLimit: 1 << 20,
		BlockSize:      512,
	}))
	assert.Equal(t, 2048, len(read(t, fs, "/dst/a.txt")))
}

func TestTransfer_CrossBackend(t *testing.T) {
	src := newMemory(t, "src")
	dst := newMemory(t, "dst")
	put(t, src, "/tree/a.txt", "alpha")
	put(t, src, "/tree/sub/b.txt", "beta")

	require.NoError(t, Transfer(context.Background(), &Request{
		Source: src, Target: dst, SourceDir: "/", TargetDir: "/",
		Items:   []Pair{{Source: "tree", Target: "copied"}},
		Options: Recursive | Verify,
	}))
	assert.Equal(t, "alpha", read(t, dst, "/copied/a.txt"))
	assert.Equal(t, "beta", read(t, dst, "/copied/sub/b.txt"))
	assert.True(t, exists(t, src, "/tree/a.txt"))
}
