package transfer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransfer_CancelledContext(t *testing.T) {
	src := newMemory(t, "src")
	dst := newMemory(t, "dst")
	put(t, src, "/a.txt", "alpha")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var rec recorder
	err := Transfer(ctx, &Request{
		Source: src, Target: dst, SourceDir: "/", TargetDir: "/",
		Items:   []Pair{{Source: "a.txt", Target: "a.txt"}},
		Handler: rec.handler(),
	})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, PhaseCompleted, rec.last().Phase)
	assert.False(t, exists(t, dst, "/a.txt"))
}

func TestTransfer_TickAbortRemovesPartialTarget(t *testing.T) {
	src := newMemory(t, "src")
	dst := newMemory(t, "dst")
	put(t, src, "/a.txt", "0123456789")

	var phases []Phase
	handler := HandlerFuncs{
		ProgressFunc: func(info *ProgressInfo) TickAction {
			phases = append(phases, info.Phase)
			if info.Phase == PhaseCopying && info.BytesCopied > 0 {
				return TickAbort
			}
			return TickContinue
		},
	}

	err := Transfer(context.Background(), &Request{
		Source: src, Target: dst, SourceDir: "/", TargetDir: "/",
		Items:            []Pair{{Source: "a.txt", Target: "a.txt"}},
		Handler:          handler,
		BlockSize:        2,
		ProgressInterval: time.Nanosecond,
	})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.False(t, exists(t, dst, "/a.txt"))
	assert.Equal(t, PhaseCompleted, phases[len(phases)-1])
}

func TestTransfer_AbortAtCopyingPhase(t *testing.T) {
	src := newMemory(t, "src")
	dst := newMemory(t, "dst")
	put(t, src, "/a.txt", "alpha")

	handler := HandlerFuncs{
		ProgressFunc: func(info *ProgressInfo) TickAction {
			if info.Phase == PhaseCopying {
				return TickAbort
			}
			return TickContinue
		},
	}
	err := Transfer(context.Background(), &Request{
		Source: src, Target: dst, SourceDir: "/", TargetDir: "/",
		Items:   []Pair{{Source: "a.txt", Target: "a.txt"}},
		Handler: handler,
	})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.False(t, exists(t, dst, "/a.txt"))
}

func TestStart(t *testing.T) {
	src := newMemory(t, "src")
	dst := newMemory(t, "dst")
	put(t, src, "/a.txt", "alpha")

	job := Start(context.Background(), &Request{
		Source: src, Target: dst, SourceDir: "/", TargetDir: "/",
		Items: []Pair{{Source: "a.txt", Target: "a.txt"}},
	})
	_, err := uuid.Parse(job.ID())
	require.NoError(t, err)

	require.NoError(t, job.Wait())
	select {
	case <-job.Done():
	default:
		t.Fatal("Done not closed after Wait")
	}
	assert.Equal(t, "alpha", read(t, dst, "/a.txt"))
}

func TestStart_Cancel(t *testing.T) {
	src := newMemory(t, "src")
	dst := newMemory(t, "dst")
	put(t, src, "/a.txt", "alpha")

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	handler := HandlerFuncs{
		ProgressFunc: func(info *ProgressInfo) TickAction {
			if info.Phase == PhaseInitial {
				once.Do(func() { close(started) })
				<-release
			}
			return TickContinue
		},
	}

	job := Start(context.Background(), &Request{
		Source: src, Target: dst, SourceDir: "/", TargetDir: "/",
		Items:   []Pair{{Source: "a.txt", Target: "a.txt"}},
		Handler: handler,
	})
	<-started
	job.Cancel()
	close(release)

	require.ErrorIs(t, job.Wait(), ErrInterrupted)
	assert.False(t, exists(t, dst, "/a.txt"))
}

func TestStart_DistinctIDs(t *testing.T) {
	src := newMemory(t, "src")
	req := &Request{Source: src, Target: src, SourceDir: "/", TargetDir: "/"}

	a := Start(context.Background(), req)
	b := Start(context.Background(), req)
	require.NoError(t, a.Wait())
	require.NoError(t, b.Wait())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestTransfer_AbortDuringCollecting(t *testing.T) {
	src := newMemory(t, "src")
	dst := newMemory(t, "dst")
	dir := "/tree"
	for i := 0; i < 20; i++ {
		dir += "/d"
		put(t, src, dir+"/f.txt", "data")
	}

	var (
		phases     []Phase
		collecting int
	)
	handler := HandlerFuncs{
		ProgressFunc: func(info *ProgressInfo) TickAction {
			phases = append(phases, info.Phase)
			if info.Phase == PhaseCollecting {
				collecting++
				if collecting == 5 {
					return TickAbort
				}
			}
			return TickContinue
		},
	}

	err := Transfer(context.Background(), &Request{
		Source: src, Target: dst, SourceDir: "/", TargetDir: "/",
		Items:            []Pair{{Source: "tree", Target: "tree"}},
		Options:          Recursive,
		Handler:          handler,
		ProgressInterval: time.Nanosecond,
	})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.Equal(t, 5, collecting)
	assert.Equal(t, PhaseCompleted, phases[len(phases)-1])
	assert.NotContains(t, phases, PhaseReadyToGo)
	assert.False(t, exists(t, dst, "/tree"))
}
