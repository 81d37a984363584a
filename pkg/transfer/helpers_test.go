package transfer

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"digital.vasic.vfs/pkg/client"
	"digital.vasic.vfs/pkg/memory"
)

func newMemory(t *testing.T, name string) *memory.Client {
	t.Helper()
	c := memory.NewMemoryClient(&memory.Config{Name: name})
	require.NoError(t, c.Connect(context.Background()))
	return c
}

func put(t *testing.T, c *memory.Client, name, content string) {
	t.Helper()
	require.NoError(t, c.WriteFile(context.Background(), name, strings.NewReader(content)))
}

func mkdir(t *testing.T, c *memory.Client, name string) {
	t.Helper()
	require.NoError(t, c.MkdirAll(context.Background(), name))
}

func read(t *testing.T, c client.Client, name string) string {
	t.Helper()
	r, err := c.OpenFile(context.Background(), name)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func exists(t *testing.T, c client.Client, name string) bool {
	t.Helper()
	ok, err := c.FileExists(context.Background(), name)
	require.NoError(t, err)
	return ok
}

// recorder keeps every progress snapshot it receives.
type recorder struct {
	mu    sync.Mutex
	infos []ProgressInfo
}

func (r *recorder) handler() HandlerFuncs {
	return HandlerFuncs{ProgressFunc: r.progress}
}

func (r *recorder) progress(info *ProgressInfo) TickAction {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, *info)
	return TickContinue
}

func (r *recorder) last() ProgressInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.infos) == 0 {
		return ProgressInfo{}
	}
	return r.infos[len(r.infos)-1]
}

// phases returns the recorded phases with consecutive repeats collapsed.
func (r *recorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Phase
	for _, info := range r.infos {
		if len(out) == 0 || out[len(out)-1] != info.Phase {
			out = append(out, info.Phase)
		}
	}
	return out
}

// mockHandler answers queries from testify expectations. Ticks always continue.
type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) Progress(info *ProgressInfo) TickAction {
	return TickContinue
}

func (m *mockHandler) Error(info *ProgressInfo, err error) ErrorAction {
	args := m.Called(info.SourceName, err)
	return args.Get(0).(ErrorAction)
}

func (m *mockHandler) Overwrite(info *ProgressInfo) OverwriteAction {
	args := m.Called(info.TargetName)
	return args.Get(0).(OverwriteAction)
}

func (m *mockHandler) Duplicate(info *ProgressInfo) DuplicateAction {
	args := m.Called(info.DuplicateName, info.DuplicateCount)
	return args.Get(0).(DuplicateAction)
}

// countingClient counts the data and rename operations reaching a client.
// It hides optional capabilities of the wrapped client.
type countingClient struct {
	client.Client
	mu      sync.Mutex
	opens   int
	creates int
	moves   int
}

func (c *countingClient) OpenFile(ctx context.Context, path string) (io.ReadCloser, error) {
	c.mu.Lock()
	c.opens++
	c.mu.Unlock()
	return c.Client.OpenFile(ctx, path)
}

func (c *countingClient) CreateFile(ctx context.Context, path string, opts client.CreateOptions) (io.WriteCloser, error) {
	c.mu.Lock()
	c.creates++
	c.mu.Unlock()
	return c.Client.CreateFile(ctx, path, opts)
}

func (c *countingClient) Move(ctx context.Context, srcPath, dstPath string, overwrite bool) error {
	c.mu.Lock()
	c.moves++
	c.mu.Unlock()
	return c.Client.Move(ctx, srcPath, dstPath, overwrite)
}

var errFlaky = errors.New("connection reset by peer")

// flakyClient fails operations on selected paths a number of times.
type flakyClient struct {
	client.Client
	// openFailures counts the OpenFile failures left per path; -1 fails forever
	openFailures map[string]int
	// readFailures makes the returned reader fail after the first block
	readFailures map[string]int
}

func (c *flakyClient) OpenFile(ctx context.Context, path string) (io.ReadCloser, error) {
	if n := c.openFailures[path]; n != 0 {
		if n > 0 {
			c.openFailures[path] = n - 1
		}
		return nil, errFlaky
	}
	r, err := c.Client.OpenFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if n := c.readFailures[path]; n > 0 {
		c.readFailures[path] = n - 1
		return &brokenReader{ReadCloser: r, budget: 4}, nil
	}
	return r, nil
}

// brokenReader returns budget bytes and then fails.
type brokenReader struct {
	io.ReadCloser
	budget int
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if r.budget <= 0 {
		return 0, errFlaky
	}
	if len(p) > r.budget {
		p = p[:r.budget]
	}
	n, err := r.ReadCloser.Read(p)
	r.budget -= n
	return n, err
}

// corruptingClient flips the first byte of everything written through it.
type corruptingClient struct {
	client.Client
}

func (c *corruptingClient) CreateFile(ctx context.Context, path string, opts client.CreateOptions) (io.WriteCloser, error) {
	w, err := c.Client.CreateFile(ctx, path, opts)
	if err != nil {
		return nil, err
	}
	return &corruptingWriter{WriteCloser: w}, nil
}

type corruptingWriter struct {
	io.WriteCloser
	done bool
}

func (w *corruptingWriter) Write(p []byte) (int, error) {
	if !w.done && len(p) > 0 {
		w.done = true
		flipped := append([]byte(nil), p...)
		flipped[0] ^= 0xff
		return w.WriteCloser.Write(flipped)
	}
	return w.WriteCloser.Write(p)
}
