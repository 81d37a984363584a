// Package memory implements an in-memory filesystem client. It is used for
// tests and for scratch transfers addressed with the memory:// scheme.
package memory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"digital.vasic.vfs/pkg/client"
)

// maxSymlinkHops bounds symlink resolution, like ELOOP on POSIX systems.
const maxSymlinkHops = 40

var errTooManyLinks = errors.New("too many levels of symbolic links")

// instances numbers filesystems so node ids never repeat across clients.
var instances atomic.Int64

// Config contains memory filesystem configuration.
type Config struct {
	Name string `json:"name"`
}

type node struct {
	id      int64
	dir     bool
	data    []byte
	mode    os.FileMode
	modTime time.Time
	link    string
}

// Client implements client.Client on top of a map of nodes keyed by
// rooted, cleaned paths.
type Client struct {
	config    *Config
	instance  int64
	mu        sync.RWMutex
	nodes     map[string]*node
	nextID    int64
	connected bool
}

// NewMemoryClient creates a new, empty in-memory filesystem.
func NewMemoryClient(config *Config) *Client {
	c := &Client{
		config:   config,
		instance: instances.Add(1),
		nodes:    make(map[string]*node),
	}
	c.nodes["/"] = c.newNode(true, 0755)
	return c
}

func (c *Client) newNode(dir bool, perm os.FileMode) *node {
	c.nextID++
	mode := perm
	if dir {
		mode |= os.ModeDir
	}
	return &node{id: c.nextID, dir: dir, mode: mode, modTime: time.Now()}
}

// Connect marks the client as connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	return nil
}

// Disconnect marks the client as disconnected. Contents are kept.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// TestConnection tests the connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	return nil
}

func rooted(name string) string {
	return path.Clean("/" + name)
}

func splitPath(name string) []string {
	var parts []string
	for _, p := range strings.Split(name, "/") {
		if p != "" && p != "." {
			parts = append(parts, p)
		}
	}
	return parts
}

// resolve walks name component by component, following symlinks in every
// intermediate component and in the last one when followLast is set.
// Callers must hold c.mu.
func (c *Client) resolve(name string, followLast bool) (string, *node, error) {
	pending := splitPath(name)
	cur := "/"
	hops := 0
	for len(pending) > 0 {
		part := pending[0]
		pending = pending[1:]
		next := path.Join(cur, part)
		n, ok := c.nodes[next]
		if !ok {
			return next, nil, os.ErrNotExist
		}
		if n.link != "" && (len(pending) > 0 || followLast) {
			hops++
			if hops > maxSymlinkHops {
				return "", nil, errTooManyLinks
			}
			if strings.HasPrefix(n.link, "/") {
				cur = "/"
			}
			pending = append(splitPath(n.link), pending...)
			continue
		}
		if len(pending) > 0 && !n.dir {
			return "", nil, client.ErrNotDir
		}
		cur = next
	}
	return cur, c.nodes[cur], nil
}

// resolveParent resolves the directory that would contain name and returns
// the key name would have inside it.
func (c *Client) resolveParent(name string) (string, error) {
	clean := rooted(name)
	if clean == "/" {
		return "", client.ErrExist
	}
	dirKey, dir, err := c.resolve(path.Dir(clean), true)
	if err != nil {
		return "", err
	}
	if !dir.dir {
		return "", client.ErrNotDir
	}
	return path.Join(dirKey, path.Base(clean)), nil
}

func (c *Client) info(key, display string, n *node) *client.FileInfo {
	name := path.Base(key)
	if key == "/" {
		name = "/"
	}
	return &client.FileInfo{
		Name:       name,
		Size:       int64(len(n.data)),
		ModTime:    n.modTime,
		IsDir:      n.dir,
		IsSymlink:  n.link != "",
		Mode:       n.mode,
		Path:       display,
		LinkTarget: n.link,
		ID:         fmt.Sprintf("mem:%d:%d", c.instance, n.id),
	}
}

// OpenFile opens a file for reading. The reader sees a snapshot of the content.
func (c *Client) OpenFile(ctx context.Context, name string) (io.ReadCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, n, err := c.resolve(name, true)
	if err != nil {
		return nil, fmt.Errorf("failed to open memory file %s: %w", name, err)
	}
	if n.dir {
		return nil, fmt.Errorf("failed to open memory file %s: is a directory", name)
	}
	data := make([]byte, len(n.data))
	copy(data, n.data)
	return io.NopCloser(bytes.NewReader(data)), nil
}

// CreateFile creates or truncates a file and returns a writer appending to it.
func (c *Client) CreateFile(ctx context.Context, name string, opts client.CreateOptions) (io.WriteCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key, err := c.resolveParent(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory file %s: %w", name, err)
	}
	if existing, ok := c.nodes[key]; ok {
		if opts.Exclusive {
			return nil, fmt.Errorf("failed to create memory file %s: %w", name, client.ErrExist)
		}
		if existing.dir {
			return nil, fmt.Errorf("failed to create memory file %s: is a directory", name)
		}
		existing.data = nil
		existing.modTime = time.Now()
		return &writer{c: c, n: existing}, nil
	}

	perm := opts.Perm
	if perm == 0 {
		perm = 0644
	}
	n := c.newNode(false, perm)
	c.nodes[key] = n
	return &writer{c: c, n: n}, nil
}

type writer struct {
	c      *Client
	n      *node
	closed bool
}

func (w *writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, os.ErrClosed
	}
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.n.data = append(w.n.data, p...)
	w.n.modTime = time.Now()
	return len(p), nil
}

func (w *writer) Close() error {
	if w.closed {
		return os.ErrClosed
	}
	w.closed = true
	return nil
}

// GetFileInfo gets information about a file, following symbolic links.
func (c *Client) GetFileInfo(ctx context.Context, name string) (*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, n, err := c.resolve(name, true)
	if err != nil {
		return nil, fmt.Errorf("failed to stat memory file %s: %w", name, err)
	}
	info := c.info(key, name, n)
	info.Name = path.Base(rooted(name))
	return info, nil
}

// ListDirectory lists the entries of a directory sorted by name.
func (c *Client) ListDirectory(ctx context.Context, name string) ([]*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	key, n, err := c.resolve(name, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list memory directory %s: %w", name, err)
	}
	if !n.dir {
		return nil, fmt.Errorf("failed to list memory directory %s: %w", name, client.ErrNotDir)
	}

	var files []*client.FileInfo
	for childKey, child := range c.nodes {
		if childKey == "/" || path.Dir(childKey) != key {
			continue
		}
		files = append(files, c.info(childKey, client.JoinPath(name, path.Base(childKey)), child))
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// FileExists checks if an entry exists without following a final symlink.
func (c *Client) FileExists(ctx context.Context, name string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, _, err := c.resolve(name, false)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check memory file existence %s: %w", name, err)
	}
	return true, nil
}

// CreateDirectory creates a single directory.
func (c *Client) CreateDirectory(ctx context.Context, name string, perm os.FileMode) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key, err := c.resolveParent(name)
	if err != nil {
		return fmt.Errorf("failed to create memory directory %s: %w", name, err)
	}
	if _, ok := c.nodes[key]; ok {
		return fmt.Errorf("failed to create memory directory %s: %w", name, client.ErrExist)
	}
	if perm == 0 {
		perm = 0755
	}
	c.nodes[key] = c.newNode(true, perm)
	return nil
}

// DeleteDirectory deletes a directory, with its contents when recursive is set.
func (c *Client) DeleteDirectory(ctx context.Context, name string, recursive bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key, n, err := c.resolve(name, false)
	if err != nil {
		return fmt.Errorf("failed to delete memory directory %s: %w", name, err)
	}
	if !n.dir {
		return fmt.Errorf("failed to delete memory directory %s: %w", name, client.ErrNotDir)
	}
	if key == "/" {
		return fmt.Errorf("failed to delete memory directory %s: cannot remove root", name)
	}
	children := c.descendants(key)
	if len(children) > 0 && !recursive {
		return fmt.Errorf("failed to delete memory directory %s: %w", name, client.ErrNotEmpty)
	}
	for _, child := range children {
		delete(c.nodes, child)
	}
	delete(c.nodes, key)
	return nil
}

func (c *Client) descendants(key string) []string {
	prefix := key + "/"
	var keys []string
	for k := range c.nodes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// DeleteFile deletes a file or symlink.
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key, n, err := c.resolve(name, false)
	if err != nil {
		return fmt.Errorf("failed to delete memory file %s: %w", name, err)
	}
	if n.dir {
		return fmt.Errorf("failed to delete memory file %s: is a directory", name)
	}
	delete(c.nodes, key)
	return nil
}

// Move renames an entry and everything below it.
func (c *Client) Move(ctx context.Context, srcPath, dstPath string, overwrite bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	srcKey, src, err := c.resolve(srcPath, false)
	if err != nil {
		return fmt.Errorf("failed to move memory file %s: %w", srcPath, err)
	}
	dstKey, err := c.resolveParent(dstPath)
	if err != nil {
		return fmt.Errorf("failed to move memory file %s to %s: %w", srcPath, dstPath, err)
	}
	if dstKey == srcKey {
		return nil
	}
	if src.dir && strings.HasPrefix(dstKey, srcKey+"/") {
		return fmt.Errorf("failed to move memory directory %s into itself", srcPath)
	}
	if existing, ok := c.nodes[dstKey]; ok {
		if !overwrite {
			return fmt.Errorf("failed to move memory file %s to %s: %w", srcPath, dstPath, client.ErrExist)
		}
		if existing.dir && len(c.descendants(dstKey)) > 0 {
			return fmt.Errorf("failed to move memory file %s to %s: %w", srcPath, dstPath, client.ErrNotEmpty)
		}
		delete(c.nodes, dstKey)
	}

	for _, child := range c.descendants(srcKey) {
		c.nodes[dstKey+strings.TrimPrefix(child, srcKey)] = c.nodes[child]
		delete(c.nodes, child)
	}
	c.nodes[dstKey] = src
	delete(c.nodes, srcKey)
	return nil
}

// SameFilesystem always reports true: one memory client is one filesystem.
func (c *Client) SameFilesystem(ctx context.Context, pathA, pathB string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	return true, nil
}

// CreateSymlink creates a symbolic link at name pointing to target.
func (c *Client) CreateSymlink(ctx context.Context, target, name string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key, err := c.resolveParent(name)
	if err != nil {
		return fmt.Errorf("failed to create memory symlink %s: %w", name, err)
	}
	if _, ok := c.nodes[key]; ok {
		return fmt.Errorf("failed to create memory symlink %s: %w", name, client.ErrExist)
	}
	n := c.newNode(false, 0777)
	n.mode |= os.ModeSymlink
	n.link = target
	c.nodes[key] = n
	return nil
}

// WriteFile stores data at name, creating missing parent directories.
func (c *Client) WriteFile(ctx context.Context, name string, data io.Reader) error {
	if err := c.MkdirAll(ctx, path.Dir(rooted(name))); err != nil {
		return err
	}
	w, err := c.CreateFile(ctx, name, client.CreateOptions{})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, data); err != nil {
		w.Close()
		return fmt.Errorf("failed to write memory file %s: %w", name, err)
	}
	return w.Close()
}

// MkdirAll creates a directory and all missing parents.
func (c *Client) MkdirAll(ctx context.Context, name string) error {
	cur := ""
	for _, part := range splitPath(rooted(name)) {
		cur = cur + "/" + part
		err := c.CreateDirectory(ctx, cur, 0755)
		if err != nil && !client.IsExist(err) {
			return err
		}
	}
	return nil
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "memory"
}

// GetConfig returns the memory configuration.
func (c *Client) GetConfig() interface{} {
	return c.config
}
