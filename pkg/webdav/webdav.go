// Package webdav implements the filesystem client for WebDAV protocol.
package webdav

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"digital.vasic.vfs/pkg/client"
)

// Config contains WebDAV connection configuration.
type Config struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
	Path     string `json:"path"`
}

// Client implements client.Client for WebDAV protocol.
type Client struct {
	config *Config
	client *http.Client
	// transfer carries GET and PUT bodies, which may outlive any fixed timeout.
	transfer  *http.Client
	baseURL   *url.URL
	connected bool
}

// NewWebDAVClient creates a new WebDAV client.
func NewWebDAVClient(config *Config) *Client {
	baseURL, err := url.Parse(config.URL)
	if err != nil {
		baseURL = &url.URL{}
	}
	if config.Path != "" && config.Path != "/" {
		baseURL.Path = config.Path
	}

	return &Client{
		config:   config,
		client:   &http.Client{Timeout: 30 * time.Second},
		transfer: &http.Client{},
		baseURL:  baseURL,
	}
}

const propfindBody = `<?xml version="1.0" encoding="utf-8" ?>
<D:propfind xmlns:D="DAV:">
	<D:prop>
		<D:displayname/>
		<D:getcontentlength/>
		<D:getlastmodified/>
		<D:resourcetype/>
	</D:prop>
</D:propfind>`

type multistatus struct {
	Responses []propResponse `xml:"DAV: response"`
}

type propResponse struct {
	Href     string     `xml:"DAV: href"`
	Propstat []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	DisplayName   string       `xml:"DAV: displayname"`
	ContentLength string       `xml:"DAV: getcontentlength"`
	LastModified  string       `xml:"DAV: getlastmodified"`
	ResourceType  resourceType `xml:"DAV: resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// Connect establishes the WebDAV connection.
func (c *Client) Connect(ctx context.Context) error {
	req, err := c.newRequest(ctx, "PROPFIND", "", nil)
	if err != nil {
		return fmt.Errorf("failed to create PROPFIND request: %w", err)
	}
	req.Header.Set("Depth", "0")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to WebDAV server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("WebDAV server returned status %d", resp.StatusCode)
	}

	c.connected = true
	return nil
}

// Disconnect closes the WebDAV connection.
func (c *Client) Disconnect(ctx context.Context) error {
	c.connected = false
	c.client.CloseIdleConnections()
	c.transfer.CloseIdleConnections()
	return nil
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.connected
}

// TestConnection tests the WebDAV connection.
func (c *Client) TestConnection(ctx context.Context) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}
	return c.Connect(ctx)
}

// resolveURL resolves a relative path to a full WebDAV URL.
func (c *Client) resolveURL(p string) string {
	u := *c.baseURL
	u.Path = path.Join("/", u.Path, path.Clean("/"+p))
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, p string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.resolveURL(p), body)
	if err != nil {
		return nil, err
	}
	if c.config.Username != "" {
		req.SetBasicAuth(c.config.Username, c.config.Password)
	}
	return req, nil
}

// statusError converts an unexpected response status into an error that
// matches the shared sentinels where a mapping exists.
func statusError(resp *http.Response, target string) error {
	err := fmt.Errorf("WebDAV server returned status %d for %s", resp.StatusCode, target)
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusConflict:
		return fmt.Errorf("%w: %v", client.ErrNotExist, err)
	case http.StatusPreconditionFailed:
		return fmt.Errorf("%w: %v", client.ErrExist, err)
	}
	return err
}

func success(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// OpenFile opens a file on the WebDAV server for reading.
func (c *Client) OpenFile(ctx context.Context, p string) (io.ReadCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}

	req, err := c.newRequest(ctx, http.MethodGet, p, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create GET request: %w", err)
	}

	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve WebDAV file %s: %w", p, err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to retrieve WebDAV file %s: %w", p, statusError(resp, req.URL.Path))
	}

	return resp.Body, nil
}

// CreateFile starts a PUT whose body is fed by the returned writer. Close
// waits for the server's response. Exclusive creation is checked up front
// and also sent as If-None-Match for servers that honour it.
func (c *Client) CreateFile(ctx context.Context, p string, opts client.CreateOptions) (io.WriteCloser, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}

	if opts.Exclusive {
		exists, err := c.FileExists(ctx, p)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("failed to create WebDAV file %s: %w", p, client.ErrExist)
		}
	}

	pr, pw := io.Pipe()
	req, err := c.newRequest(ctx, http.MethodPut, p, pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create PUT request: %w", err)
	}
	if opts.Exclusive {
		req.Header.Set("If-None-Match", "*")
	}

	u := &upload{pw: pw, done: make(chan error, 1)}
	go func() {
		resp, err := c.transfer.Do(req)
		if err != nil {
			err = fmt.Errorf("failed to upload WebDAV file %s: %w", p, err)
		} else {
			if !success(resp) {
				err = fmt.Errorf("failed to upload WebDAV file %s: %w", p, statusError(resp, req.URL.Path))
			}
			resp.Body.Close()
		}
		pr.CloseWithError(err)
		u.done <- err
	}()
	return u, nil
}

type upload struct {
	pw   *io.PipeWriter
	done chan error
}

func (u *upload) Write(p []byte) (int, error) {
	return u.pw.Write(p)
}

func (u *upload) Close() error {
	u.pw.Close()
	return <-u.done
}

func (c *Client) propfind(ctx context.Context, p, depth string) ([]propResponse, error) {
	req, err := c.newRequest(ctx, "PROPFIND", p, strings.NewReader(propfindBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create PROPFIND request: %w", err)
	}
	req.Header.Set("Depth", depth)
	req.Header.Set("Content-Type", "application/xml")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		return nil, statusError(resp, req.URL.Path)
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("failed to parse WebDAV response: %w", err)
	}
	return ms.Responses, nil
}

// hrefPath returns the unescaped path of an href, which may be absolute or
// server relative, without a trailing slash.
func hrefPath(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return strings.TrimSuffix(href, "/")
	}
	p := strings.TrimSuffix(u.Path, "/")
	if p == "" {
		return "/"
	}
	return p
}

func (c *Client) toFileInfo(r propResponse, p string) *client.FileInfo {
	href := hrefPath(r.Href)
	info := &client.FileInfo{
		Name: path.Base(href),
		Mode: 0644,
		Path: p,
		ID:   "webdav://" + c.baseURL.Host + href,
	}
	for _, ps := range r.Propstat {
		if ps.Status != "" && !strings.Contains(ps.Status, " 200 ") {
			continue
		}
		if ps.Prop.ResourceType.Collection != nil {
			info.IsDir = true
			info.Mode = os.ModeDir | 0755
		}
		if ps.Prop.ContentLength != "" {
			if s, err := strconv.ParseInt(ps.Prop.ContentLength, 10, 64); err == nil {
				info.Size = s
			}
		}
		if ps.Prop.LastModified != "" {
			if t, err := http.ParseTime(ps.Prop.LastModified); err == nil {
				info.ModTime = t
			}
		}
	}
	if info.IsDir {
		info.Size = 0
	}
	return info
}

// GetFileInfo gets information about a file with a depth 0 PROPFIND.
func (c *Client) GetFileInfo(ctx context.Context, p string) (*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}

	responses, err := c.propfind(ctx, p, "0")
	if err != nil {
		return nil, fmt.Errorf("failed to get WebDAV file info %s: %w", p, err)
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("failed to get WebDAV file info %s: %w", p, client.ErrNotExist)
	}

	info := c.toFileInfo(responses[0], p)
	info.Name = path.Base(path.Clean("/" + p))
	return info, nil
}

// ListDirectory lists files in a directory.
func (c *Client) ListDirectory(ctx context.Context, p string) ([]*client.FileInfo, error) {
	if !c.IsConnected() {
		return nil, client.ErrNotConnected
	}

	responses, err := c.propfind(ctx, p, "1")
	if err != nil {
		return nil, fmt.Errorf("failed to list WebDAV directory %s: %w", p, err)
	}

	self := hrefPath(c.resolveURL(p))
	var files []*client.FileInfo
	for _, r := range responses {
		href := hrefPath(r.Href)
		if href == self {
			continue
		}
		files = append(files, c.toFileInfo(r, client.JoinPath(p, path.Base(href))))
	}

	return files, nil
}

// FileExists checks if a file exists.
func (c *Client) FileExists(ctx context.Context, p string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}

	_, err := c.propfind(ctx, p, "0")
	if err != nil {
		if client.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check WebDAV file existence %s: %w", p, err)
	}
	return true, nil
}

// CreateDirectory creates a collection. WebDAV servers answer MKCOL on an
// existing resource with 405.
func (c *Client) CreateDirectory(ctx context.Context, p string, perm os.FileMode) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}

	req, err := c.newRequest(ctx, "MKCOL", p, nil)
	if err != nil {
		return fmt.Errorf("failed to create MKCOL request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create WebDAV directory %s: %w", p, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		return fmt.Errorf("failed to create WebDAV directory %s: %w", p, client.ErrExist)
	}
	if !success(resp) {
		return fmt.Errorf("failed to create WebDAV directory %s: %w", p, statusError(resp, req.URL.Path))
	}

	return nil
}

func (c *Client) delete(ctx context.Context, p string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, p, nil)
	if err != nil {
		return fmt.Errorf("failed to create DELETE request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !success(resp) {
		return statusError(resp, req.URL.Path)
	}
	return nil
}

// DeleteDirectory deletes a collection. DELETE on a collection is always
// recursive in WebDAV, so the non-recursive form checks for members first.
func (c *Client) DeleteDirectory(ctx context.Context, p string, recursive bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}

	if !recursive {
		entries, err := c.ListDirectory(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to delete WebDAV directory %s: %w", p, err)
		}
		if len(entries) > 0 {
			return fmt.Errorf("failed to delete WebDAV directory %s: %w", p, client.ErrNotEmpty)
		}
	}

	if err := c.delete(ctx, p); err != nil {
		return fmt.Errorf("failed to delete WebDAV directory %s: %w", p, err)
	}
	return nil
}

// DeleteFile deletes a file.
func (c *Client) DeleteFile(ctx context.Context, p string) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}

	if err := c.delete(ctx, p); err != nil {
		return fmt.Errorf("failed to delete WebDAV file %s: %w", p, err)
	}
	return nil
}

// Move renames a resource with MOVE. The Overwrite header carries the
// overwrite flag and servers answer 412 when it forbids replacing.
func (c *Client) Move(ctx context.Context, srcPath, dstPath string, overwrite bool) error {
	if !c.IsConnected() {
		return client.ErrNotConnected
	}

	req, err := c.newRequest(ctx, "MOVE", srcPath, nil)
	if err != nil {
		return fmt.Errorf("failed to create MOVE request: %w", err)
	}
	req.Header.Set("Destination", c.resolveURL(dstPath))
	if overwrite {
		req.Header.Set("Overwrite", "T")
	} else {
		req.Header.Set("Overwrite", "F")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to move WebDAV file from %s to %s: %w", srcPath, dstPath, err)
	}
	defer resp.Body.Close()

	if !success(resp) {
		return fmt.Errorf("failed to move WebDAV file from %s to %s: %w", srcPath, dstPath, statusError(resp, req.URL.Path))
	}

	return nil
}

// SameFilesystem reports true: MOVE works across the whole server namespace.
func (c *Client) SameFilesystem(ctx context.Context, pathA, pathB string) (bool, error) {
	if !c.IsConnected() {
		return false, client.ErrNotConnected
	}
	return true, nil
}

// GetProtocol returns the protocol name.
func (c *Client) GetProtocol() string {
	return "webdav"
}

// GetConfig returns the WebDAV configuration.
func (c *Client) GetConfig() interface{} {
	return c.config
}
