// Package transfertest provides an in-memory transfer.Client for tests.
package transfertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync"

	"github.com/eugenetaranov/rtbolt/internal/transfer"
)

// Client keeps remote files in memory. Paths are resolved against the
// current directory.
type Client struct {
	mu    sync.Mutex
	Files map[string][]byte
	Dirs  map[string]bool
	cwd   string

	// ConnectErr, StoreErr and RetrieveErr inject failures.
	ConnectErr  error
	StoreErr    error
	RetrieveErr error

	// Truncate shortens stored files by this many bytes, to fake a bad upload.
	Truncate int

	Connected bool
	Closed    int
}

// NewClient creates an empty remote with a root directory.
func NewClient() *Client {
	return &Client{
		Files: make(map[string][]byte),
		Dirs:  map[string]bool{"/": true},
		cwd:   "/",
	}
}

func (c *Client) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(c.cwd, p)
}

// Connect marks the client connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ConnectErr != nil {
		return c.ConnectErr
	}
	c.Connected = true
	return nil
}

// Chdir enters an existing directory.
func (c *Client) Chdir(ctx context.Context, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.resolve(dir)
	if !c.Dirs[p] {
		return fmt.Errorf("550 %s: %w", dir, fs.ErrNotExist)
	}
	c.cwd = p
	return nil
}

// Mkdir creates a directory.
func (c *Client) Mkdir(ctx context.Context, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Dirs[c.resolve(dir)] = true
	return nil
}

// Store saves the content of src.
func (c *Client) Store(ctx context.Context, remote string, src io.Reader) error {
	if c.StoreErr != nil {
		return c.StoreErr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	if c.Truncate > 0 && c.Truncate <= len(data) {
		data = data[:len(data)-c.Truncate]
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Files[c.resolve(remote)] = data
	return nil
}

// Retrieve copies a stored file into dst.
func (c *Client) Retrieve(ctx context.Context, remote string, dst io.Writer) error {
	if c.RetrieveErr != nil {
		return c.RetrieveErr
	}
	c.mu.Lock()
	data, ok := c.Files[c.resolve(remote)]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("550 %s: %w", remote, fs.ErrNotExist)
	}
	_, err := io.Copy(dst, bytes.NewReader(data))
	return err
}

// Size returns the size of a stored file.
func (c *Client) Size(ctx context.Context, remote string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.Files[c.resolve(remote)]
	if !ok {
		return 0, fmt.Errorf("550 %s: %w", remote, fs.ErrNotExist)
	}
	return int64(len(data)), nil
}

// Close counts closes.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed++
	return nil
}

// String describes the client.
func (c *Client) String() string { return "mem://" + c.cwd }

// Cwd returns the current remote directory.
func (c *Client) Cwd() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cwd
}

// Register installs a backend under protocol that always hands out c.
func Register(protocol string, c *Client) {
	transfer.Register(protocol, func(transfer.Config) (transfer.Client, error) {
		return c, nil
	})
}

var _ transfer.Client = (*Client)(nil)
