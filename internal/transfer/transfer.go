// Package transfer moves files between the local machine and a target over a
// file-transfer protocol, independent of the interactive shell.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/renameio/v2"
)

// ErrArtifactNotFound is returned by Fetch when the remote file does not exist.
var ErrArtifactNotFound = errors.New("remote artifact not found")

// Client is a connection to a target's file-transfer service.
// Backends report a missing remote file with an error matching fs.ErrNotExist.
type Client interface {
	// Connect establishes and authenticates the connection.
	Connect(ctx context.Context) error

	// Chdir changes the remote working directory.
	Chdir(ctx context.Context, dir string) error

	// Mkdir creates a remote directory.
	Mkdir(ctx context.Context, dir string) error

	// Store writes src to the remote path in binary mode.
	Store(ctx context.Context, remote string, src io.Reader) error

	// Retrieve copies the remote file into dst.
	Retrieve(ctx context.Context, remote string, dst io.Writer) error

	// Size returns the size of the remote file in bytes.
	Size(ctx context.Context, remote string) (int64, error)

	// Close terminates the connection.
	Close() error

	// String returns a human-readable description of the connection.
	String() string
}

// Config holds what a backend needs to reach a target.
type Config struct {
	// Protocol selects the backend ("ftp" or "sftp").
	Protocol string

	Host     string
	Port     int
	Username string
	Password string

	// Directory is the remote working directory entered after connecting.
	Directory string

	// Timeout bounds connection setup. During an operation it is also the
	// longest the connection may go without progress; a long transfer that
	// keeps moving is not cut short.
	Timeout time.Duration

	// KnownHosts is an optional known_hosts file for host key checks (sftp).
	KnownHosts string
}

// Factory creates an unconnected client.
type Factory func(cfg Config) (Client, error)

var (
	registry   = make(map[string]Factory)
	registryMu sync.RWMutex
)

// Register adds a backend for protocol.
// It panics if the protocol is already registered.
func Register(protocol string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[protocol]; exists {
		panic(fmt.Sprintf("transfer protocol %q is already registered", protocol))
	}
	registry[protocol] = f
}

// Protocols returns the registered protocol names, sorted.
func Protocols() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open connects to the target and enters cfg.Directory, creating it when it
// cannot be entered.
func Open(ctx context.Context, cfg Config) (Client, error) {
	registryMu.RLock()
	factory, ok := registry[cfg.Protocol]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown transfer protocol: %s", cfg.Protocol)
	}

	c, err := factory(cfg)
	if err != nil {
		return nil, &TransferError{Op: "connect", Path: cfg.Host, Err: err}
	}
	if err := c.Connect(ctx); err != nil {
		return nil, &TransferError{Op: "connect", Path: cfg.Host, Err: err}
	}

	if cfg.Directory != "" {
		if err := c.Chdir(ctx, cfg.Directory); err != nil {
			if err := c.Mkdir(ctx, cfg.Directory); err != nil {
				c.Close()
				return nil, &TransferError{Op: "mkdir", Path: cfg.Directory, Err: err}
			}
			if err := c.Chdir(ctx, cfg.Directory); err != nil {
				c.Close()
				return nil, &TransferError{Op: "chdir", Path: cfg.Directory, Err: err}
			}
		}
	}
	return c, nil
}

// TransferError reports a failed upload, verification or download.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// Upload stores the local file at remote and returns the bytes sent.
func Upload(ctx context.Context, c Client, local, remote string) (int64, error) {
	f, err := os.Open(local)
	if err != nil {
		return 0, &TransferError{Op: "upload", Path: local, Err: err}
	}
	defer f.Close()

	cr := &countingReader{r: f}
	if err := c.Store(ctx, remote, cr); err != nil {
		return cr.n, &TransferError{Op: "upload", Path: remote, Err: err}
	}
	return cr.n, nil
}

// Verify reports whether the remote file has the expected size.
func Verify(ctx context.Context, c Client, remote string, expected int64) (bool, error) {
	size, err := c.Size(ctx, remote)
	if err != nil {
		return false, &TransferError{Op: "verify", Path: remote, Err: err}
	}
	return size == expected, nil
}

// Artifact describes a file retrieved from the target.
type Artifact struct {
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	Size       int64  `json:"size"`
	Present    bool   `json:"present"`
}

// Fetch downloads remote into local. The local file is replaced atomically
// and only once the download completed. A missing remote file yields an
// artifact with Present false and ErrArtifactNotFound.
func Fetch(ctx context.Context, c Client, remote, local string) (*Artifact, error) {
	art := &Artifact{RemotePath: remote, LocalPath: local}

	if dir := filepath.Dir(local); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return art, &TransferError{Op: "fetch", Path: local, Err: err}
		}
	}

	pending, err := renameio.NewPendingFile(local, renameio.WithPermissions(0o644))
	if err != nil {
		return art, &TransferError{Op: "fetch", Path: local, Err: err}
	}
	defer pending.Cleanup()

	cw := &countingWriter{w: pending}
	if err := c.Retrieve(ctx, remote, cw); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return art, fmt.Errorf("%w: %s", ErrArtifactNotFound, remote)
		}
		return art, &TransferError{Op: "fetch", Path: remote, Err: err}
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return art, &TransferError{Op: "fetch", Path: local, Err: err}
	}

	art.Size = cw.n
	art.Present = true
	return art, nil
}

// Retriever fetches files over a fresh connection per call.
type Retriever struct {
	Config Config
}

// Fetch opens a connection, downloads remote into local and disconnects.
func (r *Retriever) Fetch(ctx context.Context, remote, local string) (*Artifact, error) {
	c, err := Open(ctx, r.Config)
	if err != nil {
		return &Artifact{RemotePath: remote, LocalPath: local}, err
	}
	defer c.Close()

	return Fetch(ctx, c, remote, local)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
