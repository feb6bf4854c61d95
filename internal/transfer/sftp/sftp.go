// Package sftp provides the SFTP transfer backend.
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strconv"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/eugenetaranov/rtbolt/internal/transfer"
)

func init() {
	transfer.Register("sftp", func(cfg transfer.Config) (transfer.Client, error) {
		return New(cfg), nil
	})
}

// Client is an SFTP session over a dedicated SSH connection.
type Client struct {
	cfg   transfer.Config
	ssh   *ssh.Client
	sftp  *sftp.Client
	cwd   string
	watch *transfer.Watchdog
}

// New creates an unconnected SFTP client.
func New(cfg transfer.Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	return &Client{cfg: cfg, watch: transfer.NewWatchdog(cfg.Timeout)}
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // lab targets rarely have stable host keys
	if c.cfg.KnownHosts != "" {
		cb, err := knownhosts.New(c.cfg.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		hostKeyCallback = cb
	}
	return &ssh.ClientConfig{
		User:            c.cfg.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(c.cfg.Password)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.cfg.Timeout,
	}, nil
}

// Connect dials SSH and opens the SFTP subsystem.
func (c *Client) Connect(ctx context.Context) (err error) {
	config, err := c.clientConfig()
	if err != nil {
		return err
	}
	end := c.watch.Begin(ctx)
	defer func() { err = end(err) }()

	d := net.Dialer{Timeout: c.cfg.Timeout}
	nc, err := d.DialContext(ctx, "tcp", c.addr())
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr(), err)
	}
	wc := c.watch.Wrap(nc)
	conn, chans, reqs, err := ssh.NewClientConn(wc, c.addr(), config)
	if err != nil {
		wc.Close()
		return fmt.Errorf("ssh handshake with %s: %w", c.addr(), err)
	}
	sshClient := ssh.NewClient(conn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return fmt.Errorf("open sftp subsystem: %w", err)
	}

	c.ssh = sshClient
	c.sftp = sftpClient
	c.cwd, err = sftpClient.Getwd()
	if err != nil {
		c.cwd = "."
	}
	return nil
}

func (c *Client) resolve(p string) string {
	if path.IsAbs(p) {
		return path.Clean(p)
	}
	return path.Join(c.cwd, p)
}

// Chdir changes the directory relative paths are resolved against.
// SFTP has no server-side working directory, so the client tracks it.
func (c *Client) Chdir(ctx context.Context, dir string) (err error) {
	if err := c.ready(ctx); err != nil {
		return err
	}
	end := c.watch.Begin(ctx)
	defer func() { err = end(err) }()

	p := c.resolve(dir)
	fi, err := c.sftp.Stat(p)
	if err != nil {
		return mapError(err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("%s is not a directory", p)
	}
	c.cwd = p
	return nil
}

// Mkdir creates a remote directory and its parents.
func (c *Client) Mkdir(ctx context.Context, dir string) (err error) {
	if err := c.ready(ctx); err != nil {
		return err
	}
	end := c.watch.Begin(ctx)
	defer func() { err = end(err) }()

	return c.sftp.MkdirAll(c.resolve(dir))
}

// Store uploads src, truncating any existing file.
func (c *Client) Store(ctx context.Context, remote string, src io.Reader) (err error) {
	if err := c.ready(ctx); err != nil {
		return err
	}
	end := c.watch.Begin(ctx)
	defer func() { err = end(err) }()

	f, err := c.sftp.OpenFile(c.resolve(remote), os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return mapError(err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", remote, err)
	}
	return f.Close()
}

// Retrieve downloads remote into dst.
func (c *Client) Retrieve(ctx context.Context, remote string, dst io.Writer) (err error) {
	if err := c.ready(ctx); err != nil {
		return err
	}
	end := c.watch.Begin(ctx)
	defer func() { err = end(err) }()

	f, err := c.sftp.Open(c.resolve(remote))
	if err != nil {
		return mapError(err)
	}
	defer f.Close()

	if _, err := io.Copy(dst, f); err != nil {
		return fmt.Errorf("read %s: %w", remote, err)
	}
	return nil
}

// Size returns the remote file size.
func (c *Client) Size(ctx context.Context, remote string) (n int64, err error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}
	end := c.watch.Begin(ctx)
	defer func() { err = end(err) }()

	fi, err := c.sftp.Stat(c.resolve(remote))
	if err != nil {
		return 0, mapError(err)
	}
	return fi.Size(), nil
}

// Close releases the SFTP session and SSH connection.
func (c *Client) Close() error {
	if c.ssh == nil {
		return nil
	}
	_ = c.sftp.Close()
	err := c.ssh.Close()
	c.ssh, c.sftp = nil, nil
	return err
}

// String returns a description of the connection.
func (c *Client) String() string {
	return fmt.Sprintf("sftp://%s@%s", c.cfg.Username, c.addr())
}

func (c *Client) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.sftp == nil {
		return errors.New("not connected")
	}
	return nil
}

// mapError makes a no-such-file status match fs.ErrNotExist.
func mapError(err error) error {
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return err
	}
	var se *sftp.StatusError
	if errors.As(err, &se) && se.FxCode() == sftp.ErrSSHFxNoSuchFile {
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}

// Ensure Client implements the transfer.Client interface.
var _ transfer.Client = (*Client)(nil)
