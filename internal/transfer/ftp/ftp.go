// Package ftp provides the FTP transfer backend.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/textproto"
	"strconv"

	"github.com/jlaffaye/ftp"

	"github.com/eugenetaranov/rtbolt/internal/transfer"
)

func init() {
	transfer.Register("ftp", func(cfg transfer.Config) (transfer.Client, error) {
		return New(cfg), nil
	})
}

// Client is an FTP connection to a target.
type Client struct {
	cfg   transfer.Config
	conn  *ftp.ServerConn
	watch *transfer.Watchdog

	// ctx is the context of the running operation; data connections
	// opened by the library are dialed with it.
	ctx context.Context
}

// New creates an unconnected FTP client.
func New(cfg transfer.Config) *Client {
	if cfg.Port == 0 {
		cfg.Port = 21
	}
	return &Client{cfg: cfg, watch: transfer.NewWatchdog(cfg.Timeout)}
}

func (c *Client) addr() string {
	return net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
}

// dial opens control and data connections under the watchdog.
func (c *Client) dial(network, address string) (net.Conn, error) {
	ctx := c.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	d := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return c.watch.Wrap(conn), nil
}

func (c *Client) begin(ctx context.Context) func(error) error {
	c.ctx = ctx
	return c.watch.Begin(ctx)
}

// Connect dials the server and logs in.
func (c *Client) Connect(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	end := c.begin(ctx)
	defer func() { err = end(err) }()

	conn, err := ftp.Dial(c.addr(), ftp.DialWithDialFunc(c.dial))
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.addr(), err)
	}
	if err := conn.Login(c.cfg.Username, c.cfg.Password); err != nil {
		conn.Quit()
		return fmt.Errorf("login as %s: %w", c.cfg.Username, err)
	}
	c.conn = conn
	return nil
}

// Chdir changes the remote working directory.
func (c *Client) Chdir(ctx context.Context, dir string) (err error) {
	if err := c.ready(ctx); err != nil {
		return err
	}
	end := c.begin(ctx)
	defer func() { err = end(err) }()

	return mapError(c.conn.ChangeDir(dir))
}

// Mkdir creates a remote directory.
func (c *Client) Mkdir(ctx context.Context, dir string) (err error) {
	if err := c.ready(ctx); err != nil {
		return err
	}
	end := c.begin(ctx)
	defer func() { err = end(err) }()

	return c.conn.MakeDir(dir)
}

// Store uploads src in binary mode.
func (c *Client) Store(ctx context.Context, remote string, src io.Reader) (err error) {
	if err := c.ready(ctx); err != nil {
		return err
	}
	end := c.begin(ctx)
	defer func() { err = end(err) }()

	return c.conn.Stor(remote, src)
}

// Retrieve downloads remote into dst.
func (c *Client) Retrieve(ctx context.Context, remote string, dst io.Writer) (err error) {
	if err := c.ready(ctx); err != nil {
		return err
	}
	end := c.begin(ctx)
	defer func() { err = end(err) }()

	resp, err := c.conn.Retr(remote)
	if err != nil {
		return mapError(err)
	}
	if _, err := io.Copy(dst, resp); err != nil {
		resp.Close()
		return fmt.Errorf("read %s: %w", remote, err)
	}
	return resp.Close()
}

// Size returns the remote file size via SIZE.
func (c *Client) Size(ctx context.Context, remote string) (n int64, err error) {
	if err := c.ready(ctx); err != nil {
		return 0, err
	}
	end := c.begin(ctx)
	defer func() { err = end(err) }()

	n, err = c.conn.FileSize(remote)
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// Close sends QUIT and closes the control connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Quit()
	c.conn = nil
	return err
}

// String returns a description of the connection.
func (c *Client) String() string {
	return fmt.Sprintf("ftp://%s@%s", c.cfg.Username, c.addr())
}

func (c *Client) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.conn == nil {
		return errors.New("not connected")
	}
	return nil
}

// mapError turns a 550 reply into an fs.ErrNotExist match.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) && tpErr.Code == ftp.StatusFileUnavailable {
		return fmt.Errorf("%w: %v", fs.ErrNotExist, err)
	}
	return err
}

// Ensure Client implements the transfer.Client interface.
var _ transfer.Client = (*Client)(nil)
