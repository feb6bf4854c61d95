package ftp

import (
	"io"
	"net"
	"net/textproto"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testServer is a minimal in-process FTP server speaking the subset of the
// protocol the client uses: login, EPSV data connections, CWD, MKD, SIZE,
// STOR and RETR.
type testServer struct {
	ln       net.Listener
	password string

	// stallRetr makes RETR announce the transfer and then send nothing.
	stallRetr bool

	mu     sync.Mutex
	files  map[string][]byte
	dirs   map[string]bool
	conns  []io.Closer
	closed bool
	wg     sync.WaitGroup
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &testServer{
		ln:       ln,
		password: "rtpass",
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.close)
	return s
}

func (s *testServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *testServer) file(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.files[name]
	return b, ok
}

func (s *testServer) putFile(name string, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[name] = content
	s.dirs[path.Dir(name)] = true
}

// track registers c for shutdown. It reports false once the server closed.
func (s *testServer) track(c io.Closer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		c.Close()
		return false
	}
	s.conns = append(s.conns, c)
	return true
}

func (s *testServer) close() {
	s.ln.Close()
	s.mu.Lock()
	s.closed = true
	for _, c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *testServer) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		if !s.track(c) {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer c.Close()
			s.handle(textproto.NewConn(c))
		}()
	}
}

func (s *testServer) handle(tp *textproto.Conn) {
	reply := func(format string, args ...any) {
		_ = tp.PrintfLine(format, args...)
	}

	cwd := "/"
	var passive net.Listener
	defer func() {
		if passive != nil {
			passive.Close()
		}
	}()

	reply("220 rtbolt test server ready")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		target := arg
		if !path.IsAbs(target) {
			target = path.Join(cwd, target)
		}

		switch strings.ToUpper(cmd) {
		case "USER":
			reply("331 Password required for %s", arg)
		case "PASS":
			if arg != s.password {
				reply("530 Login incorrect")
				continue
			}
			reply("230 User logged in")
		case "FEAT":
			reply("502 Command not implemented")
		case "TYPE":
			reply("200 Type set to %s", arg)
		case "CWD":
			s.mu.Lock()
			ok := s.dirs[target]
			s.mu.Unlock()
			if !ok {
				reply("550 %s: No such file or directory", arg)
				continue
			}
			cwd = target
			reply("250 CWD command successful")
		case "MKD":
			s.mu.Lock()
			s.dirs[target] = true
			s.mu.Unlock()
			reply(`257 "%s" directory created`, target)
		case "SIZE":
			b, ok := s.file(target)
			if !ok {
				reply("550 %s: No such file or directory", arg)
				continue
			}
			reply("213 %d", len(b))
		case "EPSV":
			if passive != nil {
				passive.Close()
			}
			passive, err = net.Listen("tcp", "127.0.0.1:0")
			if err != nil {
				reply("425 Can't open data connection")
				continue
			}
			reply("229 Entering Extended Passive Mode (|||%d|)", passive.Addr().(*net.TCPAddr).Port)
		case "RETR":
			data := s.accept(passive)
			passive = nil
			if data == nil {
				reply("425 Can't open data connection")
				continue
			}
			b, ok := s.file(target)
			if !ok {
				data.Close()
				reply("550 %s: No such file or directory", arg)
				continue
			}
			reply("150 Opening BINARY mode data connection for %s (%d bytes)", arg, len(b))
			if s.stallRetr {
				// Leave the data connection open and silent.
				continue
			}
			_, _ = data.Write(b)
			data.Close()
			reply("226 Transfer complete")
		case "STOR":
			data := s.accept(passive)
			passive = nil
			if data == nil {
				reply("425 Can't open data connection")
				continue
			}
			reply("150 Opening BINARY mode data connection for %s", arg)
			b, _ := io.ReadAll(data)
			data.Close()
			s.putFile(target, b)
			reply("226 Transfer complete")
		case "QUIT":
			reply("221 Goodbye")
			return
		default:
			reply("502 Command not implemented")
		}
	}
}

// accept takes the client's data connection from the passive listener.
func (s *testServer) accept(ln net.Listener) net.Conn {
	if ln == nil {
		return nil
	}
	defer ln.Close()

	if tl, ok := ln.(*net.TCPListener); ok {
		_ = tl.SetDeadline(time.Now().Add(5 * time.Second))
	}
	c, err := ln.Accept()
	if err != nil {
		return nil
	}
	if !s.track(c) {
		return nil
	}
	return c
}
