package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"sync"
)

// fakeDialer hands out in-memory connections and records every command
// per host.
type fakeDialer struct {
	mu       sync.Mutex
	files    map[string]map[string][]byte
	commands map[string][]string
	dialed   []string

	// failDial makes Dial fail for these hosts.
	failDial map[string]bool
	// exit maps a host to a command substring and the status it exits with.
	exit map[string]map[string]int
	// stdout maps a command substring to what it prints.
	stdout map[string]string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		files:    make(map[string]map[string][]byte),
		commands: make(map[string][]string),
		failDial: make(map[string]bool),
		exit:     make(map[string]map[string]int),
		stdout:   make(map[string]string),
	}
}

func (d *fakeDialer) failOn(host, substr string, status int) {
	if d.exit[host] == nil {
		d.exit[host] = make(map[string]int)
	}
	d.exit[host][substr] = status
}

func (d *fakeDialer) Dial(_ context.Context, _ ExecutionContext, host string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dialed = append(d.dialed, host)
	if d.failDial[host] {
		return nil, errors.New("connection refused")
	}
	if d.files[host] == nil {
		d.files[host] = make(map[string][]byte)
	}
	return &fakeConn{d: d, host: host}, nil
}

func (d *fakeDialer) cmds(host string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands[host]...)
}

func (d *fakeDialer) file(host, p string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.files[host][p])
}

type fakeConn struct {
	d    *fakeDialer
	host string
}

func (c *fakeConn) Run(_ context.Context, cmd string) (CommandOutput, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.commands[c.host] = append(c.d.commands[c.host], cmd)
	out := CommandOutput{}
	for substr, s := range c.d.stdout {
		if strings.Contains(cmd, substr) {
			out.Stdout = s
		}
	}
	for substr, status := range c.d.exit[c.host] {
		if strings.Contains(cmd, substr) {
			out.ExitStatus = status
			out.Stderr = fmt.Sprintf("%s: failed\n", substr)
		}
	}
	return out, nil
}

func (c *fakeConn) Upload(_ context.Context, p string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.files[c.host][p] = data
	return nil
}

func (c *fakeConn) ReadFile(_ context.Context, p string) ([]byte, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	data, ok := c.d.files[c.host][p]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", p, fs.ErrNotExist)
	}
	return data, nil
}

func (c *fakeConn) AppendFile(_ context.Context, p string, data []byte) error {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	c.d.files[c.host][p] = append(c.d.files[c.host][p], data...)
	return nil
}

func (c *fakeConn) Close() error { return nil }
