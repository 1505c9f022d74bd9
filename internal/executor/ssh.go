package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"golang.org/x/crypto/ssh"

	ex "github.com/andrej220/eggo/pkg/executor"
)

var _ ex.Conn = (*ResilientSSHClient)(nil)

// Run executes cmd in a fresh session and collects both streams.
func (c *ResilientSSHClient) Run(ctx context.Context, cmd string) (ex.CommandOutput, error) {
	sess, err := c.newSession()
	if err != nil {
		return ex.CommandOutput{}, err
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	if err := sess.Start(cmd); err != nil {
		return ex.CommandOutput{}, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- sess.Wait() }()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		sess.Close()
		<-done
		return ex.CommandOutput{}, ctx.Err()
	case err = <-done:
	}

	out := ex.CommandOutput{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return out, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		out.ExitStatus = exitErr.ExitStatus()
		return out, nil
	}
	return out, fmt.Errorf("wait command: %w", err)
}

func (c *ResilientSSHClient) Upload(ctx context.Context, remotePath string, r io.Reader) error {
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}
	p := sftpPath(remotePath)
	if dir := path.Dir(p); dir != "." && dir != "/" {
		if err := sc.MkdirAll(dir); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	f, err := sc.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	if _, err := f.ReadFrom(r); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", p, err)
	}
	return f.Close()
}

func (c *ResilientSSHClient) ReadFile(ctx context.Context, remotePath string) ([]byte, error) {
	sc, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	p := sftpPath(remotePath)
	f, err := sc.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (c *ResilientSSHClient) AppendFile(ctx context.Context, remotePath string, data []byte) error {
	sc, err := c.sftpClient()
	if err != nil {
		return err
	}
	p := sftpPath(remotePath)
	f, err := sc.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_APPEND)
	if err != nil {
		return fmt.Errorf("open %s: %w", p, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", p, err)
	}
	return f.Close()
}

// sftpPath maps "~/x" onto "x": sftp resolves relative paths against the
// login directory.
func sftpPath(p string) string {
	switch {
	case p == "~":
		return "."
	case strings.HasPrefix(p, "~/"):
		return strings.TrimPrefix(p, "~/")
	}
	return p
}
