package executor

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/andrej220/eggo/internal/lg"
	"golang.org/x/crypto/ssh"
	"golang.org/x/term"

	ex "github.com/andrej220/eggo/pkg/executor"
)

// SSHDialer opens ResilientSSHClient connections. It also provides the
// interactive operations (login shell, port forwarding) that do not fit
// the step model.
type SSHDialer struct {
	Stdin  *os.File
	Stdout io.Writer
	Stderr io.Writer
}

var _ ex.Dialer = (*SSHDialer)(nil)

func NewSSHDialer() *SSHDialer {
	return &SSHDialer{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

func (d *SSHDialer) Dial(ctx context.Context, ec ex.ExecutionContext, host string) (ex.Conn, error) {
	c, err := Dial(ctx, ec, host)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Shell opens an interactive login shell on host and returns when it exits.
func (d *SSHDialer) Shell(ctx context.Context, ec ex.ExecutionContext, host string) error {
	client, err := Dial(ctx, ec, host)
	if err != nil {
		return err
	}
	defer client.Close()

	sess, err := client.newSession()
	if err != nil {
		return err
	}
	defer sess.Close()

	width, height := 80, 24
	fd := int(d.Stdin.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw terminal: %w", err)
		}
		defer term.Restore(fd, state)
		if w, h, err := term.GetSize(fd); err == nil {
			width, height = w, h
		}
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	if err := sess.RequestPty("xterm-256color", height, width, modes); err != nil {
		return fmt.Errorf("request pty: %w", err)
	}
	sess.Stdin = d.Stdin
	sess.Stdout = d.Stdout
	sess.Stderr = d.Stderr

	if err := sess.Shell(); err != nil {
		return fmt.Errorf("start shell: %w", err)
	}
	return sess.Wait()
}

// Forward listens on localAddr and tunnels every accepted connection to
// remoteAddr as seen from host, until ctx is done.
func (d *SSHDialer) Forward(ctx context.Context, ec ex.ExecutionContext, host, localAddr, remoteAddr string) error {
	client, err := Dial(ctx, ec, host)
	if err != nil {
		return err
	}
	defer client.Close()

	ln, err := net.Listen("tcp", localAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", localAddr, err)
	}
	defer ln.Close()
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	logger := lg.FromContext(ctx).With(lg.String("host", host))
	logger.Info("forwarding", lg.String("local", ln.Addr().String()), lg.String("remote", remoteAddr))

	// closing client on return tears down tunnels still in flight
	for {
		local, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			defer local.Close()
			remote, err := client.SSHClient.Dial("tcp", remoteAddr)
			if err != nil {
				logger.Warn("tunnel dial failed", lg.Err(err))
				return
			}
			defer remote.Close()
			pipe(local, remote)
		}()
	}
}

// pipe copies in both directions until either side closes.
func pipe(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() { io.Copy(a, b); done <- struct{}{} }()
	go func() { io.Copy(b, a); done <- struct{}{} }()
	<-done
}
