package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/andrej220/eggo/internal/lg"
)

// maxResultOutput caps the output kept on a Result.
const maxResultOutput = 1 << 20

// Result is the outcome of one action on one host.
type Result struct {
	Host       string
	ExitStatus int
	// Output is stdout and stderr of every command, in step order.
	Output string
	// Stdout is the standard output of the last command run.
	Stdout    string
	Succeeded bool
	Err       error
}

// hostTask interprets a step sequence against one connection.
type hostTask struct {
	host   string
	conn   Conn
	scopes scopeStack
	out    bytes.Buffer
	logger lg.Logger

	exitStatus int
	lastStdout string
}

func newHostTask(host string, conn Conn, logger lg.Logger) *hostTask {
	return &hostTask{host: host, conn: conn, logger: logger}
}

// Execute runs steps in declaration order and stops at the first failure.
func (t *hostTask) Execute(ctx context.Context, steps []Step) error {
	for _, s := range steps {
		if err := t.exec(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (t *hostTask) exec(ctx context.Context, s Step) error {
	t.logger.Debug("step", lg.String("step", s.String()), lg.Int("depth", t.scopes.depth()))

	switch s := s.(type) {
	case RunCommand:
		return t.run(ctx, s)
	case PutFile:
		return t.put(ctx, s)
	case AppendToFile:
		return t.appendLines(ctx, s)
	case ChangeDirectoryScope:
		return t.scopes.within(frame{dir: s.Dir}, func() error { return t.Execute(ctx, s.Steps) })
	case SetEnvScope:
		return t.scopes.within(frame{env: s.Env}, func() error { return t.Execute(ctx, s.Steps) })
	case PrefixShellScope:
		return t.scopes.within(frame{prefix: s.Prefix}, func() error { return t.Execute(ctx, s.Steps) })
	default:
		return fmt.Errorf("%s: unsupported step %T", t.host, s)
	}
}

func (t *hostTask) run(ctx context.Context, s RunCommand) error {
	rendered := t.scopes.render(s.Cmd)
	out, err := t.conn.Run(ctx, wrapShell(rendered))
	if err != nil {
		return &ConnectionError{Host: t.host, Err: fmt.Errorf("run %q: %w", rendered, err)}
	}

	combined := out.Stdout + out.Stderr
	t.capture(combined)
	t.exitStatus = out.ExitStatus
	t.lastStdout = out.Stdout

	if out.ExitStatus != 0 {
		return &RemoteCommandError{
			Host:       t.host,
			Command:    rendered,
			ExitStatus: out.ExitStatus,
			Output:     truncate(combined, MaxErrorOutput),
		}
	}
	return nil
}

func (t *hostTask) put(ctx context.Context, s PutFile) error {
	remote := t.scopes.resolve(s.RemotePath)
	fail := func(err error) error {
		return &TransferError{Host: t.host, LocalPath: s.LocalPath, RemotePath: remote, Err: err}
	}

	var src io.Reader
	if s.LocalPath != "" {
		f, err := os.Open(s.LocalPath)
		if err != nil {
			return fail(err)
		}
		defer f.Close()
		src = f
	} else {
		src = bytes.NewReader(s.Content)
	}

	if err := t.conn.Upload(ctx, remote, src); err != nil {
		return fail(err)
	}
	return nil
}

func (t *hostTask) appendLines(ctx context.Context, s AppendToFile) error {
	remote := t.scopes.resolve(s.RemotePath)
	fail := func(err error) error {
		return &TransferError{Host: t.host, RemotePath: remote, Err: err}
	}

	existing, err := t.conn.ReadFile(ctx, remote)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fail(err)
	}

	missing := missingLines(string(existing), s.Lines)
	if len(missing) == 0 {
		return nil
	}

	var buf bytes.Buffer
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		buf.WriteByte('\n')
	}
	for _, line := range missing {
		buf.WriteString(line)
		buf.WriteByte('\n')
	}
	if err := t.conn.AppendFile(ctx, remote, buf.Bytes()); err != nil {
		return fail(err)
	}
	return nil
}

// missingLines returns the lines not already present in content as whole
// lines, without duplicates, in their original order.
func missingLines(content string, lines []string) []string {
	present := make(map[string]bool)
	for _, l := range strings.Split(content, "\n") {
		present[strings.TrimRight(l, "\r")] = true
	}
	var missing []string
	for _, l := range lines {
		if present[l] {
			continue
		}
		present[l] = true
		missing = append(missing, l)
	}
	return missing
}

func (t *hostTask) capture(s string) {
	t.out.WriteString(s)
	if t.out.Len() > 2*maxResultOutput {
		tail := append([]byte(nil), t.out.Bytes()[t.out.Len()-maxResultOutput:]...)
		t.out.Reset()
		t.out.Write(tail)
	}
}

func (t *hostTask) result(err error) Result {
	res := Result{
		Host:       t.host,
		ExitStatus: t.exitStatus,
		Output:     truncate(t.out.String(), maxResultOutput),
		Stdout:     t.lastStdout,
		Succeeded:  err == nil,
		Err:        err,
	}
	if err != nil {
		var rce *RemoteCommandError
		if errors.As(err, &rce) {
			res.ExitStatus = rce.ExitStatus
		} else if res.ExitStatus == 0 {
			res.ExitStatus = -1
		}
	}
	return res
}
