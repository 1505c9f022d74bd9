package executor

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxErrorOutput caps the captured output carried by a RemoteCommandError.
// The tail is kept since that is where failures are reported.
const MaxErrorOutput = 64 << 10

const truncatedMarker = "...[truncated]...\n"

// ResolutionError means the master/slave topology could not be determined.
type ResolutionError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString("resolve ")
	b.WriteString(e.Op)
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// RemoteCommandError is a remote command that exited non-zero.
type RemoteCommandError struct {
	Host       string
	Command    string
	ExitStatus int
	Output     string
}

func (e *RemoteCommandError) Error() string {
	return fmt.Sprintf("%s: command %q exited with status %d:\n%s", e.Host, e.Command, e.ExitStatus, e.Output)
}

// TransferError is a failed file copy or remote file update.
type TransferError struct {
	Host       string
	LocalPath  string
	RemotePath string
	Err        error
}

func (e *TransferError) Error() string {
	src := e.LocalPath
	if src == "" {
		src = "<buffer>"
	}
	return fmt.Sprintf("%s: transfer %s -> %s: %v", e.Host, src, e.RemotePath, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// ConnectionError means no connection could be opened to Host.
type ConnectionError struct {
	Host string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: connect: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// FanOutError aggregates the host failures of one RunOn call.
type FanOutError struct {
	Failed []string
	Total  int
	Err    error
}

func (e *FanOutError) Error() string {
	return fmt.Sprintf("%d of %d host(s) failed [%s]: %v", len(e.Failed), e.Total, strings.Join(e.Failed, ", "), e.Err)
}

func (e *FanOutError) Unwrap() error { return e.Err }

// truncate keeps at most max bytes from the end of s, starting on a rune
// boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return truncatedMarker + s[cut:]
}
