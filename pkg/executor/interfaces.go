package executor

import (
	"context"
	"io"
	"time"
)

// CommandOutput is what a single remote command produced.
type CommandOutput struct {
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Conn is one live connection to one host. Run returns a non-nil error
// only when the transport fails; a command that exits non-zero is
// reported through ExitStatus.
type Conn interface {
	Run(ctx context.Context, cmd string) (CommandOutput, error)
	Upload(ctx context.Context, remotePath string, r io.Reader) error
	// ReadFile returns an error wrapping fs.ErrNotExist when the file is absent.
	ReadFile(ctx context.Context, remotePath string) ([]byte, error)
	AppendFile(ctx context.Context, remotePath string, data []byte) error
	Close() error
}

// Dialer opens connections (SSH or any transport) using the credentials
// carried by the ExecutionContext.
type Dialer interface {
	Dial(ctx context.Context, ec ExecutionContext, host string) (Conn, error)
}

// ExecutionContext carries everything a remote call needs to know about
// how to connect and how to fan out. It is passed by value into every
// resolver and runner call.
type ExecutionContext struct {
	User    string
	KeyFile string
	Port    int

	// Parallel runs host streams concurrently.
	Parallel bool
	// MaxParallel bounds concurrent host streams; 0 means one per host.
	MaxParallel int
	// ContinueOnError keeps a sequential fan-out going after a host fails.
	ContinueOnError bool

	DialTimeout time.Duration
	// DialRetry bounds how long connection establishment is retried.
	// Zero disables retries. Commands are never retried.
	DialRetry time.Duration
}

const (
	DefaultPort        = 22
	DefaultDialTimeout = 10 * time.Second
	DefaultDialRetry   = 30 * time.Second
)

// NewExecutionContext returns a context with the default port and timeouts.
func NewExecutionContext(user, keyFile string) ExecutionContext {
	return ExecutionContext{
		User:        user,
		KeyFile:     keyFile,
		Port:        DefaultPort,
		DialTimeout: DefaultDialTimeout,
		DialRetry:   DefaultDialRetry,
	}
}

// WithParallel returns a copy of ec with the fan-out mode set.
func (ec ExecutionContext) WithParallel(parallel bool) ExecutionContext {
	ec.Parallel = parallel
	return ec
}
