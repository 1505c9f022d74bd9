package executor

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andrej220/eggo/internal/lg"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/sftp"
	"github.com/sony/gobreaker"
	"golang.org/x/crypto/ssh"

	ex "github.com/andrej220/eggo/pkg/executor"
)

type ResilienceConfig struct {
	BackoffSettings        *backoff.ExponentialBackOff
	CircuitBreakerSettings gobreaker.Settings
	CircuitBreaker         *gobreaker.CircuitBreaker
}

func NewResilienceConfig(host string, dialRetry time.Duration) *ResilienceConfig {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.Multiplier = 1.5
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = dialRetry

	cbs := gobreaker.Settings{
		Name:        "ssh-session/" + host,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	}
	return &ResilienceConfig{
		BackoffSettings:        bo,
		CircuitBreakerSettings: cbs,
		CircuitBreaker:         gobreaker.NewCircuitBreaker(cbs),
	}
}

// ResilientSSHClient is one SSH connection to one host. Connection
// establishment is retried with backoff; session creation goes through a
// circuit breaker so a dead connection fails fast instead of hanging
// every following step.
type ResilientSSHClient struct {
	SSHClient *ssh.Client
	ResConf   *ResilienceConfig

	host string
	sftp *sftp.Client
}

// Dial connects to host with the credentials in ec.
func Dial(ctx context.Context, ec ex.ExecutionContext, host string) (*ResilientSSHClient, error) {
	auth, err := publicKeyAuth(ec.KeyFile)
	if err != nil {
		return nil, err
	}
	timeout := ec.DialTimeout
	if timeout <= 0 {
		timeout = ex.DefaultDialTimeout
	}
	config := &ssh.ClientConfig{
		User: ec.User,
		Auth: []ssh.AuthMethod{auth},
		// cluster hosts are created minutes before first contact, their
		// keys cannot be known in advance
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         timeout,
		BannerCallback:  func(message string) error { return nil }, //ignore banner
	}

	addr := hostAddr(host, ec.Port)
	resConf := NewResilienceConfig(host, ec.DialRetry)
	logger := lg.FromContext(ctx).With(lg.String("host", host))

	var client *ssh.Client
	operation := func() error {
		c, err := dialContext(ctx, addr, config)
		if err != nil {
			if isAuthError(err) {
				return backoff.Permanent(err)
			}
			logger.Debug("dial failed, retrying", lg.Err(err))
			return err
		}
		client = c
		return nil
	}

	var b backoff.BackOff = resConf.BackoffSettings
	if ec.DialRetry <= 0 {
		b = &backoff.StopBackOff{}
	}
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	return &ResilientSSHClient{SSHClient: client, ResConf: resConf, host: host}, nil
}

func dialContext(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ssh.NewClient(c, chans, reqs), nil
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

func hostAddr(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if port == 0 {
		port = ex.DefaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// newSession opens a session through the circuit breaker.
// The caller is responsible for closing the returned session.
func (c *ResilientSSHClient) newSession() (*ssh.Session, error) {
	res, err := c.ResConf.CircuitBreaker.Execute(func() (any, error) {
		return c.SSHClient.NewSession()
	})
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}
	return res.(*ssh.Session), nil
}

// sftpClient starts the sftp subsystem on first use.
func (c *ResilientSSHClient) sftpClient() (*sftp.Client, error) {
	if c.sftp != nil {
		return c.sftp, nil
	}
	sc, err := sftp.NewClient(c.SSHClient)
	if err != nil {
		return nil, fmt.Errorf("start sftp: %w", err)
	}
	c.sftp = sc
	return sc, nil
}

func (c *ResilientSSHClient) Close() error {
	if c.sftp != nil {
		c.sftp.Close()
	}
	return c.SSHClient.Close()
}

func publicKeyAuth(privateKeyPath string) (ssh.AuthMethod, error) {
	key, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("unable to parse private key %s: %w", privateKeyPath, err)
	}
	return ssh.PublicKeys(signer), nil
}
