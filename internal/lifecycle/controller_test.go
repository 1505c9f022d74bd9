package lifecycle

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/andrej220/eggo/internal/catalog"
	"github.com/andrej220/eggo/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ex "github.com/andrej220/eggo/pkg/executor"
)

const masterHost = "ec2-54-1-2-3.compute-1.amazonaws.com"

type fakeBackend struct {
	launched, destroyed bool
	err                 error
}

func (b *fakeBackend) GetMaster(context.Context) (string, error) {
	return "Searching for existing cluster\nFound 1 master\n" + masterHost + "\n", b.err
}

func (b *fakeBackend) Launch(context.Context) error {
	b.launched = true
	return b.err
}

func (b *fakeBackend) Destroy(context.Context) error {
	b.destroyed = true
	return b.err
}

// recorder is a Dialer that remembers what every host was asked to do.
type recorder struct {
	mu       sync.Mutex
	slaves   string
	commands map[string][]string
	uploads  map[string]map[string]string
	failHost string
}

func newRecorder(slaves string) *recorder {
	return &recorder{
		slaves:   slaves,
		commands: make(map[string][]string),
		uploads:  make(map[string]map[string]string),
	}
}

func (r *recorder) Dial(_ context.Context, _ ex.ExecutionContext, host string) (ex.Conn, error) {
	return &recConn{r: r, host: host}, nil
}

func (r *recorder) hosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var hosts []string
	for h := range r.commands {
		hosts = append(hosts, h)
	}
	for h := range r.uploads {
		if _, ok := r.commands[h]; !ok {
			hosts = append(hosts, h)
		}
	}
	return hosts
}

type recConn struct {
	r    *recorder
	host string
}

func (c *recConn) Run(_ context.Context, cmd string) (ex.CommandOutput, error) {
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	c.r.commands[c.host] = append(c.r.commands[c.host], cmd)
	if strings.Contains(cmd, "echo $SLAVES") {
		return ex.CommandOutput{Stdout: c.r.slaves + "\n"}, nil
	}
	if c.host == c.r.failHost {
		return ex.CommandOutput{Stderr: "no space left on device\n", ExitStatus: 1}, nil
	}
	return ex.CommandOutput{}, nil
}

func (c *recConn) Upload(_ context.Context, p string, src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	c.r.mu.Lock()
	defer c.r.mu.Unlock()
	if c.r.uploads[c.host] == nil {
		c.r.uploads[c.host] = make(map[string]string)
	}
	c.r.uploads[c.host][p] = string(data)
	return nil
}

func (c *recConn) ReadFile(_ context.Context, p string) ([]byte, error) {
	return nil, fs.ErrNotExist
}

func (c *recConn) AppendFile(context.Context, string, []byte) error { return nil }

func (c *recConn) Close() error { return nil }

type fakeTerminal struct {
	shellHost string

	fwdHost, local, remote string
}

func (t *fakeTerminal) Shell(_ context.Context, _ ex.ExecutionContext, host string) error {
	t.shellHost = host
	return nil
}

func (t *fakeTerminal) Forward(_ context.Context, _ ex.ExecutionContext, host, localAddr, remoteAddr string) error {
	t.fwdHost, t.local, t.remote = host, localAddr, remoteAddr
	return nil
}

func testConfig(t *testing.T) *config.Config {
	cfgPath := filepath.Join(t.TempDir(), "eggo.cfg")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[aws]\n"), 0o600))
	return &config.Config{
		Path: cfgPath,
		AWS:  config.AWS{AccessKeyID: "AKIAEXAMPLE", SecretAccessKey: "secret"},
		WorkerEnv: config.WorkerEnv{
			WorkPath:        "/mnt/eggo",
			EggoHome:        "/mnt/eggo/eggo",
			EggoConfigPath:  "/mnt/eggo/eggo.cfg",
			LuigiConfigPath: "/mnt/eggo/luigi.cfg",
			HadoopHome:      "/root/ephemeral-hdfs",
			SparkHome:       "/root/spark",
		},
		Versions: config.Versions{
			Maven:      "3.2.5",
			AdamFork:   catalog.DefaultFork,
			AdamBranch: catalog.DefaultBranch,
			EggoFork:   catalog.DefaultFork,
			EggoBranch: catalog.DefaultBranch,
		},
	}
}

func newController(t *testing.T, rec *recorder) (*Controller, *fakeBackend, *fakeTerminal) {
	backend := &fakeBackend{}
	term := &fakeTerminal{}
	c := New(backend, catalog.New(testConfig(t)), rec, term, ex.NewExecutionContext("root", "/home/me/eggo.pem"))
	return c, backend, term
}

func TestSubmitJob(t *testing.T) {
	jobPath := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(jobPath, []byte(`{"dag": "com.example.MyFlow"}`), 0o600))

	rec := newRecorder("s1 s2")
	c, _, _ := newController(t, rec)

	results, err := c.SubmitJob(context.Background(), jobPath)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, masterHost, results[0].Host)

	// only the master is contacted; slaves are never resolved
	assert.Equal(t, []string{masterHost}, rec.hosts())
	assert.Equal(t, `{"dag": "com.example.MyFlow"}`, rec.uploads[masterHost]["/mnt/eggo/job.json"])
	assert.Equal(t, []string{
		`/bin/bash -l -c 'export AWS_ACCESS_KEY_ID=AKIAEXAMPLE && export AWS_SECRET_ACCESS_KEY=secret && ` +
			`export EGGO_CONFIG=/mnt/eggo/eggo.cfg && export LUIGI_CONFIG_PATH=/mnt/eggo/luigi.cfg && ` +
			`export SPARK_HOME=/root/spark && export PATH="$PATH:/root/ephemeral-hdfs/bin" && ` +
			`toaster.py --local-scheduler com.example.MyFlow --ToastConfig-config /mnt/eggo/job.json'`,
	}, rec.commands[masterHost])
}

func TestSubmitJobBadDescription(t *testing.T) {
	jobPath := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(jobPath, []byte(`{}`), 0o600))

	rec := newRecorder("")
	c, _, _ := newController(t, rec)

	_, err := c.SubmitJob(context.Background(), jobPath)
	assert.ErrorContains(t, err, "dag")
	assert.Empty(t, rec.hosts())
}

func TestDeployConfigAllWorkers(t *testing.T) {
	rec := newRecorder("s1 s2")
	c, _, _ := newController(t, rec)

	results, err := c.DeployConfig(context.Background())
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, []string{masterHost, "s1", "s2"}, []string{results[0].Host, results[1].Host, results[2].Host})
	for _, h := range []string{masterHost, "s1", "s2"} {
		assert.Equal(t, "[aws]\n", rec.uploads[h]["/mnt/eggo/eggo.cfg"], h)
		assert.Contains(t, rec.uploads[h]["/mnt/eggo/luigi.cfg"], "[spark]", h)
	}
}

func TestSetupSlavesFailureReportsHost(t *testing.T) {
	rec := newRecorder("s1 s2 s3")
	rec.failHost = "s2"
	c, _, _ := newController(t, rec)

	results, err := c.SetupSlaves(context.Background())

	var fe *ex.FanOutError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"s2"}, fe.Failed)
	assert.Contains(t, err.Error(), string(catalog.SetupSlaves))
	require.Len(t, results, 3)
	assert.True(t, results.ByHost()["s1"].Succeeded)
	assert.True(t, results.ByHost()["s3"].Succeeded)
	assert.Contains(t, results.ByHost()["s2"].Output, "no space left")
}

func TestSetupSlavesSingleNode(t *testing.T) {
	rec := newRecorder("")
	c, _, _ := newController(t, rec)

	results, err := c.SetupSlaves(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	// only the slave lookup ran
	assert.Equal(t, []string{masterHost}, rec.hosts())
	assert.Len(t, rec.commands[masterHost], 1)
}

func TestResolutionFailureRunsNothing(t *testing.T) {
	rec := newRecorder("s1")
	c, backend, _ := newController(t, rec)
	backend.err = errors.New("no cluster")

	_, err := c.UpdateEggo(context.Background())

	var re *ex.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Empty(t, rec.hosts())
}

func TestProvisionAndTeardown(t *testing.T) {
	c, backend, _ := newController(t, newRecorder(""))

	require.NoError(t, c.Provision(context.Background()))
	require.NoError(t, c.Teardown(context.Background()))
	assert.True(t, backend.launched)
	assert.True(t, backend.destroyed)
}

func TestLoginAndWebProxy(t *testing.T) {
	c, _, term := newController(t, newRecorder(""))

	require.NoError(t, c.Login(context.Background()))
	assert.Equal(t, masterHost, term.shellHost)

	require.NoError(t, c.WebProxy(context.Background(), "localhost:8080", 8080))
	assert.Equal(t, masterHost, term.fwdHost)
	assert.Equal(t, "localhost:8080", term.local)
	assert.Equal(t, "localhost:8080", term.remote)
}

func TestRunUnknownAction(t *testing.T) {
	c, _, _ := newController(t, newRecorder(""))
	_, err := c.Run(context.Background(), "proxy")
	assert.ErrorContains(t, err, "unknown action")
}
