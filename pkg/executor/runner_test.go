package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHosts = []string{"h1", "h2", "h3", "h4"}

func TestRunOnParallelFailureDoesNotStopSiblings(t *testing.T) {
	d := newFakeDialer()
	d.failOn("h2", "second", 3)

	ec := NewExecutionContext("root", "key.pem").WithParallel(true)
	steps := []Step{Run("first"), Run("second"), Run("third")}

	results, err := NewRunner(d).RunOn(context.Background(), ec, testHosts, steps)

	var fe *FanOutError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"h2"}, fe.Failed)
	assert.Equal(t, 4, fe.Total)

	require.Len(t, results, 4)
	for i, host := range testHosts {
		assert.Equal(t, host, results[i].Host)
	}
	for _, host := range []string{"h1", "h3", "h4"} {
		res, ok := results.Get(host)
		require.True(t, ok)
		assert.True(t, res.Succeeded, host)
		assert.Len(t, d.cmds(host), 3, host)
	}

	failed := results.ByHost()["h2"]
	assert.False(t, failed.Succeeded)
	assert.Equal(t, 3, failed.ExitStatus)
	// the failing host stops after the failing step
	assert.Len(t, d.cmds("h2"), 2)

	var rce *RemoteCommandError
	require.ErrorAs(t, err, &rce)
	assert.Equal(t, "h2", rce.Host)
	assert.Equal(t, "second", rce.Command)
	assert.Contains(t, rce.Output, "second: failed")
}

func TestRunOnParallelBounded(t *testing.T) {
	d := newFakeDialer()
	ec := NewExecutionContext("root", "key.pem").WithParallel(true)
	ec.MaxParallel = 1

	results, err := NewRunner(d).RunOn(context.Background(), ec, testHosts, []Step{Run("true")})
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Succeeded)
	}
}

func TestRunOnSequentialStopsAtFirstFailure(t *testing.T) {
	d := newFakeDialer()
	d.failOn("h2", "install", 1)

	ec := NewExecutionContext("root", "key.pem")
	results, err := NewRunner(d).RunOn(context.Background(), ec, testHosts, []Step{Run("install")})

	require.Error(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Succeeded)
	assert.False(t, results[1].Succeeded)
	assert.Equal(t, []string{"h1", "h2"}, d.dialed)
	assert.Empty(t, d.cmds("h3"))
}

func TestRunOnSequentialContinueOnError(t *testing.T) {
	d := newFakeDialer()
	d.failOn("h2", "install", 1)

	ec := NewExecutionContext("root", "key.pem")
	ec.ContinueOnError = true
	results, err := NewRunner(d).RunOn(context.Background(), ec, testHosts, []Step{Run("install")})

	var fe *FanOutError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"h2"}, fe.Failed)
	assert.Len(t, results, 4)
	assert.Equal(t, testHosts, d.dialed)
}

func TestRunOnConnectionFailure(t *testing.T) {
	d := newFakeDialer()
	d.failDial["h3"] = true

	ec := NewExecutionContext("root", "key.pem").WithParallel(true)
	results, err := NewRunner(d).RunOn(context.Background(), ec, testHosts, []Step{Run("true")})

	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "h3", ce.Host)

	res, ok := results.Get("h3")
	require.True(t, ok)
	assert.Equal(t, -1, res.ExitStatus)
	assert.False(t, res.Succeeded)
}

func TestRunOnUnreachableHostTransfer(t *testing.T) {
	tests := []struct {
		name       string
		steps      []Step
		remotePath string
	}{
		{
			name:       "put file",
			steps:      []Step{PutFile{Content: []byte("x"), RemotePath: "/mnt/eggo.cfg"}, Run("ls")},
			remotePath: "/mnt/eggo.cfg",
		},
		{
			name:       "put file inside directory scope",
			steps:      []Step{Cd("/mnt/work", Cd("jobs"), PutFile{Content: []byte("{}"), RemotePath: "job.json"})},
			remotePath: "/mnt/work/job.json",
		},
		{
			name:       "append to file",
			steps:      []Step{Env(map[string]string{"K": "v"}, AppendToFile{RemotePath: "~/.bash_profile", Lines: []string{"x"}})},
			remotePath: "~/.bash_profile",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDialer()
			d.failDial["m"] = true

			results, err := NewRunner(d).RunOn(context.Background(), NewExecutionContext("u", "k"), []string{"m"}, tt.steps)

			var te *TransferError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, "m", te.Host)
			assert.Equal(t, tt.remotePath, te.RemotePath)
			var ce *ConnectionError
			assert.ErrorAs(t, err, &ce)
			assert.Equal(t, -1, results[0].ExitStatus)
		})
	}
}

func TestRunOnUnreachableHostCommand(t *testing.T) {
	d := newFakeDialer()
	d.failDial["m"] = true

	_, err := NewRunner(d).RunOn(context.Background(), NewExecutionContext("u", "k"), []string{"m"},
		[]Step{Cd("/tmp"), Run("ls"), PutFile{Content: []byte("x"), RemotePath: "/a"}})

	var te *TransferError
	assert.False(t, errors.As(err, &te))
	var ce *ConnectionError
	require.ErrorAs(t, err, &ce)
}

func TestRunOnNoHosts(t *testing.T) {
	results, err := NewRunner(newFakeDialer()).RunOn(context.Background(), NewExecutionContext("u", "k"), nil, []Step{Run("x")})
	assert.NoError(t, err)
	assert.Empty(t, results)
}

func TestRunOnScopesWrapEachCommand(t *testing.T) {
	d := newFakeDialer()
	steps := []Step{
		Cd("/tmp",
			Run("curl -O https://bootstrap.pypa.io/get-pip.py"),
			Env(map[string]string{"MAVEN_OPTS": "-Xmx1g"}, Run("mvn package")),
		),
		Run("after"),
	}

	_, err := NewRunner(d).RunOn(context.Background(), NewExecutionContext("u", "k"), []string{"m"}, steps)
	require.NoError(t, err)

	assert.Equal(t, []string{
		`/bin/bash -l -c 'cd /tmp && curl -O https://bootstrap.pypa.io/get-pip.py'`,
		`/bin/bash -l -c 'export MAVEN_OPTS=-Xmx1g && cd /tmp && mvn package'`,
		`/bin/bash -l -c after`,
	}, d.cmds("m"))
}

func TestRunOnScopeUnwoundAfterFailure(t *testing.T) {
	d := newFakeDialer()
	d.failOn("m", "bad", 2)

	// a failure inside a scope ends the host stream; a new RunOn on the
	// same runner starts with no scope applied
	r := NewRunner(d)
	ec := NewExecutionContext("u", "k")
	_, err := r.RunOn(context.Background(), ec, []string{"m"}, []Step{Cd("/deep", Run("bad"))})
	require.Error(t, err)

	_, err = r.RunOn(context.Background(), ec, []string{"m"}, []Step{Run("ok")})
	require.NoError(t, err)
	cmds := d.cmds("m")
	assert.Equal(t, `/bin/bash -l -c ok`, cmds[len(cmds)-1])
}

func TestRunOnPutFile(t *testing.T) {
	d := newFakeDialer()
	steps := []Step{
		PutFile{Content: []byte("[core]\n"), RemotePath: "/mnt/luigi.cfg"},
		Cd("/mnt/work", PutFile{Content: []byte("{}"), RemotePath: "job.json"}),
	}

	_, err := NewRunner(d).RunOn(context.Background(), NewExecutionContext("u", "k"), []string{"m"}, steps)
	require.NoError(t, err)
	assert.Equal(t, "[core]\n", d.file("m", "/mnt/luigi.cfg"))
	assert.Equal(t, "{}", d.file("m", "/mnt/work/job.json"))
}

func TestRunOnPutFileMissingLocal(t *testing.T) {
	d := newFakeDialer()
	steps := []Step{PutFile{LocalPath: "/nonexistent/eggo.cfg", RemotePath: "/mnt/eggo.cfg"}}

	results, err := NewRunner(d).RunOn(context.Background(), NewExecutionContext("u", "k"), []string{"m"}, steps)

	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "/mnt/eggo.cfg", te.RemotePath)
	assert.Equal(t, -1, results[0].ExitStatus)
}

func TestAppendToFileIsIdempotent(t *testing.T) {
	d := newFakeDialer()
	step := AppendToFile{
		RemotePath: "~/.bash_profile",
		Lines:      []string{"export M2_HOME=/usr/local/apache-maven", "export PATH=$PATH:$M2"},
	}
	r := NewRunner(d)
	ec := NewExecutionContext("u", "k")

	for i := 0; i < 2; i++ {
		_, err := r.RunOn(context.Background(), ec, []string{"m"}, []Step{step})
		require.NoError(t, err)
	}
	assert.Equal(t,
		"export M2_HOME=/usr/local/apache-maven\nexport PATH=$PATH:$M2\n",
		d.file("m", "~/.bash_profile"))
}

func TestAppendToFileAddsMissingNewline(t *testing.T) {
	d := newFakeDialer()
	_, err := d.Dial(context.Background(), ExecutionContext{}, "m")
	require.NoError(t, err)
	d.files["m"]["/etc/profile.d/x.sh"] = []byte("export A=1")

	step := AppendToFile{RemotePath: "/etc/profile.d/x.sh", Lines: []string{"export A=1", "export B=2"}}
	_, err = NewRunner(d).RunOn(context.Background(), NewExecutionContext("u", "k"), []string{"m"}, []Step{step})
	require.NoError(t, err)
	assert.Equal(t, "export A=1\nexport B=2\n", d.file("m", "/etc/profile.d/x.sh"))
}

func TestResultStdoutIsLastCommand(t *testing.T) {
	d := newFakeDialer()
	d.stdout["echo $SLAVES"] = "s1 s2\n"

	results, err := NewRunner(d).RunOn(context.Background(), NewExecutionContext("u", "k"), []string{"m"},
		[]Step{Run("true"), Prefix("source vars.sh", Run("echo $SLAVES"))})
	require.NoError(t, err)
	assert.Equal(t, "s1 s2\n", results[0].Stdout)
	assert.Equal(t, 0, results[0].ExitStatus)
}

func TestRemoteCommandErrorOutputTruncated(t *testing.T) {
	d := newFakeDialer()
	big := strings.Repeat("x", MaxErrorOutput+100)
	d.stdout["noisy"] = big
	d.failOn("m", "noisy", 1)

	_, err := NewRunner(d).RunOn(context.Background(), NewExecutionContext("u", "k"), []string{"m"}, []Step{Run("noisy")})

	var rce *RemoteCommandError
	require.True(t, errors.As(err, &rce))
	assert.True(t, strings.HasPrefix(rce.Output, truncatedMarker))
	assert.Len(t, rce.Output, len(truncatedMarker)+MaxErrorOutput)
}

func TestWalk(t *testing.T) {
	steps := []Step{
		Run("a"),
		Cd("/x", Run("b"), Env(map[string]string{"K": "v"}, Run("c"))),
	}
	var seen []string
	Walk(steps, func(s Step) { seen = append(seen, s.String()) })
	assert.Equal(t, []string{"run: a", "cd: /x", "run: b", "env: K", "run: c"}, seen)
}
