package executor

import (
	"fmt"
	"sort"
	"strings"
)

// Step is one primitive of a remote action. Steps only describe work;
// nothing happens until a Runner interprets them against a Conn.
type Step interface {
	fmt.Stringer
	step()
}

// RunCommand runs Cmd through a login shell in the active scopes.
type RunCommand struct {
	Cmd string
}

// PutFile uploads either the local file at LocalPath or Content.
// A relative RemotePath is resolved against the active directory scope.
type PutFile struct {
	LocalPath  string
	Content    []byte
	RemotePath string
}

// AppendToFile appends each of Lines to RemotePath unless the file already
// contains it as a whole line.
type AppendToFile struct {
	RemotePath string
	Lines      []string
}

// ChangeDirectoryScope runs Steps with Dir as working directory.
type ChangeDirectoryScope struct {
	Dir   string
	Steps []Step
}

// SetEnvScope runs Steps with Env exported.
type SetEnvScope struct {
	Env   map[string]string
	Steps []Step
}

// PrefixShellScope runs Steps with Prefix executed before each command.
type PrefixShellScope struct {
	Prefix string
	Steps  []Step
}

func (RunCommand) step()           {}
func (PutFile) step()              {}
func (AppendToFile) step()         {}
func (ChangeDirectoryScope) step() {}
func (SetEnvScope) step()          {}
func (PrefixShellScope) step()     {}

func (s RunCommand) String() string { return "run: " + s.Cmd }

func (s PutFile) String() string {
	src := s.LocalPath
	if s.LocalPath == "" {
		src = fmt.Sprintf("<%d bytes>", len(s.Content))
	}
	return fmt.Sprintf("put: %s -> %s", src, s.RemotePath)
}

func (s AppendToFile) String() string {
	return fmt.Sprintf("append: %d line(s) -> %s", len(s.Lines), s.RemotePath)
}

func (s ChangeDirectoryScope) String() string { return "cd: " + s.Dir }

func (s SetEnvScope) String() string {
	return "env: " + strings.Join(sortedKeys(s.Env), ",")
}

func (s PrefixShellScope) String() string { return "prefix: " + s.Prefix }

// Run, Cd, Env and Prefix are shorthands used to build step trees.
func Run(cmd string) Step { return RunCommand{Cmd: cmd} }

func Cmdf(format string, args ...any) Step {
	return RunCommand{Cmd: fmt.Sprintf(format, args...)}
}

func Cd(dir string, steps ...Step) Step {
	return ChangeDirectoryScope{Dir: dir, Steps: steps}
}

func Env(env map[string]string, steps ...Step) Step {
	return SetEnvScope{Env: env, Steps: steps}
}

func Prefix(prefix string, steps ...Step) Step {
	return PrefixShellScope{Prefix: prefix, Steps: steps}
}

// Walk calls fn for every step in steps, depth first, in execution order.
func Walk(steps []Step, fn func(Step)) {
	for _, s := range steps {
		fn(s)
		switch s := s.(type) {
		case ChangeDirectoryScope:
			Walk(s.Steps, fn)
		case SetEnvScope:
			Walk(s.Steps, fn)
		case PrefixShellScope:
			Walk(s.Steps, fn)
		}
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
