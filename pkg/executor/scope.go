package executor

import (
	"fmt"
	"path"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// frame is one active scope. Exactly one of its fields is set.
type frame struct {
	dir    string
	env    map[string]string
	prefix string
}

// scopeStack holds the scopes enclosing the step being interpreted.
// Frames are pushed when a scope step is entered and popped when its
// nested steps finish, whether they succeeded or not.
type scopeStack struct {
	frames []frame
}

func (s *scopeStack) push(f frame) { s.frames = append(s.frames, f) }

func (s *scopeStack) pop() {
	if len(s.frames) == 0 {
		panic("executor: pop on empty scope stack")
	}
	s.frames = s.frames[:len(s.frames)-1]
}

func (s *scopeStack) depth() int { return len(s.frames) }

// within pushes f, runs fn and pops f again.
func (s *scopeStack) within(f frame, fn func() error) error {
	s.push(f)
	defer s.pop()
	return fn()
}

// dir is the effective working directory. Relative directories are
// joined onto the enclosing one; absolute or home-relative ones replace it.
func (s *scopeStack) dir() string {
	var cwd string
	for _, f := range s.frames {
		if f.dir == "" {
			continue
		}
		if cwd == "" || isRooted(f.dir) {
			cwd = f.dir
			continue
		}
		cwd = path.Join(cwd, f.dir)
	}
	return cwd
}

// resolve maps a remote path onto the effective working directory.
func (s *scopeStack) resolve(p string) string {
	if isRooted(p) {
		return p
	}
	if cwd := s.dir(); cwd != "" {
		return path.Join(cwd, p)
	}
	return p
}

// render builds the shell command for cmd inside the active scopes:
// exports, then cd, then prefixes, then cmd, joined with "&&". Env values
// and directories are quoted literally; only prefixes and cmd are left to
// the shell.
func (s *scopeStack) render(cmd string) string {
	var parts []string
	for _, f := range s.frames {
		for _, k := range sortedKeys(f.env) {
			parts = append(parts, fmt.Sprintf("export %s=%s", k, shellescape.Quote(f.env[k])))
		}
	}
	if cwd := s.dir(); cwd != "" {
		parts = append(parts, "cd "+quotePath(cwd))
	}
	for _, f := range s.frames {
		if f.prefix != "" {
			parts = append(parts, f.prefix)
		}
	}
	parts = append(parts, cmd)
	return strings.Join(parts, " && ")
}

// Shell is the login shell every command runs in, so that profile
// exports registered by earlier steps are visible.
const Shell = "/bin/bash -l -c"

// wrapShell wraps a rendered command for the login shell.
func wrapShell(cmd string) string {
	return Shell + " " + shellescape.Quote(cmd)
}

func isRooted(p string) bool {
	return strings.HasPrefix(p, "/") || p == "~" || strings.HasPrefix(p, "~/")
}

// quotePath leaves a leading ~ unquoted so the shell expands it to the
// remote home directory.
func quotePath(p string) string {
	switch {
	case p == "~":
		return p
	case strings.HasPrefix(p, "~/"):
		if rest := p[2:]; rest != "" {
			return "~/" + shellescape.Quote(rest)
		}
		return p
	}
	return shellescape.Quote(p)
}
