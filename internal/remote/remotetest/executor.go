// Package remotetest provides a scripted remote.Executor for package
// tests. Responses are matched against the executed command by
// substring, first registered rule wins.
package remotetest

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/remote"
)

// Response is one scripted command outcome.
type Response struct {
	OK     bool
	Stdout string
	Stderr string
}

type rule struct {
	substr string
	fn     func(command string) Response
}

// Executor is a scripted implementation of remote.Executor. The zero
// value answers every command with a clean empty success; tests add
// rules with On/OnFunc and inspect the recorded command history.
type Executor struct {
	mu       sync.Mutex
	rules    []rule
	commands []string

	// Files maps remote paths to content served by DownloadFile.
	// Paths not present fail the download.
	Files map[string]string

	backgroundOK bool
	background   []string
	downloads    [][2]string
}

// New returns an empty scripted executor.
func New() *Executor {
	return &Executor{Files: map[string]string{}, backgroundOK: true}
}

// On registers a fixed response for commands containing substr.
func (e *Executor) On(substr string, resp Response) {
	e.OnFunc(substr, func(string) Response { return resp })
}

// OnFunc registers a computed response for commands containing substr.
func (e *Executor) OnFunc(substr string, fn func(command string) Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule{substr: substr, fn: fn})
}

// Execute implements remote.Executor.
func (e *Executor) Execute(command string, _ time.Duration) (bool, string, string) {
	e.mu.Lock()
	e.commands = append(e.commands, command)
	rules := make([]rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.Unlock()

	for _, r := range rules {
		if strings.Contains(command, r.substr) {
			resp := r.fn(command)
			return resp.OK, resp.Stdout, resp.Stderr
		}
	}
	return true, "", ""
}

// ExecuteBackground implements remote.Executor.
func (e *Executor) ExecuteBackground(command string) (remote.Handle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.background = append(e.background, command)
	if !e.backgroundOK {
		return nil, false
	}
	return doneHandle{}, true
}

// DownloadFile implements remote.Executor. Content registered in Files
// is written to localPath; unknown remote paths fail.
func (e *Executor) DownloadFile(remotePath, localPath string) bool {
	e.mu.Lock()
	content, ok := e.Files[remotePath]
	e.downloads = append(e.downloads, [2]string{remotePath, localPath})
	e.mu.Unlock()

	if !ok {
		return false
	}
	if err := os.WriteFile(localPath, []byte(content), 0o644); err != nil {
		return false
	}
	return len(content) > 0
}

// TestConnection implements remote.Executor, routed through Execute so
// tests can script it like any other command.
func (e *Executor) TestConnection() bool {
	ok, stdout, _ := e.Execute("echo connected", 0)
	return ok && strings.Contains(stdout, "connected")
}

// Commands returns every executed command in order.
func (e *Executor) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.commands))
	copy(out, e.commands)
	return out
}

// Downloads returns every attempted download as {remote, local} pairs.
func (e *Executor) Downloads() [][2]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][2]string, len(e.downloads))
	copy(out, e.downloads)
	return out
}

// CommandCount returns how many executed commands contain substr.
func (e *Executor) CommandCount(substr string) int {
	n := 0
	for _, c := range e.Commands() {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

type doneHandle struct{}

func (doneHandle) Wait() error { return nil }
