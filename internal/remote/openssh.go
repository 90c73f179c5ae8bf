package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// OpenSSHExecutor runs commands through the local OpenSSH client
// binary. Each call spawns an independent ssh process; there is no
// persistent session, which is why callers re-discover remote
// processes by matching their invocation pattern instead of holding
// handles. The executable path and the pubkey option the installed
// client understands are resolved once, lazily, and cached for the
// process lifetime.
type OpenSSHExecutor struct {
	opts Options

	probeOnce    sync.Once
	sshExe       string
	pubkeyOption string
}

// NewOpenSSHExecutor creates an executor backed by the ssh binary.
func NewOpenSSHExecutor(opts Options) *OpenSSHExecutor {
	opts.setDefaults()
	return &OpenSSHExecutor{opts: opts}
}

// probe resolves the ssh executable and the supported pubkey option.
// Re-probing on every call would add latency to every operation with
// no benefit, so this runs exactly once.
func (e *OpenSSHExecutor) probe() {
	e.sshExe = findSSHExecutable()
	e.pubkeyOption = detectPubkeyOption(e.sshExe)
	log.Info().
		Str("ssh", e.sshExe).
		Str("pubkey_option", e.pubkeyOption).
		Msg("resolved OpenSSH client")
}

// findSSHExecutable locates the ssh binary, checking PATH first and
// then well-known Windows install locations. When nothing is found it
// falls back to the bare name, deferring the real failure to first use.
func findSSHExecutable() string {
	if path, err := exec.LookPath("ssh"); err == nil {
		return path
	}

	candidates := []string{
		`C:\Windows\System32\OpenSSH\ssh.exe`,
		`C:\Program Files\OpenSSH\ssh.exe`,
		`C:\Program Files (x86)\OpenSSH\ssh.exe`,
	}
	if user := os.Getenv("USERNAME"); user != "" {
		candidates = append(candidates,
			`C:\Users\`+user+`\AppData\Local\Microsoft\WindowsApps\ssh.exe`)
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return "ssh"
}

// detectPubkeyOption probes which pubkey algorithm option the
// installed client accepts. Older clients use PubkeyAcceptedKeyTypes;
// newer ones renamed it. Returns "" when neither probe succeeds.
func detectPubkeyOption(sshExe string) string {
	for _, opt := range []string{"PubkeyAcceptedAlgorithms", "PubkeyAcceptedKeyTypes"} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := exec.CommandContext(ctx, sshExe, "-G", "-o", opt+"=+ssh-rsa", "dummy").Run()
		cancel()
		if err == nil {
			return opt
		}
	}
	return ""
}

// buildArgs assembles the ssh argument list up to and including the
// user@host target. The remote command is appended by the caller.
func (e *OpenSSHExecutor) buildArgs(batchMode bool) []string {
	args := []string{
		"-o", "StrictHostKeyChecking=no",
		"-o", "HostKeyAlgorithms=+ssh-rsa",
	}
	if e.pubkeyOption != "" {
		args = append(args, "-o", e.pubkeyOption+"=+ssh-rsa")
	}
	if e.opts.ConnectTimeout > 0 {
		args = append(args, "-o",
			fmt.Sprintf("ConnectTimeout=%d", int(e.opts.ConnectTimeout.Seconds())))
	}
	if batchMode {
		args = append(args, "-o", "BatchMode=yes")
	}
	if e.opts.Port != 22 {
		args = append(args, "-p", strconv.Itoa(e.opts.Port))
	}
	if e.opts.KeyPath != "" {
		args = append(args, "-i", e.opts.KeyPath)
	}
	return append(args, e.opts.User+"@"+e.opts.Host)
}

// Execute implements Executor.
func (e *OpenSSHExecutor) Execute(command string, timeout time.Duration) (bool, string, string) {
	e.probeOnce.Do(e.probe)
	if timeout <= 0 {
		timeout = e.opts.CommandTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout+commandGrace)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.sshExe, append(e.buildArgs(false), command)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Debug().Str("command", command).Dur("timeout", timeout).Msg("remote command timed out")
		return false, stdout.String(), "Command timeout"
	}
	if err != nil {
		diag := stderr.String()
		if diag == "" {
			diag = err.Error()
		}
		return false, stdout.String(), diag
	}
	return true, stdout.String(), stderr.String()
}

// ExecuteBackground implements Executor.
func (e *OpenSSHExecutor) ExecuteBackground(command string) (Handle, bool) {
	e.probeOnce.Do(e.probe)

	cmd := exec.Command(e.sshExe, append(e.buildArgs(false), command)...)
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		log.Warn().Err(err).Msg("failed to start background command")
		return nil, false
	}

	h := &processHandle{done: make(chan error, 1)}
	go func() { h.done <- cmd.Wait() }()
	return h, true
}

// DownloadFile implements Executor using a cat pipe over ssh.
func (e *OpenSSHExecutor) DownloadFile(remotePath, localPath string) bool {
	e.probeOnce.Do(e.probe)

	out, err := os.Create(localPath)
	if err != nil {
		log.Warn().Err(err).Str("local", localPath).Msg("cannot create local file")
		return false
	}
	defer out.Close()

	ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.sshExe, append(e.buildArgs(false), "cat "+remotePath)...)
	var stderr bytes.Buffer
	cmd.Stdout = out
	cmd.Stderr = &stderr
	cmd.Stdin = nil

	log.Debug().Str("remote", remotePath).Str("local", localPath).Msg("downloading capture file")
	if err := cmd.Run(); err != nil {
		log.Warn().Err(err).Str("remote", remotePath).Str("stderr", stderr.String()).Msg("download failed")
		return false
	}

	info, err := os.Stat(localPath)
	if err != nil || info.Size() == 0 {
		// A clean exit with an empty result still means the file was
		// not transferred.
		log.Warn().Str("remote", remotePath).Msg("download produced an empty file")
		return false
	}
	log.Debug().Int64("bytes", info.Size()).Str("local", localPath).Msg("download complete")
	return true
}

// TestConnection implements Executor.
func (e *OpenSSHExecutor) TestConnection() bool {
	ok, stdout, _ := e.Execute(connectionProbe, 10*time.Second)
	return ok && strings.Contains(stdout, connectionSentinel)
}

// processHandle wraps a detached local ssh process.
type processHandle struct {
	done chan error
}

func (h *processHandle) Wait() error { return <-h.done }
