package remote

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// NativeExecutor is an Executor backed by golang.org/x/crypto/ssh for
// hosts without an OpenSSH client binary. The TCP connection is dialed
// lazily on first use and reused; each command still runs in its own
// session, so the Executor semantics are identical to the subprocess
// transport. Host keys are not verified — the target is an access
// point on a directly attached test network, the same trust model as
// StrictHostKeyChecking=no on the subprocess path.
type NativeExecutor struct {
	opts Options

	mu     sync.Mutex
	client *ssh.Client
}

// NewNativeExecutor creates an executor using the in-process SSH client.
func NewNativeExecutor(opts Options) *NativeExecutor {
	opts.setDefaults()
	return &NativeExecutor{opts: opts}
}

// connect returns the shared client, dialing it if necessary.
func (e *NativeExecutor) connect() (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	auth, err := e.authMethods()
	if err != nil {
		return nil, err
	}

	cfg := &ssh.ClientConfig{
		User:            e.opts.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         e.opts.ConnectTimeout,
	}

	addr := net.JoinHostPort(e.opts.Host, strconv.Itoa(e.opts.Port))
	log.Debug().Str("addr", addr).Str("user", e.opts.User).Msg("dialing device")

	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	e.client = client
	return client, nil
}

// authMethods assembles the authentication methods in preference
// order: explicit key file, then password. OpenWrt's default root
// account has an empty password, which the password callback covers.
func (e *NativeExecutor) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if e.opts.KeyPath != "" {
		data, err := os.ReadFile(e.opts.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("reading key %s: %w", e.opts.KeyPath, err)
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parsing key %s: %w", e.opts.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	methods = append(methods, ssh.Password(e.opts.Password))
	return methods, nil
}

// drop discards the shared client after a transport-level failure so
// the next call redials.
func (e *NativeExecutor) drop(client *ssh.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == client {
		e.client.Close()
		e.client = nil
	}
}

// session opens a fresh session, reconnecting once when the cached
// client has gone stale.
func (e *NativeExecutor) session() (*ssh.Client, *ssh.Session, error) {
	client, err := e.connect()
	if err != nil {
		return nil, nil, err
	}
	sess, err := client.NewSession()
	if err != nil {
		e.drop(client)
		client, err = e.connect()
		if err != nil {
			return nil, nil, err
		}
		sess, err = client.NewSession()
		if err != nil {
			e.drop(client)
			return nil, nil, fmt.Errorf("open session: %w", err)
		}
	}
	return client, sess, nil
}

// Execute implements Executor.
func (e *NativeExecutor) Execute(command string, timeout time.Duration) (bool, string, string) {
	if timeout <= 0 {
		timeout = e.opts.CommandTimeout
	}

	client, sess, err := e.session()
	if err != nil {
		return false, "", err.Error()
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- sess.Run(command) }()

	timer := time.NewTimer(timeout + commandGrace)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			diag := stderr.String()
			if diag == "" {
				diag = err.Error()
			}
			return false, stdout.String(), diag
		}
		return true, stdout.String(), stderr.String()
	case <-timer.C:
		// The remote command has no cooperative cancellation; closing
		// the session abandons it and the caller's timeout stands in
		// for completion.
		sess.Close()
		e.drop(client)
		return false, stdout.String(), "Command timeout"
	}
}

// ExecuteBackground implements Executor.
func (e *NativeExecutor) ExecuteBackground(command string) (Handle, bool) {
	_, sess, err := e.session()
	if err != nil {
		log.Warn().Err(err).Msg("failed to start background command")
		return nil, false
	}

	if err := sess.Start(command); err != nil {
		sess.Close()
		log.Warn().Err(err).Msg("failed to start background command")
		return nil, false
	}

	h := &sessionHandle{done: make(chan error, 1)}
	go func() {
		h.done <- sess.Wait()
		sess.Close()
	}()
	return h, true
}

// DownloadFile implements Executor using a cat pipe.
func (e *NativeExecutor) DownloadFile(remotePath, localPath string) bool {
	client, sess, err := e.session()
	if err != nil {
		log.Warn().Err(err).Str("remote", remotePath).Msg("download failed")
		return false
	}
	defer sess.Close()

	out, err := os.Create(localPath)
	if err != nil {
		log.Warn().Err(err).Str("local", localPath).Msg("cannot create local file")
		return false
	}
	defer out.Close()

	pipe, err := sess.StdoutPipe()
	if err != nil {
		return false
	}
	if err := sess.Start("cat " + remotePath); err != nil {
		return false
	}

	copied := make(chan error, 1)
	go func() {
		_, err := io.Copy(out, pipe)
		copied <- err
	}()

	timer := time.NewTimer(downloadTimeout)
	defer timer.Stop()

	select {
	case err := <-copied:
		if err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("download copy failed")
			return false
		}
	case <-timer.C:
		sess.Close()
		e.drop(client)
		log.Warn().Str("remote", remotePath).Msg("download timed out")
		return false
	}

	if err := sess.Wait(); err != nil {
		log.Warn().Err(err).Str("remote", remotePath).Msg("download failed")
		return false
	}

	info, err := os.Stat(localPath)
	if err != nil || info.Size() == 0 {
		log.Warn().Str("remote", remotePath).Msg("download produced an empty file")
		return false
	}
	return true
}

// TestConnection implements Executor.
func (e *NativeExecutor) TestConnection() bool {
	ok, stdout, _ := e.Execute(connectionProbe, 10*time.Second)
	return ok && strings.Contains(stdout, connectionSentinel)
}

// sessionHandle wraps a detached session launch.
type sessionHandle struct {
	done chan error
}

func (h *sessionHandle) Wait() error { return <-h.done }
