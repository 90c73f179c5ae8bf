package remote

import "time"

// Executor is the blocking remote-command primitive every other
// component calls through. Implementations never return transport
// errors as Go errors: all failures (connection refusal, non-zero
// exit, timeout) surface as ok=false with diagnostic text in the
// stderr channel, and the exit status alone decides ok. Interpreting
// command output is the caller's responsibility.
type Executor interface {
	// Execute runs one command on the device, bounded by timeout plus
	// a fixed grace margin. A timeout of zero uses the configured
	// default command timeout.
	Execute(command string, timeout time.Duration) (ok bool, stdout, stderr string)

	// ExecuteBackground launches a command without waiting for it.
	// Returns ok=false when the launch itself fails.
	ExecuteBackground(command string) (Handle, bool)

	// DownloadFile streams a remote file to a local path. Success
	// requires both a clean exit and a non-empty local result; a
	// zero-byte download is a failure even when the remote command
	// exited cleanly.
	DownloadFile(remotePath, localPath string) bool

	// TestConnection issues a trivial round-trip command and checks
	// for a known sentinel. This is the primary reachability probe.
	TestConnection() bool
}

// Handle is an opaque reference to a detached remote launch. It
// carries no control over the remote process; teardown happens by
// issuing fresh kill commands, since the underlying channel is
// stateless across calls.
type Handle interface {
	// Wait blocks until the launch channel closes. Callers normally
	// discard the handle instead.
	Wait() error
}

// Options configures an executor. The connection timeout and the
// per-command timeout are distinct: the first bounds the transport
// handshake, the second (plus a grace margin) bounds total wall time
// of one command.
type Options struct {
	Host           string
	User           string
	Port           int
	Password       string // native transport only; the openssh transport relies on keys/agent
	KeyPath        string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Port == 0 {
		o.Port = 22
	}
	if o.User == "" {
		o.User = "root"
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.CommandTimeout == 0 {
		o.CommandTimeout = 30 * time.Second
	}
}

const (
	// commandGrace is added on top of the command timeout so a remote
	// command that finishes right at its limit is still collected.
	commandGrace = 5 * time.Second

	downloadTimeout = 120 * time.Second

	// connectionSentinel is the exact string TestConnection expects in
	// the probe output.
	connectionSentinel = "connected"
	connectionProbe    = "echo connected"
)
