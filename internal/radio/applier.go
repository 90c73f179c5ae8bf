// Package radio writes channel configuration to the device's
// configuration store and restarts the radios with a verified
// reappearance of all interfaces.
package radio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/models"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/remote"
)

// ErrPollTimeout is returned by WaitForInterfaces when the interfaces
// did not all reappear within the configured maximum wait. It is a
// distinct outcome from a command failure: the reload was issued, the
// device just did not come back in time.
var ErrPollTimeout = errors.New("timed out waiting for interfaces")

const (
	applyTimeout      = 10 * time.Second
	reloadTimeout     = 60 * time.Second
	backgroundTimeout = 10 * time.Second
	pollProbeTimeout  = 10 * time.Second
)

// pollProbeCmd lists the interfaces currently present; all three must
// reappear before a reload counts as complete.
const pollProbeCmd = `iwconfig 2>/dev/null | grep -E '^ath[0-2]'`

// interfaceReportCmd produces the post-reload interface/frequency
// report surfaced to the caller.
const interfaceReportCmd = `iwconfig 2>/dev/null | grep -E 'Frequency|^ath'`

var expectedInterfaces = []string{"ath0", "ath1", "ath2"}

// Applier writes and commits channel configuration and drives the
// radio reload protocol.
type Applier struct {
	exec         remote.Executor
	pollInterval time.Duration
	maxWait      time.Duration
}

// New creates an applier. pollInterval and maxWait bound the
// post-reload readiness poll; zero values select 5s/90s.
func New(exec remote.Executor, pollInterval, maxWait time.Duration) *Applier {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if maxWait <= 0 {
		maxWait = 90 * time.Second
	}
	return &Applier{exec: exec, pollInterval: pollInterval, maxWait: maxWait}
}

// ApplyBand writes one band's channel and bandwidth to the radio's
// configuration-store section. The first failed write aborts with the
// underlying command's error text. Nothing takes effect until Commit
// and Reload.
func (a *Applier) ApplyBand(radio string, cfg models.ChannelConfig) error {
	commands := []string{
		fmt.Sprintf("uci set wireless.%s.channel=%d", radio, cfg.Channel),
		fmt.Sprintf("uci set wireless.%s.htmode=%s", radio, cfg.Bandwidth),
	}
	for _, cmd := range commands {
		ok, _, stderr := a.exec.Execute(cmd, applyTimeout)
		if !ok {
			return fmt.Errorf("failed to execute %q: %s", cmd, strings.TrimSpace(stderr))
		}
		log.Debug().Str("cmd", cmd).Msg("uci set")
	}
	return nil
}

// Commit persists the staged configuration.
func (a *Applier) Commit() error {
	ok, _, stderr := a.exec.Execute("uci commit wireless", applyTimeout)
	if !ok {
		return fmt.Errorf("uci commit failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// Reload triggers a full radio reload. "wifi load" can legitimately
// outlive a bounded inline wait, so an inline failure is retried by
// launching the same reload detached in the background rather than
// failing immediately.
func (a *Applier) Reload() error {
	log.Info().Msg("executing wifi load")
	if ok, _, _ := a.exec.Execute("wifi load", reloadTimeout); ok {
		return nil
	}

	log.Warn().Msg("inline wifi load failed, retrying in background")
	ok, _, stderr := a.exec.Execute("nohup wifi load > /dev/null 2>&1 &", backgroundTimeout)
	if !ok {
		return fmt.Errorf("wifi load failed: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// WaitForInterfaces polls until all three interfaces have reappeared
// after a reload. Only complete reappearance counts as success. The
// returned duration is the elapsed poll time; on timeout the error is
// ErrPollTimeout.
func (a *Applier) WaitForInterfaces(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	lastSeen := ""

	for {
		select {
		case <-ctx.Done():
			// A deadline is the same outcome as the internal maxWait:
			// the reload was issued, the device did not come back in
			// time. Only cancellation passes through unchanged.
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return time.Since(start), ErrPollTimeout
			}
			return time.Since(start), ctx.Err()
		case <-time.After(a.pollInterval):
		}

		ok, stdout, _ := a.exec.Execute(pollProbeCmd, pollProbeTimeout)
		if ok {
			var present []string
			for _, iface := range expectedInterfaces {
				if strings.Contains(stdout, iface) {
					present = append(present, iface)
				}
			}
			seen := strings.Join(present, ",")
			if seen != lastSeen {
				log.Info().
					Dur("elapsed", time.Since(start).Round(time.Second)).
					Str("interfaces", seen).
					Msg("interfaces present")
				lastSeen = seen
			}
			if len(present) == len(expectedInterfaces) {
				return time.Since(start), nil
			}
		}

		if time.Since(start) >= a.maxWait {
			return time.Since(start), ErrPollTimeout
		}
	}
}

// InterfaceReport returns the device's current interface/frequency
// listing for display.
func (a *Applier) InterfaceReport() (string, error) {
	ok, stdout, stderr := a.exec.Execute(interfaceReportCmd, pollProbeTimeout)
	if !ok {
		return "", fmt.Errorf("interface report failed: %s", strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// MaxWait returns the configured maximum poll wait, for reporting.
func (a *Applier) MaxWait() time.Duration { return a.maxWait }
