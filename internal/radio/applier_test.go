package radio

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/models"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/remote/remotetest"
)

func TestApplyBand(t *testing.T) {
	exec := remotetest.New()
	a := New(exec, time.Millisecond, time.Second)

	err := a.ApplyBand("wifi0", models.ChannelConfig{Channel: 11, Bandwidth: "HT40"})
	if err != nil {
		t.Fatalf("ApplyBand: %v", err)
	}

	commands := exec.Commands()
	if len(commands) != 2 {
		t.Fatalf("executed %d commands, want 2", len(commands))
	}
	if commands[0] != "uci set wireless.wifi0.channel=11" {
		t.Errorf("first command = %q", commands[0])
	}
	if commands[1] != "uci set wireless.wifi0.htmode=HT40" {
		t.Errorf("second command = %q", commands[1])
	}
}

func TestApplyBandAbortsOnFirstFailure(t *testing.T) {
	exec := remotetest.New()
	exec.On("channel=", remotetest.Response{OK: false, Stderr: "uci: Parse error"})
	a := New(exec, time.Millisecond, time.Second)

	err := a.ApplyBand("wifi0", models.ChannelConfig{Channel: 11, Bandwidth: "HT40"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "uci: Parse error") {
		t.Errorf("error %q does not carry the command diagnostics", err)
	}
	// htmode must never be written after the channel write failed.
	if exec.CommandCount("htmode") != 0 {
		t.Error("htmode was written after a failed channel write")
	}
}

func TestReloadInline(t *testing.T) {
	exec := remotetest.New()
	a := New(exec, time.Millisecond, time.Second)

	if err := a.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if exec.CommandCount("nohup") != 0 {
		t.Error("background retry ran although inline reload succeeded")
	}
}

func TestReloadBackgroundRetry(t *testing.T) {
	exec := remotetest.New()
	// The inline reload times out; the detached retry succeeds. Rule
	// order matters: the nohup command also contains "wifi load".
	exec.On("nohup wifi load", remotetest.Response{OK: true})
	exec.On("wifi load", remotetest.Response{OK: false, Stderr: "Command timeout"})
	a := New(exec, time.Millisecond, time.Second)

	if err := a.Reload(); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if exec.CommandCount("nohup") != 1 {
		t.Error("background retry was not attempted")
	}
}

func TestReloadBothFail(t *testing.T) {
	exec := remotetest.New()
	exec.On("wifi load", remotetest.Response{OK: false, Stderr: "broken"})
	a := New(exec, time.Millisecond, time.Second)

	if err := a.Reload(); err == nil {
		t.Fatal("expected error when both reload attempts fail")
	}
}

func TestWaitForInterfaces(t *testing.T) {
	exec := remotetest.New()
	var polls atomic.Int32
	exec.OnFunc("iwconfig", func(string) remotetest.Response {
		// First poll sees a partial set, second sees all three.
		if polls.Add(1) == 1 {
			return remotetest.Response{OK: true, Stdout: "ath0\nath2\n"}
		}
		return remotetest.Response{OK: true, Stdout: "ath0\nath1\nath2\n"}
	})

	a := New(exec, time.Millisecond, time.Second)
	if _, err := a.WaitForInterfaces(context.Background()); err != nil {
		t.Fatalf("WaitForInterfaces: %v", err)
	}
	if polls.Load() < 2 {
		t.Errorf("polled %d times, want at least 2", polls.Load())
	}
}

func TestWaitForInterfacesTimeout(t *testing.T) {
	exec := remotetest.New()
	exec.On("iwconfig", remotetest.Response{OK: true, Stdout: "ath0\n"})

	a := New(exec, time.Millisecond, 20*time.Millisecond)
	_, err := a.WaitForInterfaces(context.Background())
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
}

func TestWaitForInterfacesDeadlineMapsToPollTimeout(t *testing.T) {
	// Callers bound the wait with a context deadline equal to the
	// maximum wait; hitting that deadline must surface as the typed
	// poll timeout, not a bare context error.
	exec := remotetest.New()
	exec.On("iwconfig", remotetest.Response{OK: true, Stdout: "ath0\n"})

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	a := New(exec, time.Millisecond, time.Second)
	_, err := a.WaitForInterfaces(ctx)
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("err = %v, want ErrPollTimeout", err)
	}
}

func TestWaitForInterfacesContextCancel(t *testing.T) {
	exec := remotetest.New()
	exec.On("iwconfig", remotetest.Response{OK: true, Stdout: ""})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := New(exec, time.Millisecond, time.Second)
	_, err := a.WaitForInterfaces(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
