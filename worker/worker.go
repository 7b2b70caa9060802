// Package worker owns the worker subprocess: spawning it with its four
// fixed pipe FDs inherited, tracking its lifecycle, and exposing its
// control and payload channels to callers.
package worker

import (
	"os/exec"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/sfuctl/workerchannel/channel"
	"github.com/sfuctl/workerchannel/internal/defaults"
)

// Worker is a handle to a running native worker subprocess and its two
// channels. It is created by Spawn and destroyed by Close or child exit.
type Worker struct {
	cmd     *exec.Cmd
	Control *channel.Channel
	Payload *channel.PayloadChannel

	state     *stateBox
	obs       channel.Observer
	stopGrace time.Duration

	closeOnce sync.Once
	waitDone  chan struct{}
	exitErr   error
}

type spawnOptions struct {
	argv        []string
	env         []string
	controlOpts []channel.Option
	payloadOpts []channel.Option
	stopGrace   time.Duration
	obs         channel.Observer
}

// Option configures Spawn.
type Option func(*spawnOptions)

// WithArgv sets the worker binary's argv (host-chosen log level, log tags,
// RTC port range, DTLS cert/key paths, worker id, etc). The worker's own
// argv schema is opaque to this package.
func WithArgv(argv ...string) Option { return func(o *spawnOptions) { o.argv = argv } }

// WithEnv appends KEY=VALUE entries to the worker's environment, on top of
// the host's own environment.
func WithEnv(env ...string) Option { return func(o *spawnOptions) { o.env = env } }

// WithControlOptions forwards channel.Options to the control channel.
func WithControlOptions(opts ...channel.Option) Option {
	return func(o *spawnOptions) { o.controlOpts = opts }
}

// WithPayloadOptions forwards channel.Options to the payload channel.
func WithPayloadOptions(opts ...channel.Option) Option {
	return func(o *spawnOptions) { o.payloadOpts = opts }
}

// WithStopGrace overrides how long Close waits for the child to exit on its
// own before sending SIGKILL.
func WithStopGrace(d time.Duration) Option { return func(o *spawnOptions) { o.stopGrace = d } }

// WithObserver sets the metrics observer shared by both channels and used
// for the worker-exit event.
func WithObserver(obs channel.Observer) Option {
	return func(o *spawnOptions) {
		o.obs = obs
		o.controlOpts = append(o.controlOpts, channel.WithObserver(obs))
		o.payloadOpts = append(o.payloadOpts, channel.WithObserver(obs))
	}
}

// WithHostVersionTag appends a --host-version argument reporting the
// launching host binary's build version, so the worker's own logs can be
// correlated against the host build that spawned it. ver/commit/date are
// typically the host's own -ldflags-injected build values.
func WithHostVersionTag(ver, commit, date string) Option {
	return func(o *spawnOptions) {
		o.argv = append(o.argv, "--host-version="+formatVersionTag(ver, commit, date))
	}
}

// formatVersionTag builds the "v (commit) date" string carried on the
// worker's argv, preferring the host's -ldflags-injected values and falling
// back to Go module build info when they're unset or placeholder values.
func formatVersionTag(ver, commit, date string) string {
	v := strings.TrimSpace(ver)
	c := strings.TrimSpace(commit)
	d := strings.TrimSpace(date)

	if info, ok := debug.ReadBuildInfo(); ok {
		if v == "" || v == "dev" || v == "(devel)" {
			if mv := strings.TrimSpace(info.Main.Version); mv != "" && mv != "(devel)" {
				v = mv
			}
		}
		if c == "" || c == "unknown" {
			if rev := buildSetting(info, "vcs.revision"); rev != "" {
				c = rev
			}
		}
		if d == "" || d == "unknown" {
			if t := buildSetting(info, "vcs.time"); t != "" {
				d = t
			}
		}
	}

	out := v
	if out == "" {
		out = "dev"
	}
	if c != "" && c != "unknown" {
		out += " (" + c + ")"
	}
	if d != "" && d != "unknown" {
		out += " " + d
	}
	return out
}

func buildSetting(info *debug.BuildInfo, key string) string {
	if info == nil {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

// Spawn creates the four pipes, dup-equivalents them onto the worker's
// fixed FDs 3-6 via exec.Cmd.ExtraFiles, and starts binPath. On success the
// worker is in state Running with both channels live; on failure it
// returns channel.ErrSpawnFailed and leaves no FDs open.
func Spawn(binPath string, opts ...Option) (*Worker, error) {
	so := spawnOptions{stopGrace: defaults.StopGrace, obs: channel.NoopObserver}
	for _, opt := range opts {
		opt(&so)
	}

	cmd, p, err := spawn(binPath, so.argv, so.env)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cmd:       cmd,
		state:     newStateBox(),
		obs:       so.obs,
		stopGrace: so.stopGrace,
		waitDone:  make(chan struct{}),
	}
	w.Control = channel.New(p.controlOut, p.controlIn, so.controlOpts...)
	w.Payload = channel.NewPayload(p.payloadOut, p.payloadIn, so.payloadOpts...)
	w.state.toRunning()

	go w.reap()
	go w.watchChannels()
	return w, nil
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State { return w.state.load() }

// Done is closed once the child process has been reaped.
func (w *Worker) Done() <-chan struct{} { return w.waitDone }

// Err returns the reason the child process ended, once Done is closed.
func (w *Worker) Err() error {
	<-w.waitDone
	return w.exitErr
}

// watchChannels moves the worker into Closing the moment either channel
// tears down (explicit Close or I/O error), and makes sure the other
// channel is torn down too so pending requests on it also fail fast.
func (w *Worker) watchChannels() {
	select {
	case <-w.Control.Done():
	case <-w.Payload.Done():
	}
	if w.state.toClosing() {
		w.Control.Close()
		w.Payload.Close()
	}
}

// reap waits for the child to exit, classifies the result, and completes
// the terminal state transition. It then force-kills the process if it
// hasn't exited within stopGrace of the channels closing.
func (w *Worker) reap() {
	done := make(chan error, 1)
	go func() { done <- w.cmd.Wait() }()

	select {
	case err := <-done:
		w.finish(err)
	case <-w.Control.Done():
		select {
		case err := <-done:
			w.finish(err)
		case <-time.After(w.stopGrace):
			w.cmd.Process.Kill()
			w.finish(<-done)
		}
	}
}

func (w *Worker) finish(waitErr error) {
	final := ClosedExit
	reason := channel.ExitReasonClean
	if waitErr != nil {
		final = ClosedCrash
		reason = channel.ExitReasonCrash
	}
	w.state.toClosed(final)
	w.closeOnce.Do(func() {
		w.exitErr = waitErr
		close(w.waitDone)
	})
	w.obs.WorkerExit(reason)
}

// Close initiates an orderly shutdown: both channels are closed (failing
// any pending requests with ErrChannelClosed), and the child is given
// stopGrace to exit before being killed. Close returns once the child has
// been reaped.
func (w *Worker) Close() error {
	if w.state.toClosing() {
		w.Control.Close()
		w.Payload.Close()
	}
	<-w.waitDone
	return nil
}
