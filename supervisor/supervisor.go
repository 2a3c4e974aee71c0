// Package supervisor wraps one session.Session plus its engine.Engine for
// long-run survivability: health-timeout restarts, exponential backoff,
// local/remote endpoint alternation, and a command-submission throttle
// (spec.md §4.11, C11).
package supervisor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"blitter.com/go/ipcomgw/engine"
	"blitter.com/go/ipcomgw/errs"
	"blitter.com/go/ipcomgw/logger"
	"blitter.com/go/ipcomgw/observer"
	"blitter.com/go/ipcomgw/session"
)

// Endpoint is one {host, port} the supervisor can dial.
type Endpoint struct {
	Host string
	Port int
}

// Mode selects which of Local/Remote the supervisor is allowed to use.
type Mode int

const (
	LocalOnly Mode = iota
	RemoteOnly
	Both
)

// Config carries the supervisor's policy knobs. Zero values fall back to
// the defaults named in spec.md §4.11.
type Config struct {
	Local, Remote Endpoint
	Mode          Mode

	BaseDelay       time.Duration // default 5s
	MaxDelay        time.Duration // default 300s
	HealthTimeout   time.Duration // default 120s
	CommandThrottle time.Duration // default 500ms
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 300 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 120 * time.Second
	}
	if c.CommandThrottle <= 0 {
		c.CommandThrottle = 500 * time.Millisecond
	}
	return c
}

// Supervisor owns the reconnect loop. Construct one with New and run it
// with Run; Submit is the throttled, reconnect-safe way for callers to
// reach the current engine.
type Supervisor struct {
	cfg    Config
	sess   session.Config // template: Host/Port are overwritten per endpoint
	engCfg engine.Config
	obs    *observer.Surface

	throttle *rate.Limiter

	mu          sync.Mutex
	eng         *engine.Engine
	usingRemote bool
	failures    int
}

// New returns a Supervisor ready to Run. sessCfg supplies everything
// about the session except Host/Port, which the supervisor's endpoint
// selection overrides on every (re)connect.
func New(cfg Config, sessCfg session.Config, engCfg engine.Config, obs *observer.Surface) *Supervisor {
	cfg = cfg.withDefaults()
	return &Supervisor{
		cfg:      cfg,
		sess:     sessCfg,
		engCfg:   engCfg,
		obs:      obs,
		throttle: rate.NewLimiter(rate.Every(cfg.CommandThrottle), 1),
	}
}

// Engine returns the currently active engine, or nil between a dropped
// session and its replacement coming up.
func (sv *Supervisor) Engine() *engine.Engine {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.eng
}

// Submit throttles command submission to at most one every
// Config.CommandThrottle (spec.md §4.11) and forwards to the current
// engine. It fails with Network.Io if no session is currently connected.
func (sv *Supervisor) Submit(ctx context.Context, exec func() error) error {
	r := sv.throttle.Reserve()
	if r.OK() {
		select {
		case <-time.After(r.Delay()):
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}

	eng := sv.Engine()
	if eng == nil {
		return errs.New(errs.NetworkIo, "no active session")
	}
	return eng.Submit(ctx, exec)
}

// currentEndpoint picks the endpoint for the next connect attempt,
// honoring Mode and the first-failure/alternate-every-retry rule of
// spec.md §4.11.
func (sv *Supervisor) currentEndpoint() Endpoint {
	switch sv.cfg.Mode {
	case LocalOnly:
		return sv.cfg.Local
	case RemoteOnly:
		return sv.cfg.Remote
	default:
		if sv.usingRemote {
			return sv.cfg.Remote
		}
		return sv.cfg.Local
	}
}

func (sv *Supervisor) backoffDelay() time.Duration {
	if sv.failures <= 0 {
		return 0
	}
	d := sv.cfg.BaseDelay
	for i := 1; i < sv.failures; i++ {
		d *= 2
		if d >= sv.cfg.MaxDelay {
			return sv.cfg.MaxDelay
		}
	}
	return d
}

// Run dials, authenticates, and runs one engine at a time, forever, until
// ctx is canceled. Every dial or health-check failure is counted,
// delayed by exponential backoff, and (in Both mode) alternates the
// endpoint before the retry (spec.md §4.11).
func (sv *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		sv.mu.Lock()
		delay := sv.backoffDelay()
		sv.mu.Unlock()
		if delay > 0 {
			logger.LogInfo("supervisor: retrying in " + delay.String())
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil
			}
		}

		if err := sv.runOnce(ctx); err != nil {
			logger.LogWarning("supervisor: session ended: " + err.Error())
			sv.mu.Lock()
			sv.failures++
			if sv.cfg.Mode == Both {
				sv.usingRemote = !sv.usingRemote
			}
			sv.mu.Unlock()
			continue
		}

		sv.mu.Lock()
		sv.failures = 0
		sv.mu.Unlock()
	}
}

// runOnce dials one session, runs its engine with a health watchdog, and
// returns when the engine stops (for any reason, including a clean ctx
// cancellation, which returns nil).
func (sv *Supervisor) runOnce(ctx context.Context) error {
	ep := sv.currentEndpoint()
	cfg := sv.sess
	cfg.Host = ep.Host
	cfg.Port = ep.Port

	sess := session.New(cfg)
	if err := sess.Dial(); err != nil {
		return err
	}
	defer sess.Close()

	eng := engine.New(sess, sv.obs, sv.engCfg)

	sv.mu.Lock()
	sv.eng = eng
	sv.mu.Unlock()
	defer func() {
		sv.mu.Lock()
		sv.eng = nil
		sv.mu.Unlock()
	}()

	sv.obs.DispatchConnect(sess.State())
	var runErr error
	defer func() { sv.obs.DispatchDisconnect(runErr) }()

	watchdogDone := make(chan struct{})
	timedOut := make(chan struct{})
	go sv.healthWatchdog(eng, watchdogDone, timedOut)
	defer close(watchdogDone)

	stopOnCancel := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			eng.Stop()
		case <-stopOnCancel:
		}
	}()
	defer close(stopOnCancel)

	err := eng.Run()
	select {
	case <-timedOut:
		runErr = errs.New(errs.SupervisorHealthTimeout, "no inbound bytes for %s", sv.cfg.HealthTimeout)
	default:
		runErr = err
	}
	return runErr
}

// healthWatchdog tears down eng if no inbound traffic has been observed
// for Config.HealthTimeout (spec.md §4.11), signaling timedOut so runOnce
// reports it as a restart-worthy failure rather than a clean stop.
func (sv *Supervisor) healthWatchdog(eng *engine.Engine, done <-chan struct{}, timedOut chan<- struct{}) {
	ticker := time.NewTicker(sv.cfg.HealthTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if time.Since(eng.LastActivity()) >= sv.cfg.HealthTimeout {
				logger.LogWarning("supervisor: health timeout, restarting session")
				close(timedOut)
				eng.Stop()
				return
			}
		}
	}
}
