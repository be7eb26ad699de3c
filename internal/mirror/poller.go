// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/qbmirror/qbmirror/internal/qbt"
)

// Status is the session state exposed to consumers. Transient transport
// failures keep the poller in StatusLive cycle-wise but surface as
// StatusError until a cycle succeeds again.
type Status string

const (
	StatusIdle           Status = "idle"
	StatusAuthenticating Status = "authenticating"
	StatusLive           Status = "live"
	StatusError          Status = "error"
	StatusStopped        Status = "stopped"
)

// Transport is the remote server boundary the poller drives. Implemented by
// qbt.Client, replaced by a fake in tests.
type Transport interface {
	Login(ctx context.Context) error
	MainData(ctx context.Context, rid int64, hasRid bool) (*qbt.MainData, error)
	Categories(ctx context.Context) (map[string]qbt.Category, error)
}

// Clock abstracts the poll timer so the state machine is testable without
// real time.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

type pollerState int

const (
	stateIdle pollerState = iota
	stateAuthenticating
	statePolling
	stateStopped
)

const defaultCategoryPollFactor = 6

// Poller drives the fetch-and-reconcile loop: authenticate, then poll deltas
// at a fixed period, feeding each envelope to the session. Exactly one cycle
// is in flight at a time; the next wait starts only after the previous cycle
// has fully settled, so deltas reach the reconciler strictly in cursor order.
type Poller struct {
	session *Session
	clock   Clock

	mu             sync.RWMutex
	transport      Transport
	state          pollerState
	lastErr        error
	interval       time.Duration
	categoryFactor int
	cycleCancel    context.CancelFunc

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

type PollerOption func(*Poller)

func WithClock(c Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

func WithCategoryPollFactor(n int) PollerOption {
	return func(p *Poller) {
		if n > 0 {
			p.categoryFactor = n
		}
	}
}

func NewPoller(session *Session, transport Transport, interval time.Duration, opts ...PollerOption) *Poller {
	p := &Poller{
		session:        session,
		transport:      transport,
		interval:       interval,
		categoryFactor: defaultCategoryPollFactor,
		clock:          realClock{},
		state:          stateIdle,
		kick:           make(chan struct{}, 1),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the poll loop. It may be called once.
func (p *Poller) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.mu.Lock()
	p.state = stateAuthenticating
	p.mu.Unlock()

	go p.run(ctx)
}

// Stop tears the loop down and waits for it to exit. No delta resolving after
// Stop is ever applied to the session.
func (p *Poller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

// UpdateTransport swaps the remote endpoint after a credential change. The
// session is cleared so the new session starts from a full snapshot, any
// in-flight delta fetch is cancelled so the old server's response cannot
// repopulate the reset session, and the loop is woken immediately instead of
// waiting out the current period.
func (p *Poller) UpdateTransport(t Transport) {
	p.mu.Lock()
	p.transport = t
	if p.state == statePolling {
		p.state = stateAuthenticating
	}
	p.lastErr = nil
	if p.cycleCancel != nil {
		p.cycleCancel()
	}
	p.mu.Unlock()

	p.session.Reset()

	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// SetInterval applies a new poll period from a config reload. The change
// takes effect when the next wait is armed.
func (p *Poller) SetInterval(d time.Duration) {
	if d < time.Second {
		d = time.Second
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
}

// SetCategoryPollFactor applies a new category refresh cadence from a config
// reload.
func (p *Poller) SetCategoryPollFactor(n int) {
	if n <= 0 {
		n = defaultCategoryPollFactor
	}
	p.mu.Lock()
	p.categoryFactor = n
	p.mu.Unlock()
}

// Status reports the state consumers render: authenticating, live, error
// (live but last cycle failed) or stopped.
func (p *Poller) Status() (Status, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	switch p.state {
	case stateIdle:
		return StatusIdle, nil
	case stateAuthenticating:
		return StatusAuthenticating, p.lastErr
	case stateStopped:
		return StatusStopped, nil
	default:
		if p.lastErr != nil {
			return StatusError, p.lastErr
		}
		return StatusLive, nil
	}
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)
	defer func() {
		p.mu.Lock()
		p.state = stateStopped
		p.mu.Unlock()
	}()

	cycles := 0
	for {
		switch p.currentState() {
		case stateAuthenticating:
			ok, park := p.authenticate(ctx)
			if !ok {
				// a credential rejection parks until new credentials
				// arrive; a transport failure retries next period
				d := p.currentInterval()
				if park {
					d = 0
				}
				if !p.wait(ctx, d) {
					return
				}
				continue
			}
			cycles = 0
		case stateStopped:
			return
		}

		if ctx.Err() != nil {
			return
		}

		p.cycle(ctx, cycles)
		cycles++

		if !p.wait(ctx, p.currentInterval()) {
			return
		}
	}
}

// authenticate attempts a login. ok means the poller moved to polling. On
// failure, park distinguishes a credential rejection (hold until
// UpdateTransport wakes the loop) from a transport failure (retry next
// period).
func (p *Poller) authenticate(ctx context.Context) (ok, park bool) {
	err := p.currentTransport().Login(ctx)
	if err == nil {
		p.mu.Lock()
		p.state = statePolling
		p.lastErr = nil
		p.mu.Unlock()
		return true, false
	}

	if ctx.Err() != nil {
		return false, false
	}

	p.mu.Lock()
	p.lastErr = err
	p.mu.Unlock()

	if errors.Is(err, qbt.ErrUnauthorized) || errors.Is(err, qbt.ErrBanned) || errors.Is(err, qbt.ErrNoClient) {
		log.Warn().Err(err).Msg("Cannot authenticate against qBittorrent; polling halted until credentials change")
		return false, true
	}

	log.Warn().Err(err).Msg("Authentication attempt failed; will retry")
	return false, false
}

// cycle performs one fetch-and-reconcile pass. The fetch runs under its own
// cancel scope so UpdateTransport can invalidate a delta that is already on
// the wire from the old server.
func (p *Poller) cycle(ctx context.Context, n int) {
	cctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cycleCancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.cycleCancel = nil
		p.mu.Unlock()
		cancel()
	}()

	// the cursor must be read under the cancel scope; a swap between the
	// read and the fetch cancels cctx before the response can land
	rid, hasRid := p.session.Rid()

	data, err := p.currentTransport().MainData(cctx, rid, hasRid)
	if err != nil {
		if cctx.Err() != nil {
			return
		}
		if errors.Is(err, qbt.ErrUnauthorized) {
			// session expired server-side: clear everything and re-authenticate
			log.Warn().Msg("qBittorrent session expired; resynchronizing from a full snapshot")
			p.session.Reset()
			p.mu.Lock()
			p.state = stateAuthenticating
			p.lastErr = err
			p.mu.Unlock()
			return
		}

		log.Warn().Err(err).Int64("rid", rid).Msg("Delta fetch failed; keeping mirror and retrying next period")
		p.mu.Lock()
		p.lastErr = err
		p.mu.Unlock()
		return
	}

	if cctx.Err() != nil {
		// cancelled or superseded mid-flight: the delta must not be applied
		return
	}

	p.session.ApplyDelta(data)

	p.mu.Lock()
	p.lastErr = nil
	p.mu.Unlock()

	if n%p.currentCategoryFactor() == 0 {
		p.refreshCategories(cctx)
	}
}

// refreshCategories runs the slow independent category poll. Failures are
// transient and do not affect the delta cycle's status.
func (p *Poller) refreshCategories(ctx context.Context) {
	categories, err := p.currentTransport().Categories(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Msg("Category refresh failed")
		}
		return
	}
	p.session.SetCategories(categories)
}

// wait blocks for one poll period, an external kick or cancellation. A zero
// duration waits for a kick only. Returns false when the context is done.
func (p *Poller) wait(ctx context.Context, d time.Duration) bool {
	var tick <-chan time.Time
	if d > 0 {
		tick = p.clock.After(d)
	}

	select {
	case <-ctx.Done():
		return false
	case <-tick:
		return true
	case <-p.kick:
		return true
	}
}

func (p *Poller) currentState() pollerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

func (p *Poller) currentInterval() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.interval
}

func (p *Poller) currentCategoryFactor() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.categoryFactor
}

func (p *Poller) currentTransport() Transport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transport
}
