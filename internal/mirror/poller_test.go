// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qbtlib "github.com/autobrr/go-qbittorrent"

	"github.com/qbmirror/qbmirror/internal/qbt"
)

const (
	waitFor  = 2 * time.Second
	pollEach = 5 * time.Millisecond
)

// fakeClock hands the poller an unbuffered channel, so each poll period fires
// exactly when the test sends a tick and the test stays in lockstep with the
// loop.
type fakeClock struct {
	ch chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{ch: make(chan time.Time)}
}

func (c *fakeClock) After(time.Duration) <-chan time.Time { return c.ch }

func (c *fakeClock) tick() { c.ch <- time.Time{} }

type mainDataCall struct {
	rid    int64
	hasRid bool
}

type deltaResult struct {
	data *qbt.MainData
	err  error
}

// fakeTransport scripts the remote server. Every channel is unbuffered: the
// test only unblocks the poller by explicitly feeding a result, which makes
// call ordering observable and deterministic.
type fakeTransport struct {
	loginResults chan error
	deltaResults chan deltaResult
	calls        chan mainDataCall
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		loginResults: make(chan error),
		deltaResults: make(chan deltaResult),
		calls:        make(chan mainDataCall, 16),
	}
}

func (f *fakeTransport) Login(ctx context.Context) error {
	select {
	case err := <-f.loginResults:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeTransport) MainData(ctx context.Context, rid int64, hasRid bool) (*qbt.MainData, error) {
	f.calls <- mainDataCall{rid: rid, hasRid: hasRid}
	select {
	case r := <-f.deltaResults:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeTransport) Categories(ctx context.Context) (map[string]qbt.Category, error) {
	return map[string]qbt.Category{"distros": {Name: "distros"}}, nil
}

// staleTransport answers delta fetches even after its context is cancelled,
// like a slow remote whose response is already on the wire.
type staleTransport struct {
	*fakeTransport
}

func (f *staleTransport) MainData(ctx context.Context, rid int64, hasRid bool) (*qbt.MainData, error) {
	f.calls <- mainDataCall{rid: rid, hasRid: hasRid}
	r := <-f.deltaResults
	return r.data, r.err
}

// recordingClock reports every armed wait duration back to the test.
type recordingClock struct {
	ch        chan time.Time
	durations chan time.Duration
}

func newRecordingClock() *recordingClock {
	return &recordingClock{
		ch:        make(chan time.Time),
		durations: make(chan time.Duration, 16),
	}
}

func (c *recordingClock) After(d time.Duration) <-chan time.Time {
	c.durations <- d
	return c.ch
}

func (c *recordingClock) tick() { c.ch <- time.Time{} }

func fullDelta(rid int64, hashes ...string) *qbt.MainData {
	d := &qbt.MainData{Rid: rid, FullUpdate: true, Torrents: map[string]qbt.TorrentPartial{}}
	for _, h := range hashes {
		name := h
		d.Torrents[h] = qbt.TorrentPartial{Name: &name, State: statePtr(qbtlib.TorrentStateDownloading)}
	}
	return d
}

func startPoller(t *testing.T, ft *fakeTransport) (*Session, *Poller, *fakeClock) {
	t.Helper()

	sess := NewSession()
	clock := newFakeClock()
	p := NewPoller(sess, ft, time.Second, WithClock(clock))

	p.Start(context.Background())
	t.Cleanup(p.Stop)

	return sess, p, clock
}

func TestPollerFullThenIncremental(t *testing.T) {
	ft := newFakeTransport()
	sess, p, clock := startPoller(t, ft)

	ft.loginResults <- nil

	// the first poll of a session must not carry a rid
	call := <-ft.calls
	assert.False(t, call.hasRid)
	ft.deltaResults <- deltaResult{data: fullDelta(1, "aaa", "bbb")}

	require.Eventually(t, func() bool {
		status, _ := p.Status()
		return status == StatusLive && len(sess.View()) == 2
	}, waitFor, pollEach)

	rid, ok := sess.Rid()
	require.True(t, ok)
	assert.EqualValues(t, 1, rid)

	// subsequent polls echo the advanced cursor
	clock.tick()
	call = <-ft.calls
	assert.True(t, call.hasRid)
	assert.EqualValues(t, 1, call.rid)
	ft.deltaResults <- deltaResult{data: &qbt.MainData{
		Rid:             2,
		TorrentsRemoved: []string{"bbb"},
	}}

	clock.tick()
	call = <-ft.calls
	assert.EqualValues(t, 2, call.rid)
	ft.deltaResults <- deltaResult{data: &qbt.MainData{Rid: 3}}

	require.Eventually(t, func() bool {
		rid, _ := sess.Rid()
		return rid == 3
	}, waitFor, pollEach)
	assert.Len(t, sess.View(), 1)
}

func TestPollerTransientErrorKeepsMirror(t *testing.T) {
	ft := newFakeTransport()
	sess, p, clock := startPoller(t, ft)

	ft.loginResults <- nil
	<-ft.calls
	ft.deltaResults <- deltaResult{data: fullDelta(1, "aaa")}

	require.Eventually(t, func() bool {
		status, _ := p.Status()
		return status == StatusLive
	}, waitFor, pollEach)

	// a failed fetch surfaces as a transient error without touching the mirror
	clock.tick()
	<-ft.calls
	ft.deltaResults <- deltaResult{err: errors.New("connection refused")}

	require.Eventually(t, func() bool {
		status, err := p.Status()
		return status == StatusError && err != nil
	}, waitFor, pollEach)

	rid, ok := sess.Rid()
	require.True(t, ok)
	assert.EqualValues(t, 1, rid)
	assert.Len(t, sess.View(), 1)

	// the next period retries normally and clears the error
	clock.tick()
	call := <-ft.calls
	assert.True(t, call.hasRid)
	ft.deltaResults <- deltaResult{data: &qbt.MainData{Rid: 2}}

	require.Eventually(t, func() bool {
		status, err := p.Status()
		return status == StatusLive && err == nil
	}, waitFor, pollEach)
}

func TestPollerSessionExpiryForcesResync(t *testing.T) {
	ft := newFakeTransport()
	sess, p, clock := startPoller(t, ft)

	ft.loginResults <- nil
	<-ft.calls
	ft.deltaResults <- deltaResult{data: fullDelta(1, "aaa", "bbb")}

	require.Eventually(t, func() bool {
		status, _ := p.Status()
		return status == StatusLive
	}, waitFor, pollEach)

	// server-side session expiry clears cursor and mirror
	clock.tick()
	<-ft.calls
	ft.deltaResults <- deltaResult{err: qbt.ErrUnauthorized}

	require.Eventually(t, func() bool {
		status, _ := p.Status()
		_, hasRid := sess.Rid()
		return status == StatusAuthenticating && !hasRid && len(sess.View()) == 0
	}, waitFor, pollEach)

	// re-login succeeds and the session rebuilds from a full snapshot
	clock.tick()
	ft.loginResults <- nil

	call := <-ft.calls
	assert.False(t, call.hasRid)
	ft.deltaResults <- deltaResult{data: fullDelta(7, "ccc")}

	require.Eventually(t, func() bool {
		rid, ok := sess.Rid()
		return ok && rid == 7 && len(sess.View()) == 1
	}, waitFor, pollEach)
}

func TestPollerParksOnCredentialRejection(t *testing.T) {
	ft := newFakeTransport()
	sess, p, _ := startPoller(t, ft)

	ft.loginResults <- qbt.ErrUnauthorized

	require.Eventually(t, func() bool {
		status, err := p.Status()
		return status == StatusAuthenticating && errors.Is(err, qbt.ErrUnauthorized)
	}, waitFor, pollEach)

	// new credentials wake the parked loop immediately
	ft2 := newFakeTransport()
	p.UpdateTransport(ft2)

	ft2.loginResults <- nil
	call := <-ft2.calls
	assert.False(t, call.hasRid)
	ft2.deltaResults <- deltaResult{data: fullDelta(1, "aaa")}

	require.Eventually(t, func() bool {
		status, _ := p.Status()
		return status == StatusLive && len(sess.View()) == 1
	}, waitFor, pollEach)
}

func TestPollerCredentialChangeDropsInFlightDelta(t *testing.T) {
	ft := &staleTransport{fakeTransport: newFakeTransport()}
	sess := NewSession()
	p := NewPoller(sess, ft, time.Second, WithClock(newFakeClock()))

	p.Start(context.Background())
	t.Cleanup(p.Stop)

	ft.loginResults <- nil
	<-ft.calls // first fetch parked on the old server

	ft2 := newFakeTransport()
	p.UpdateTransport(ft2)

	// the old server answers after the swap; its delta must be discarded
	ft.deltaResults <- deltaResult{data: fullDelta(9, "stale")}

	ft2.loginResults <- nil

	// the first poll of the new session must request a full snapshot,
	// which also proves the stale delta never advanced the cursor
	call := <-ft2.calls
	assert.False(t, call.hasRid)
	ft2.deltaResults <- deltaResult{data: fullDelta(1, "aaa")}

	require.Eventually(t, func() bool {
		rid, ok := sess.Rid()
		return ok && rid == 1 && len(sess.View()) == 1
	}, waitFor, pollEach)
	assert.Equal(t, "aaa", sess.View()[0].Hash)
}

func TestPollerSetIntervalAppliesNextWait(t *testing.T) {
	ft := newFakeTransport()
	sess := NewSession()
	clock := newRecordingClock()
	p := NewPoller(sess, ft, 5*time.Second, WithClock(clock))

	p.Start(context.Background())
	t.Cleanup(p.Stop)

	ft.loginResults <- nil
	<-ft.calls
	ft.deltaResults <- deltaResult{data: fullDelta(1, "aaa")}

	assert.Equal(t, 5*time.Second, <-clock.durations)

	// a config reload changes the period for every wait armed afterwards
	p.SetInterval(30 * time.Second)
	clock.tick()

	<-ft.calls
	ft.deltaResults <- deltaResult{data: &qbt.MainData{Rid: 2}}

	assert.Equal(t, 30*time.Second, <-clock.durations)

	// sub-second periods clamp to the same floor the config layer enforces
	p.SetInterval(100 * time.Millisecond)
	clock.tick()

	<-ft.calls
	ft.deltaResults <- deltaResult{data: &qbt.MainData{Rid: 3}}

	assert.Equal(t, time.Second, <-clock.durations)
}

func TestPollerStop(t *testing.T) {
	ft := newFakeTransport()
	sess := NewSession()
	p := NewPoller(sess, ft, time.Second, WithClock(newFakeClock()))

	p.Start(context.Background())
	ft.loginResults <- nil
	<-ft.calls

	// stop while a fetch is in flight: the loop exits without applying anything
	p.Stop()

	status, _ := p.Status()
	assert.Equal(t, StatusStopped, status)
	_, ok := sess.Rid()
	assert.False(t, ok)
}
