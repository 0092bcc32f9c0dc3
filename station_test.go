//----------------------------------------------------------------------
// This file is part of wifista.
// Copyright (C) 2024-present Bernd Fix   >Y<
//
// wifista is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License,
// or (at your option) any later version.
//
// wifista is distributed in the hope that it will be useful, but
// WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL3.0-or-later
//----------------------------------------------------------------------

package wifista

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// connect result
type result struct {
	out Outcome
	err error
}

// test setup: station on a manually driven simulated radio
func newTestStation(t *testing.T, opts ...Option) (*Station, *SimRadio, *EventLoop) {
	t.Helper()
	bus := NewEventLoop()
	t.Cleanup(bus.Close)
	sim := NewSimRadio(bus)
	return NewStation(sim, bus, opts...), sim, bus
}

func testConfig() *Config {
	return NewConfig("testnet", "secret123")
}

// run a blocking connect in the background
func connectAsync(st *Station, cfg *Config) <-chan result {
	ch := make(chan result, 1)
	go func() {
		out, err := st.Connect(context.Background(), cfg, true)
		ch <- result{out, err}
	}()
	return ch
}

// wait for the result of a background connect
func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(waitFor):
		t.Fatal("connect did not return")
	}
	return result{}
}

// wait until the radio has seen n connect requests
func waitRequests(t *testing.T, sim *SimRadio, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return sim.Requests() >= n
	}, waitFor, time.Millisecond)
}

// outstanding returns the attempt in progress.
func outstanding(t *testing.T, st *Station) *attempt {
	t.Helper()
	var att *attempt
	require.Eventually(t, func() bool {
		st.mtx.Lock()
		defer st.mtx.Unlock()
		att = st.curr
		return att != nil
	}, waitFor, time.Millisecond)
	return att
}

//----------------------------------------------------------------------

func TestStationExhaustsRetries(t *testing.T) {
	for n := 0; n <= 6; n++ {
		st, sim, bus := newTestStation(t, WithMaxRetry(n))
		ch := connectAsync(st, testConfig())
		waitRequests(t, sim, 1)
		att := outstanding(t, st)

		// n disconnects are retried
		for i := 1; i <= n; i++ {
			require.NoError(t, sim.Drop(ReasonNoAPFound))
			waitRequests(t, sim, i+1)
			assert.Equal(t, i, st.Retries())
			assert.Equal(t, StateConnecting, st.State())
		}
		select {
		case res := <-ch:
			t.Fatalf("max=%d: premature outcome %s", n, res.out)
		default:
		}

		// one more gives up
		require.NoError(t, sim.Drop(ReasonNoAPFound))
		res := waitResult(t, ch)
		assert.Equal(t, Failed, res.out.Status, "max=%d", n)
		assert.Equal(t, ReasonRetriesExhausted, res.out.Reason())
		assert.ErrorIs(t, res.err, ErrRetriesExhausted)
		assert.Equal(t, n+1, st.Retries())
		assert.Equal(t, 1, att.done.Raised())
		assert.Equal(t, StateFailed, st.State())
		assert.Equal(t, n+1, sim.Requests())
		require.Eventually(t, func() bool { return bus.Handlers() == 0 }, waitFor, time.Millisecond)
	}
}

func TestStationExhaustsWithFailingRadio(t *testing.T) {
	st, sim, _ := newTestStation(t, WithMaxRetry(3))
	sim.Join = NeverJoin

	out, err := st.Connect(context.Background(), testConfig(), true)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, Failed, out.Status)
	assert.Equal(t, 4, sim.Requests())
	assert.Equal(t, 4, st.Retries())
}

func TestStationConnectsAfterRetries(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.7")
	st, sim, bus := newTestStation(t, WithMaxRetry(4))
	sim.Join = FailFirst(3, ip)

	out, err := st.Connect(context.Background(), testConfig(), true)
	require.NoError(t, err)
	assert.Equal(t, Connected, out.Status)
	assert.Equal(t, ip, out.IP)
	assert.Equal(t, 0, st.Retries())
	assert.Equal(t, StateConnected, st.State())
	assert.Equal(t, out, st.Last())
	require.NotNil(t, st.Link())
	assert.Equal(t, "testnet", st.Link().SSID)
	require.Eventually(t, func() bool { return bus.Handlers() == 0 }, waitFor, time.Millisecond)
}

func TestStationRetriesMonotonic(t *testing.T) {
	st, sim, _ := newTestStation(t, WithMaxRetry(10))
	ch := connectAsync(st, testConfig())
	waitRequests(t, sim, 1)

	prev := st.Retries()
	for i := 1; i <= 5; i++ {
		require.NoError(t, sim.Drop(ReasonNoAPFound))
		waitRequests(t, sim, i+1)
		cur := st.Retries()
		assert.GreaterOrEqual(t, cur, prev)
		assert.LessOrEqual(t, cur, 11)
		prev = cur
	}
	require.NoError(t, sim.Assign(netip.MustParseAddr("10.0.0.8")))
	res := waitResult(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, 0, st.Retries())
}

// max retries 4, five disconnects: exhausted once; the status light keeps
// updating (and failing) without affecting the outcome.
func TestStationScenarioExhausted(t *testing.T) {
	ind := new(flakyIndicator)
	light, err := NewStatusLight(ind, time.Millisecond, nil)
	require.NoError(t, err)
	defer light.Close()

	st, sim, _ := newTestStation(t, WithMaxRetry(4), WithStateHook(light.Set))
	ch := connectAsync(st, testConfig())
	waitRequests(t, sim, 1)
	att := outstanding(t, st)
	for i := 0; i < 5; i++ {
		require.NoError(t, sim.Drop(ReasonNoAPFound))
		if i < 4 {
			waitRequests(t, sim, i+2)
		}
	}
	res := waitResult(t, ch)
	assert.ErrorIs(t, res.err, ErrRetriesExhausted)
	assert.Equal(t, "Failed(retries exhausted)", res.out.String())
	assert.Equal(t, 1, att.done.Raised())
	assert.Equal(t, 5, st.Retries())
	require.Eventually(t, func() bool { return light.Get() == StateFailed }, waitFor, time.Millisecond)
	assert.Positive(t, ind.calls.Load())
	assert.Positive(t, light.Failures())
}

// max retries 4, one disconnect, then an address: connected.
func TestStationScenarioConnected(t *testing.T) {
	st, sim, _ := newTestStation(t, WithMaxRetry(4))
	ch := connectAsync(st, testConfig())
	waitRequests(t, sim, 1)
	att := outstanding(t, st)

	require.NoError(t, sim.Drop(ReasonNoAPFound))
	waitRequests(t, sim, 2)
	assert.Equal(t, 1, st.Retries())
	require.NoError(t, sim.Assign(netip.MustParseAddr("192.168.1.42")))

	res := waitResult(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, "Connected(192.168.1.42)", res.out.String())
	assert.Equal(t, 0, st.Retries())
	assert.Equal(t, 1, att.done.Raised())
}

func TestStationDisconnectIdle(t *testing.T) {
	var hooked atomic.Int32
	st, sim, bus := newTestStation(t, WithStateHook(func(State) { hooked.Add(1) }))

	require.NoError(t, st.Disconnect())
	assert.Empty(t, sim.Calls())
	assert.Equal(t, 0, bus.Handlers())
	assert.Equal(t, StateIdle, st.State())
	assert.Zero(t, hooked.Load())
}

func TestStationShutdownTwice(t *testing.T) {
	st, sim, _ := newTestStation(t)
	require.NoError(t, st.Start())
	assert.True(t, sim.Running())

	require.NoError(t, st.Shutdown())
	assert.False(t, sim.Running())
	require.NoError(t, st.Shutdown())
	assert.Equal(t, StateIdle, st.State())
}

func TestStationShutdownNeverStarted(t *testing.T) {
	st, _, _ := newTestStation(t)
	assert.NoError(t, st.Shutdown())
}

func TestStationStartIdempotent(t *testing.T) {
	st, sim, _ := newTestStation(t)
	require.NoError(t, st.Start())
	require.NoError(t, st.Start())
	assert.Equal(t, []string{"init", "mode", "start"}, sim.Calls())
	assert.Equal(t, StateStarting, st.State())
}

func TestStationRadioInitError(t *testing.T) {
	st, sim, _ := newTestStation(t)
	sim.InitErr = errors.New("no chip")

	err := st.Start()
	assert.ErrorIs(t, err, ErrRadioInit)
	assert.Equal(t, ReasonRadioInit, ReasonOf(err))

	out, err := st.Connect(context.Background(), testConfig(), true)
	assert.ErrorIs(t, err, ErrRadioInit)
	assert.Equal(t, Failed, out.Status)
	assert.Equal(t, StateFailed, st.State())
}

func TestStationRadioStartError(t *testing.T) {
	st, sim, _ := newTestStation(t)
	sim.StartErr = errors.New("firmware")

	require.ErrorIs(t, st.Start(), ErrRadioInit)
	assert.Equal(t, []string{"init", "mode", "start", "deinit"}, sim.Calls())
	assert.Equal(t, StateIdle, st.State())
}

func TestStationInvalidConfig(t *testing.T) {
	st, sim, bus := newTestStation(t)

	out, err := st.Connect(context.Background(), NewConfig("", ""), true)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, ReasonInvalidConfig, out.Reason())
	assert.Empty(t, sim.Calls())

	_, err = st.Connect(context.Background(), nil, true)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// rejected by the radio
	sim.CredErr = ErrRadioConfig
	_, err = st.Connect(context.Background(), testConfig(), true)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrRadioConfig)
	assert.Equal(t, 0, bus.Handlers())
	assert.Zero(t, sim.Requests())
}

func TestStationConnectRequestError(t *testing.T) {
	st, sim, bus := newTestStation(t)

	sim.ConnectErr = ErrRadioConfig
	_, err := st.Connect(context.Background(), testConfig(), true)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	boom := errors.New("bus fault")
	sim.ConnectErr = boom
	out, err := st.Connect(context.Background(), testConfig(), true)
	assert.ErrorIs(t, err, ErrConnectRequest)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ReasonConnectRequest, out.Reason())
	assert.Equal(t, 0, bus.Handlers())
}

// racyRadio fails reconnect requests after the first one.
type racyRadio struct {
	*SimRadio
	err   error
	count atomic.Int32
}

func (r *racyRadio) Connect() error {
	if r.count.Add(1) > 1 {
		return r.err
	}
	return r.SimRadio.Connect()
}

func TestStationReconnectRace(t *testing.T) {
	bus := NewEventLoop()
	t.Cleanup(bus.Close)
	radio := &racyRadio{SimRadio: NewSimRadio(bus), err: ErrNotStarted}
	st := NewStation(radio, bus, WithMaxRetry(2))

	ch := connectAsync(st, testConfig())
	waitRequests(t, radio.SimRadio, 1)
	for i := 1; i <= 3; i++ {
		require.NoError(t, radio.Drop(ReasonNoAPFound))
		if i < 3 {
			require.Eventually(t, func() bool { return st.Retries() == i }, waitFor, time.Millisecond)
		}
	}
	res := waitResult(t, ch)
	assert.ErrorIs(t, res.err, ErrRetriesExhausted)
}

func TestStationReconnectFailure(t *testing.T) {
	bus := NewEventLoop()
	t.Cleanup(bus.Close)
	boom := errors.New("spi timeout")
	radio := &racyRadio{SimRadio: NewSimRadio(bus), err: boom}
	st := NewStation(radio, bus, WithMaxRetry(5))

	ch := connectAsync(st, testConfig())
	waitRequests(t, radio.SimRadio, 1)
	require.NoError(t, radio.Drop(ReasonNoAPFound))
	res := waitResult(t, ch)
	assert.ErrorIs(t, res.err, ErrConnectRequest)
	assert.ErrorIs(t, res.err, boom)
	assert.Equal(t, 1, st.Retries())
}

func TestStationPendingAndBusy(t *testing.T) {
	st, sim, _ := newTestStation(t)

	out, err := st.Connect(context.Background(), testConfig(), false)
	require.NoError(t, err)
	assert.Equal(t, Pending, out.Status)
	assert.Equal(t, StateConnecting, st.State())

	busy, err := st.Connect(context.Background(), testConfig(), true)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, Failed, busy.Status)

	require.NoError(t, sim.Assign(netip.MustParseAddr("10.1.1.1")))
	done, err := st.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Connected, done.Status)
	assert.Equal(t, out.Attempt, done.Attempt)

	// no attempt outstanding: last outcome
	again, err := st.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, done, again)
}

func TestStationTimeout(t *testing.T) {
	st, sim, bus := newTestStation(t, WithTimeout(50*time.Millisecond))

	ch := connectAsync(st, testConfig())
	att := outstanding(t, st)
	res := waitResult(t, ch)
	assert.ErrorIs(t, res.err, ErrTimeout)
	assert.Equal(t, ReasonTimeout, res.out.Reason())
	assert.Equal(t, 0, bus.Handlers())
	assert.Contains(t, sim.Calls(), "disconnect")

	// late events are ignored
	require.NoError(t, sim.Assign(netip.MustParseAddr("10.1.1.2")))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StateFailed, st.State())
	assert.Equal(t, 1, att.done.Raised())
}

func TestStationContextCanceled(t *testing.T) {
	st, sim, _ := newTestStation(t, WithTimeout(0))
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan result, 1)
	go func() {
		out, err := st.Connect(ctx, testConfig(), true)
		ch <- result{out, err}
	}()
	waitRequests(t, sim, 1)
	cancel()

	res := waitResult(t, ch)
	assert.ErrorIs(t, res.err, ErrCanceled)
	assert.ErrorIs(t, res.err, context.Canceled)
}

func TestStationDisconnectReleasesWaiter(t *testing.T) {
	st, sim, bus := newTestStation(t, WithTimeout(0))
	ch := connectAsync(st, testConfig())
	waitRequests(t, sim, 1)

	require.NoError(t, st.Disconnect())
	res := waitResult(t, ch)
	assert.ErrorIs(t, res.err, ErrCanceled)
	assert.Equal(t, 0, bus.Handlers())
	assert.Equal(t, StateStarting, st.State())

	// a new attempt can be made
	sim.Join = FailFirst(0, netip.MustParseAddr("10.2.0.1"))
	out, err := st.Connect(context.Background(), testConfig(), true)
	require.NoError(t, err)
	assert.Equal(t, Connected, out.Status)

	require.NoError(t, st.Disconnect())
	assert.Equal(t, StateStarting, st.State())
	assert.Nil(t, st.Link())
}

func TestStationIndependentInstances(t *testing.T) {
	st1, sim1, _ := newTestStation(t, WithMaxRetry(1))
	st2, sim2, _ := newTestStation(t, WithMaxRetry(1))
	sim1.Join = NeverJoin
	sim2.Join = FailFirst(1, netip.MustParseAddr("10.3.0.1"))

	_, err := st1.Connect(context.Background(), testConfig(), true)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	out, err := st2.Connect(context.Background(), testConfig(), true)
	require.NoError(t, err)
	assert.Equal(t, Connected, out.Status)
	assert.Equal(t, 2, st1.Retries())
	assert.Equal(t, 0, st2.Retries())
}

func TestStationStateHook(t *testing.T) {
	var states []State
	ch := make(chan State, 16)
	st, sim, _ := newTestStation(t, WithStateHook(func(s State) { ch <- s }))
	sim.Join = FailFirst(0, netip.MustParseAddr("10.4.0.1"))

	_, err := st.Connect(context.Background(), testConfig(), true)
	require.NoError(t, err)
	require.NoError(t, st.Shutdown())
	require.Eventually(t, func() bool {
		for {
			select {
			case s := <-ch:
				states = append(states, s)
			default:
				return len(states) >= 5
			}
		}
	}, waitFor, time.Millisecond)
	assert.Equal(t, []State{
		StateStarting, StateConnecting, StateConnected, StateStarting, StateIdle,
	}, states)
}

// lateRadio counts connect requests issued after the station reported
// a connection.
type lateRadio struct {
	*SimRadio
	connected atomic.Bool
	late      atomic.Int32
}

func (r *lateRadio) Connect() error {
	if r.connected.Load() {
		r.late.Add(1)
	}
	return r.SimRadio.Connect()
}

// A disconnect racing with the address of the same attempt: one outcome,
// no retries left over and no reconnect after success.
func TestStationDisconnectAddressRace(t *testing.T) {
	ip := netip.MustParseAddr("10.5.0.1")
	for i := 0; i < 200; i++ {
		bus := NewEventLoop()
		radio := &lateRadio{SimRadio: NewSimRadio(bus)}
		st := NewStation(radio, bus, WithStateHook(func(s State) {
			if s == StateConnected {
				radio.connected.Store(true)
			}
		}))
		_, err := st.Connect(context.Background(), testConfig(), false)
		require.NoError(t, err)
		att := outstanding(t, st)

		var wg sync.WaitGroup
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			st.onDisconnect(att, WifiEvent, LinkDisconnected, &DisconnectInfo{Reason: ReasonNoAPFound})
		}()
		go func() {
			defer wg.Done()
			<-start
			st.onAddress(att, IPEvent, AddressAcquired, &IPInfo{IP: ip})
		}()
		close(start)
		wg.Wait()

		out, err := st.Wait(context.Background())
		require.NoError(t, err)
		assert.Equal(t, Connected, out.Status)
		assert.Equal(t, ip, out.IP)
		assert.Equal(t, 0, st.Retries())
		assert.Equal(t, 1, att.done.Raised())
		assert.Zero(t, radio.late.Load())
		bus.Close()
	}
}

// Each connect starts with a fresh retry budget.
func TestStationRetriesResetPerAttempt(t *testing.T) {
	st, sim, _ := newTestStation(t, WithMaxRetry(2))
	sim.Join = NeverJoin

	_, err := st.Connect(context.Background(), testConfig(), true)
	require.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, 3, st.Retries())
	assert.Equal(t, 3, sim.Requests())

	// next attempt: the first disconnect is retried
	sim.Join = nil
	ch := connectAsync(st, testConfig())
	waitRequests(t, sim, 4)
	assert.Equal(t, 0, st.Retries())
	require.NoError(t, sim.Drop(ReasonNoAPFound))
	waitRequests(t, sim, 5)
	assert.Equal(t, 1, st.Retries())
	assert.Equal(t, StateConnecting, st.State())

	require.NoError(t, sim.Assign(netip.MustParseAddr("10.6.0.1")))
	res := waitResult(t, ch)
	require.NoError(t, res.err)
	assert.Equal(t, 0, st.Retries())
}
