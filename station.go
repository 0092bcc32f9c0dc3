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
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// station defaults
const (
	DefaultMaxRetry = 5
	DefaultTimeout  = 30 * time.Second
)

// State of the station
type State int32

// station states
const (
	StateIdle       State = iota // radio off
	StateStarting                // radio running, no attempt
	StateConnecting              // attempt outstanding
	StateConnected               // address acquired
	StateFailed                  // last attempt failed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

//----------------------------------------------------------------------

// Option for a station
type Option func(*Station)

// WithMaxRetry sets the retry ceiling (consecutive failed attempts).
func WithMaxRetry(n int) Option {
	return func(s *Station) {
		if n >= 0 {
			s.maxRetry = n
		}
	}
}

// WithTimeout sets the maximum time Connect waits for an outcome
// (0 = wait until the context is done).
func WithTimeout(d time.Duration) Option {
	return func(s *Station) {
		s.timeout = d
	}
}

// WithLogger sets the logger for event handling.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Station) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithStateHook registers a function called on state changes. The hook
// must not block.
func WithStateHook(fn func(State)) Option {
	return func(s *Station) {
		s.hook = fn
	}
}

// WithRadioConfig sets the radio initialization parameters.
func WithRadioConfig(rcfg *RadioConfig) Option {
	return func(s *Station) {
		s.rcfg = rcfg
	}
}

//----------------------------------------------------------------------

// a single connection attempt
type attempt struct {
	id   uuid.UUID
	cfg  Config
	done *Completion
	toks []HandlerToken // guarded by Station.mtx
	over bool           // terminated; guarded by Station.mtx
}

// Station manages the connection of a radio in station mode: it starts
// the radio, issues connection requests, follows link and address events
// on the bus and retries failed associations up to a retry ceiling.
// At most one connection attempt is outstanding at any time.
type Station struct {
	radio    Radio
	bus      EventBus
	logger   *slog.Logger
	rcfg     *RadioConfig
	maxRetry int
	timeout  time.Duration
	hook     func(State)

	mtx     sync.Mutex // guards fields below
	state   State      // current state
	started bool       // radio initialized and started
	curr    *attempt   // outstanding attempt (or nil)
	last    Outcome    // outcome of last terminated attempt
	link    *LinkInfo  // current link (if associated)

	retries atomic.Int32 // consecutive failed associations
}

// NewStation creates a station for the radio. Events from the radio are
// received through the bus. Nothing is registered or started yet.
func NewStation(radio Radio, bus EventBus, opts ...Option) *Station {
	s := &Station{
		radio:    radio,
		bus:      bus,
		maxRetry: DefaultMaxRetry,
		timeout:  DefaultTimeout,
		rcfg:     new(RadioConfig),
		logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(127),
		})),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state.
func (s *Station) State() State {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.state
}

// Retries returns the number of consecutive failed associations.
func (s *Station) Retries() int {
	return int(s.retries.Load())
}

// MaxRetry returns the retry ceiling.
func (s *Station) MaxRetry() int {
	return s.maxRetry
}

// Last returns the outcome of the last terminated attempt.
func (s *Station) Last() Outcome {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.last
}

// Link returns information on the current association (or nil).
func (s *Station) Link() *LinkInfo {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.link == nil {
		return nil
	}
	li := *s.link
	return &li
}

// Start the radio in station mode. Starting a running radio is a no-op.
func (s *Station) Start() error {
	if err := s.start(); err != nil {
		return NewError("start", ReasonRadioInit, err)
	}
	return nil
}

// start the radio (unclassified error)
func (s *Station) start() error {
	s.mtx.Lock()
	if s.started {
		s.mtx.Unlock()
		return nil
	}
	err := s.radio.Init(s.rcfg)
	if err == nil {
		if err = s.radio.SetMode(ModeStation); err == nil {
			err = s.radio.Start()
		}
		if err != nil {
			// release what Init allocated
			if e := s.radio.Deinit(); e != nil && !benign(e) {
				s.logger.Warn("radio deinit failed", slog.String("err", e.Error()))
			}
		}
	}
	if err != nil {
		s.mtx.Unlock()
		return err
	}
	s.started = true
	s.state = StateStarting
	s.mtx.Unlock()
	s.notify(StateStarting)
	return nil
}

// Connect to the network described by cfg. If wait is false, Connect
// returns a Pending outcome once the request is issued; otherwise it
// blocks until the attempt terminates, the context is done or the
// station timeout elapses. The returned error is the failure of the
// outcome (nil unless the outcome is Failed).
func (s *Station) Connect(ctx context.Context, cfg *Config, wait bool) (Outcome, error) {
	att := &attempt{
		id:   uuid.New(),
		done: NewCompletion(),
	}
	if cfg == nil {
		o := failedOutcome(att.id, ReasonInvalidConfig, errors.New("no config"))
		return o, o.Error()
	}
	if err := cfg.Validate(); err != nil {
		o := failedOutcome(att.id, ReasonInvalidConfig, err)
		return o, o.Error()
	}
	att.cfg = *cfg

	// reserve the slot for this attempt
	s.mtx.Lock()
	if s.curr != nil {
		s.mtx.Unlock()
		o := failedOutcome(att.id, ReasonBusy, nil)
		return o, o.Error()
	}
	s.curr = att
	s.link = nil
	s.mtx.Unlock()
	s.retries.Store(0)

	if err := s.start(); err != nil {
		return s.abort(att, ReasonRadioInit, err)
	}
	if err := s.subscribe(att); err != nil {
		return s.abort(att, ReasonConnectRequest, err)
	}
	s.enter(att, StateConnecting)

	if err := s.radio.SetCredentials(&att.cfg); err != nil {
		return s.abort(att, ReasonInvalidConfig, err)
	}
	if err := s.radio.Connect(); err != nil {
		reason := ReasonConnectRequest
		if errors.Is(err, ErrRadioConfig) {
			reason = ReasonInvalidConfig
		}
		return s.abort(att, reason, err)
	}
	if !wait {
		return Outcome{Attempt: att.id, Status: Pending}, nil
	}
	return s.await(ctx, att)
}

// Wait for the outstanding attempt to terminate. If no attempt is
// outstanding, the outcome of the last attempt is returned.
func (s *Station) Wait(ctx context.Context) (Outcome, error) {
	s.mtx.Lock()
	att, last := s.curr, s.last
	s.mtx.Unlock()
	if att == nil {
		return last, last.Error()
	}
	return s.await(ctx, att)
}

// Disconnect abandons an outstanding attempt (releasing its waiter with a
// Canceled outcome) and disconnects the radio. No-op if the radio is not
// running.
func (s *Station) Disconnect() error {
	s.mtx.Lock()
	att, started := s.curr, s.started
	s.mtx.Unlock()
	if att == nil && !started {
		return nil
	}
	if att != nil {
		s.finish(att, failedOutcome(att.id, ReasonCanceled, nil))
	}
	if err := s.radio.Disconnect(); err != nil && !benign(err) {
		return NewError("disconnect", ReasonRadio, err)
	}
	s.mtx.Lock()
	s.link = nil
	changed := s.curr == nil && s.started && s.state != StateStarting
	if changed {
		s.state = StateStarting
	}
	s.mtx.Unlock()
	if changed {
		s.notify(StateStarting)
	}
	return nil
}

// Shutdown disconnects, stops and de-initializes the radio. Calling
// Shutdown on a stopped station succeeds.
func (s *Station) Shutdown() error {
	if err := s.Disconnect(); err != nil {
		return err
	}
	s.mtx.Lock()
	err := s.radio.Stop()
	if err == nil || benign(err) {
		err = s.radio.Deinit()
	}
	if err != nil && !benign(err) {
		s.mtx.Unlock()
		return NewError("shutdown", ReasonRadio, err)
	}
	changed := s.state != StateIdle
	s.started = false
	s.state = StateIdle
	s.link = nil
	s.mtx.Unlock()
	if changed {
		s.notify(StateIdle)
	}
	return nil
}

//----------------------------------------------------------------------
// Event handlers
//----------------------------------------------------------------------

// subscribe the event handlers for an attempt.
func (s *Station) subscribe(att *attempt) error {
	list := []struct {
		class EventClass
		id    EventID
		hdlr  Handler
	}{
		{WifiEvent, LinkDisconnected, s.onDisconnect},
		{WifiEvent, LinkConnected, s.onConnect},
		{IPEvent, AddressAcquired, s.onAddress},
	}
	for _, e := range list {
		tok, err := s.bus.Subscribe(e.class, e.id, e.hdlr, att)
		if err != nil {
			return err
		}
		s.mtx.Lock()
		att.toks = append(att.toks, tok)
		s.mtx.Unlock()
	}
	// terminated while subscribing
	s.mtx.Lock()
	over := att.over
	s.mtx.Unlock()
	if over {
		s.release(att)
	}
	return nil
}

// release unregisters the handlers of an attempt.
func (s *Station) release(att *attempt) {
	s.mtx.Lock()
	toks := att.toks
	att.toks = nil
	s.mtx.Unlock()
	for _, tok := range toks {
		if err := s.bus.Unsubscribe(tok); err != nil {
			s.logger.Debug("unsubscribe failed", slog.String("err", err.Error()))
		}
	}
}

// owns returns true if att is the outstanding, unterminated attempt.
func (s *Station) owns(att *attempt) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.curr == att && !att.over
}

// onDisconnect counts a failed association and either retries or gives up.
func (s *Station) onDisconnect(arg any, _ EventClass, _ EventID, payload any) {
	att, ok := arg.(*attempt)
	if !ok {
		return
	}
	// count only for the live attempt; finish resets the counter under
	// the same lock
	s.mtx.Lock()
	if s.curr != att || att.over {
		s.mtx.Unlock()
		return
	}
	s.link = nil
	n := int(s.retries.Add(1))
	s.mtx.Unlock()

	if n > s.maxRetry {
		s.finish(att, failedOutcome(att.id, ReasonRetriesExhausted, nil))
		return
	}
	args := []any{
		slog.String("attempt", att.id.String()),
		slog.Int("retry", n),
		slog.Int("max", s.maxRetry),
	}
	if info, ok := payload.(*DisconnectInfo); ok {
		args = append(args, slog.Int("reason", int(info.Reason)))
	}
	s.logger.Debug("retry to connect to the AP", args...)

	// no reconnect once the attempt is over
	s.mtx.Lock()
	if s.curr != att || att.over {
		s.mtx.Unlock()
		return
	}
	err := s.radio.Connect()
	s.mtx.Unlock()
	if err != nil {
		// the radio may report "not started" while a handshake is torn down
		if errors.Is(err, ErrNotStarted) {
			s.logger.Debug("reconnect raced with radio state", slog.String("err", err.Error()))
			return
		}
		s.finish(att, failedOutcome(att.id, ReasonConnectRequest, err))
	}
}

// onConnect records the link; the attempt continues until an address
// is acquired.
func (s *Station) onConnect(arg any, _ EventClass, _ EventID, payload any) {
	att, ok := arg.(*attempt)
	if !ok || !s.owns(att) {
		return
	}
	if info, ok := payload.(*LinkInfo); ok {
		s.mtx.Lock()
		li := *info
		s.link = &li
		s.mtx.Unlock()
		s.logger.Debug("associated", slog.String("ssid", info.SSID), slog.Int("channel", int(info.Channel)))
	}
}

// onAddress terminates the attempt successfully.
func (s *Station) onAddress(arg any, _ EventClass, _ EventID, payload any) {
	att, ok := arg.(*attempt)
	if !ok || !s.owns(att) {
		return
	}
	info, ok := payload.(*IPInfo)
	if !ok || !info.IP.Is4() {
		s.logger.Warn("address event without IPv4 address")
		return
	}
	s.finish(att, connectedOutcome(att.id, info.IP))
}

//----------------------------------------------------------------------

// finish terminates an attempt with the outcome. Only the first call per
// attempt has an effect; it returns true for that call. Handlers are
// released and the state hook is called before the waiter is signaled.
func (s *Station) finish(att *attempt, o Outcome) bool {
	s.mtx.Lock()
	if att.over {
		s.mtx.Unlock()
		return false
	}
	att.over = true
	if o.Status == Connected {
		s.retries.Store(0)
	}
	s.last = o
	var state State
	changed := false
	if s.curr == att {
		s.curr = nil
		state = StateFailed
		if o.Status == Connected {
			state = StateConnected
		}
		changed = s.state != state
		s.state = state
	}
	s.mtx.Unlock()

	s.release(att)
	if changed {
		s.notify(state)
	}
	if !att.done.Signal(o) {
		s.logger.Error("attempt signaled twice", slog.String("attempt", att.id.String()))
	}
	return true
}

// abort an attempt before waiting for events.
func (s *Station) abort(att *attempt, reason Reason, err error) (Outcome, error) {
	s.finish(att, failedOutcome(att.id, reason, err))
	o, _ := att.done.Wait(context.Background())
	return o, o.Error()
}

// await the terminal outcome of an attempt.
func (s *Station) await(ctx context.Context, att *attempt) (Outcome, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	if _, err := att.done.Wait(ctx); err != nil {
		reason := ReasonCanceled
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		if s.finish(att, failedOutcome(att.id, reason, err)) {
			if e := s.radio.Disconnect(); e != nil && !benign(e) {
				s.logger.Debug("disconnect after abandoned attempt failed", slog.String("err", e.Error()))
			}
		}
	}
	o, _ := att.done.Wait(context.Background())
	return o, o.Error()
}

// enter a state on behalf of the outstanding attempt.
func (s *Station) enter(att *attempt, state State) {
	s.mtx.Lock()
	changed := s.curr == att && s.state != state
	if changed {
		s.state = state
	}
	s.mtx.Unlock()
	if changed {
		s.notify(state)
	}
}

// notify the state hook
func (s *Station) notify(state State) {
	if s.hook != nil {
		s.hook(state)
	}
}
