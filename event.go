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
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
)

// Event bus errors
var (
	ErrBusClosed = errors.New("event loop closed")
	errNoHandler = errors.New("no handler")
	errNoToken   = errors.New("unknown handler token")
)

// EventClass groups related events (like an event base).
type EventClass uint8

// event classes
const (
	WifiEvent EventClass = iota + 1 // link-layer events
	IPEvent                         // network-layer events
)

// String returns the name of the event class.
func (c EventClass) String() string {
	switch c {
	case WifiEvent:
		return "WIFI"
	case IPEvent:
		return "IP"
	}
	return fmt.Sprintf("class(%d)", c)
}

// EventID identifies an event within its class.
type EventID int32

// event identifiers
const (
	AnyID            EventID = -1 // subscribe to all events of a class
	LinkStarted      EventID = 1  // radio started in station mode (WifiEvent)
	LinkConnected    EventID = 2  // associated with access point (WifiEvent)
	LinkDisconnected EventID = 3  // association lost or failed (WifiEvent)
	LinkStopped      EventID = 4  // radio stopped (WifiEvent)
	AddressAcquired  EventID = 10 // got IPv4 address (IPEvent)
)

// String returns the name of the event.
func (id EventID) String() string {
	switch id {
	case AnyID:
		return "ANY"
	case LinkStarted:
		return "LINK_STARTED"
	case LinkConnected:
		return "LINK_CONNECTED"
	case LinkDisconnected:
		return "LINK_DISCONNECTED"
	case LinkStopped:
		return "LINK_STOPPED"
	case AddressAcquired:
		return "ADDRESS_ACQUIRED"
	}
	return fmt.Sprintf("event(%d)", id)
}

//----------------------------------------------------------------------
// Event payloads
//----------------------------------------------------------------------

// LinkInfo is the payload of a LinkConnected event.
type LinkInfo struct {
	SSID     string
	Channel  uint8
	AuthMode AuthMode
}

// DisconnectInfo is the payload of a LinkDisconnected event.
type DisconnectInfo struct {
	SSID   string
	Reason uint8 // 802.11 reason code (0 = unspecified)
	RSSI   int8
}

// IPInfo is the payload of an AddressAcquired event.
type IPInfo struct {
	IP      netip.Addr // IPv4 address
	Netmask netip.Addr
	Gateway netip.Addr
}

// NewIPInfo creates an address payload from four octets.
func NewIPInfo(ip [4]byte) *IPInfo {
	return &IPInfo{
		IP: netip.AddrFrom4(ip),
	}
}

//----------------------------------------------------------------------

// Handler is called for subscribed events with the context argument
// given at subscription time.
type Handler func(arg any, class EventClass, id EventID, payload any)

// HandlerToken identifies a subscription.
type HandlerToken uint32

// EventBus delivers typed events to registered handlers.
type EventBus interface {
	Subscribe(class EventClass, id EventID, hdlr Handler, arg any) (HandlerToken, error)
	Unsubscribe(tok HandlerToken) error
}

// Poster publishes events (the producer side of a bus).
type Poster interface {
	Post(class EventClass, id EventID, payload any) error
}

// Event posted to the bus.
type Event struct {
	Class   EventClass
	ID      EventID
	Payload any
}

// registered handler
type subscription struct {
	class  EventClass
	id     EventID
	hdlr   Handler
	arg    any
	active atomic.Bool
}

// matches returns true if the event is for this subscription.
func (s *subscription) matches(ev *Event) bool {
	return s.class == ev.Class && (s.id == AnyID || s.id == ev.ID)
}

// EventLoop is an EventBus with a single dispatching goroutine: events are
// delivered in the order they were posted and a handler is never invoked
// concurrently with itself. Post never blocks, so handlers can post events
// and (un-)subscribe.
type EventLoop struct {
	mtx    sync.Mutex
	cond   *sync.Cond
	queue  []*Event
	subs   map[HandlerToken]*subscription
	next   HandlerToken
	closed bool
	done   chan struct{}
}

// NewEventLoop creates and runs a new event loop.
func NewEventLoop() *EventLoop {
	el := &EventLoop{
		subs: make(map[HandlerToken]*subscription),
		done: make(chan struct{}),
	}
	el.cond = sync.NewCond(&el.mtx)
	go el.run()
	return el
}

// Subscribe a handler to events of a class (all events if id is AnyID).
func (el *EventLoop) Subscribe(class EventClass, id EventID, hdlr Handler, arg any) (HandlerToken, error) {
	if hdlr == nil {
		return 0, errNoHandler
	}
	el.mtx.Lock()
	defer el.mtx.Unlock()
	if el.closed {
		return 0, ErrBusClosed
	}
	el.next++
	sub := &subscription{
		class: class,
		id:    id,
		hdlr:  hdlr,
		arg:   arg,
	}
	sub.active.Store(true)
	el.subs[el.next] = sub
	return el.next, nil
}

// Unsubscribe a handler. A dispatch that has not reached the handler yet
// skips it, also for an event already being delivered. A call the
// dispatcher is about to make or is making can still happen once after
// Unsubscribe returns; handlers must tolerate such a late call.
func (el *EventLoop) Unsubscribe(tok HandlerToken) error {
	el.mtx.Lock()
	defer el.mtx.Unlock()
	sub, ok := el.subs[tok]
	if !ok {
		return errNoToken
	}
	sub.active.Store(false)
	delete(el.subs, tok)
	return nil
}

// Post an event for asynchronous delivery.
func (el *EventLoop) Post(class EventClass, id EventID, payload any) error {
	el.mtx.Lock()
	defer el.mtx.Unlock()
	if el.closed {
		return ErrBusClosed
	}
	el.queue = append(el.queue, &Event{
		Class:   class,
		ID:      id,
		Payload: payload,
	})
	el.cond.Signal()
	return nil
}

// Handlers returns the number of registered handlers.
func (el *EventLoop) Handlers() int {
	el.mtx.Lock()
	defer el.mtx.Unlock()
	return len(el.subs)
}

// Close the loop. Pending events are still delivered; Close returns
// when the dispatcher has terminated.
func (el *EventLoop) Close() {
	el.mtx.Lock()
	if !el.closed {
		el.closed = true
		el.cond.Broadcast()
	}
	el.mtx.Unlock()
	<-el.done
}

// dispatcher
func (el *EventLoop) run() {
	defer close(el.done)
	for {
		el.mtx.Lock()
		for len(el.queue) == 0 && !el.closed {
			el.cond.Wait()
		}
		if len(el.queue) == 0 {
			el.mtx.Unlock()
			return
		}
		ev := el.queue[0]
		el.queue[0] = nil
		el.queue = el.queue[1:]
		var toks []HandlerToken
		for tok, sub := range el.subs {
			if sub.matches(ev) {
				toks = append(toks, tok)
			}
		}
		slices.Sort(toks)
		targets := make([]*subscription, len(toks))
		for i, tok := range toks {
			targets[i] = el.subs[tok]
		}
		el.mtx.Unlock()

		for _, sub := range targets {
			// handler may have been removed by a previous one
			if sub.active.Load() {
				sub.hdlr(sub.arg, ev.Class, ev.ID, ev.Payload)
			}
		}
	}
}
