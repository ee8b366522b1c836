// Copyright 2025 Notesync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package manager

import (
	"sync/atomic"
)

// Event origins.
const (
	OriginLocal  = "local"  // this instance wrote the update
	OriginRemote = "remote" // discovered in the storage directory
)

// Event announces that a document's state changed.
type Event struct {
	DocumentID string
	Origin     string
}

// Notifier fans document change events out to subscribers.
//
// Concurrency model: a single internal loop owns the subscriber set, and
// public methods talk to it through channels, so no mutex guards the set. A
// subscriber that stops draining its channel misses events rather than
// blocking the loop.
type Notifier struct {
	subscribeCh   chan chan Event
	unsubscribeCh chan chan Event
	publishCh     chan Event

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewNotifier starts a notifier loop.
func NewNotifier() *Notifier {
	n := &Notifier{
		subscribeCh:   make(chan chan Event),
		unsubscribeCh: make(chan chan Event),
		publishCh:     make(chan Event, 256),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go n.run()
	return n
}

func (n *Notifier) run() {
	defer close(n.stopped)

	subs := make(map[chan Event]struct{})
	for {
		select {
		case <-n.stopCh:
			for ch := range subs {
				close(ch)
			}
			return

		case ch := <-n.subscribeCh:
			subs[ch] = struct{}{}

		case ch := <-n.unsubscribeCh:
			if _, ok := subs[ch]; ok {
				delete(subs, ch)
				close(ch)
			}

		case ev := <-n.publishCh:
			for ch := range subs {
				select {
				case ch <- ev:
				default:
					// Subscriber buffer full; drop rather than block.
				}
			}
		}
	}
}

// Subscribe registers a new subscriber and returns its channel.
func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, 64)
	if n.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case n.subscribeCh <- ch:
	case <-n.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(ch chan Event) {
	if n.closed.Load() {
		return
	}
	select {
	case n.unsubscribeCh <- ch:
	case <-n.stopped:
	}
}

// Publish broadcasts an event to all subscribers.
func (n *Notifier) Publish(ev Event) {
	if n.closed.Load() {
		return
	}
	select {
	case n.publishCh <- ev:
	case <-n.stopped:
	}
}

// Close stops the loop and closes all subscriber channels.
func (n *Notifier) Close() {
	if n.closed.CompareAndSwap(false, true) {
		close(n.stopCh)
	}
	<-n.stopped
}
