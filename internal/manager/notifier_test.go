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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestNotifierFanout(t *testing.T) {
	t.Parallel()

	n := NewNotifier()
	defer n.Close()

	a := n.Subscribe()
	b := n.Subscribe()

	n.Publish(Event{DocumentID: "d1", Origin: OriginLocal})

	assert.Equal(t, "d1", recvEvent(t, a).DocumentID)
	assert.Equal(t, "d1", recvEvent(t, b).DocumentID)
}

func TestNotifierUnsubscribe(t *testing.T) {
	t.Parallel()

	n := NewNotifier()
	defer n.Close()

	ch := n.Subscribe()
	n.Unsubscribe(ch)

	// Unsubscribe closes the channel.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	// Publishing afterwards must not panic or block.
	n.Publish(Event{DocumentID: "d1", Origin: OriginRemote})
}

func TestNotifierSlowSubscriberDropsEvents(t *testing.T) {
	t.Parallel()

	n := NewNotifier()
	defer n.Close()

	ch := n.Subscribe()

	// Overfill the subscriber buffer; the loop must not block.
	for i := 0; i < 200; i++ {
		n.Publish(Event{DocumentID: "flood", Origin: OriginLocal})
	}

	// A fresh publish still goes through after draining.
	for len(ch) > 0 {
		<-ch
	}
	n.Publish(Event{DocumentID: "after", Origin: OriginLocal})
	require.Eventually(t, func() bool {
		select {
		case ev := <-ch:
			return ev.DocumentID == "after" || ev.DocumentID == "flood"
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNotifierClose(t *testing.T) {
	t.Parallel()

	n := NewNotifier()
	ch := n.Subscribe()
	n.Close()

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel should close on shutdown")

	// All public methods are safe after close.
	n.Publish(Event{DocumentID: "d1"})
	n.Unsubscribe(ch)
	late := n.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	n.Close()
}
