package server

import (
	"sync"

	"thirdcoast.systems/zdownload/internal/session"
)

// feed drains one session's events into a log that SSE subscribers read
// with their own cursor. The downloader never waits on a subscriber, and a
// slow subscriber falls behind without losing events.
type feed struct {
	sess *session.Session

	mu     sync.Mutex
	events []session.Event
	closed bool
	// wake is closed and replaced whenever events grow or the feed ends.
	wake chan struct{}
}

func newFeed(sess *session.Session) *feed {
	f := &feed{
		sess: sess,
		wake: make(chan struct{}),
	}
	go f.pump()
	return f
}

func (f *feed) pump() {
	for ev := range f.sess.Events() {
		f.mu.Lock()
		f.events = append(f.events, ev)
		close(f.wake)
		f.wake = make(chan struct{})
		f.mu.Unlock()
	}

	f.mu.Lock()
	f.closed = true
	close(f.wake)
	f.mu.Unlock()
}

// since returns the events after cursor and whether the feed has ended. When
// it has not, the returned channel closes once there is more to read.
func (f *feed) since(cursor int) ([]session.Event, bool, <-chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []session.Event
	if cursor < len(f.events) {
		out = f.events[cursor:len(f.events):len(f.events)]
	}
	return out, f.closed, f.wake
}
