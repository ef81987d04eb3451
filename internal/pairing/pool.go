package pairing

import (
	"time"

	"github.com/eapache/queue"
)

// compactSlack bounds how many tombstoned entries may accumulate in the queue
// beyond the number of live waiters before it is rebuilt.
const compactSlack = 64

type waiter struct {
	conn    ConnectionID
	since   time.Time
	removed bool
}

// waitingPool is an insertion-ordered set of waiting connections.
//
// The FIFO lives in a ring-buffer queue; removals from the middle mark the
// entry as removed and leave it for popOldest/compact to discard. Callers
// must serialize access.
type waitingPool struct {
	q     *queue.Queue
	index map[ConnectionID]*waiter
}

func newWaitingPool() *waitingPool {
	return &waitingPool{
		q:     queue.New(),
		index: make(map[ConnectionID]*waiter),
	}
}

func (p *waitingPool) len() int { return len(p.index) }

func (p *waitingPool) contains(conn ConnectionID) bool {
	_, ok := p.index[conn]
	return ok
}

// push appends conn to the back of the pool. It reports false if conn is
// already waiting.
func (p *waitingPool) push(conn ConnectionID, now time.Time) bool {
	if p.contains(conn) {
		return false
	}
	w := &waiter{conn: conn, since: now}
	p.index[conn] = w
	p.q.Add(w)
	return true
}

func (p *waitingPool) remove(conn ConnectionID) bool {
	w, ok := p.index[conn]
	if !ok {
		return false
	}
	w.removed = true
	delete(p.index, conn)
	p.compact()
	return true
}

// popOldest removes and returns the longest-waiting live connection.
func (p *waitingPool) popOldest() (ConnectionID, bool) {
	for p.q.Length() > 0 {
		w := p.q.Remove().(*waiter)
		if w.removed {
			continue
		}
		delete(p.index, w.conn)
		return w.conn, true
	}
	return "", false
}

// expire removes every live waiter that joined at or before cutoff, oldest
// first.
func (p *waitingPool) expire(cutoff time.Time) []ConnectionID {
	var out []ConnectionID
	for p.q.Length() > 0 {
		w := p.q.Peek().(*waiter)
		if !w.removed && w.since.After(cutoff) {
			break
		}
		p.q.Remove()
		if w.removed {
			continue
		}
		delete(p.index, w.conn)
		out = append(out, w.conn)
	}
	return out
}

// members returns the live waiters in arrival order.
func (p *waitingPool) members() []ConnectionID {
	out := make([]ConnectionID, 0, len(p.index))
	for i := 0; i < p.q.Length(); i++ {
		w := p.q.Get(i).(*waiter)
		if !w.removed {
			out = append(out, w.conn)
		}
	}
	return out
}

func (p *waitingPool) compact() {
	if p.q.Length() <= 2*len(p.index)+compactSlack {
		return
	}
	fresh := queue.New()
	for p.q.Length() > 0 {
		w := p.q.Remove().(*waiter)
		if !w.removed {
			fresh.Add(w)
		}
	}
	p.q = fresh
}
