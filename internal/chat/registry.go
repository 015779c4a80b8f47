package chat

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Registry owns the set of present participants. All mutations and
// snapshots are serialized through the Run loop.
type Registry struct {
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	logger   *slog.Logger
}

func NewRegistry(buffer int, logger *slog.Logger) *Registry {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		events: make(chan Event, buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
}

// Stop signals the Run loop to exit.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Wait blocks until the Run loop has completely finished.
func (r *Registry) Wait() {
	<-r.doneCh
}

func (r *Registry) Run() {
	defer close(r.doneCh)
	// Single-writer ownership: this map is only accessed in this goroutine.
	participants := make(map[*Conn]Participant)
	var seq uint64
	// Set by a drain; no one may join a hub that is shutting down.
	var drained bool

	for {
		select {
		case ev := <-r.events:
			start := time.Now()
			var res Result

			switch ev.Type {
			case EventRegister:
				if drained {
					res.Err = ErrRegistryClosed
					break
				}
				seq++
				res = r.handleRegister(participants, ev, seq)
				ConnectedClients.Set(float64(len(participants)))
			case EventUnregister:
				res = r.handleUnregister(participants, ev)
				ConnectedClients.Set(float64(len(participants)))
			case EventSnapshot:
				res.Participants = snapshot(participants)
			case EventDrain:
				res.Participants = snapshot(participants)
				clear(participants)
				drained = true
				ConnectedClients.Set(0)
			}

			if ev.Reply != nil {
				ev.Reply <- res
			}
			EventProcessingDuration.WithLabelValues(ev.Type.String()).Observe(time.Since(start).Seconds())
		case <-r.stopCh:
			return
		}
	}
}

func (r *Registry) handleRegister(participants map[*Conn]Participant, ev Event, seq uint64) Result {
	if ev.Conn == nil {
		return Result{}
	}
	if _, exists := participants[ev.Conn]; exists {
		return Result{Err: ErrDuplicateConnection}
	}
	participants[ev.Conn] = Participant{Conn: ev.Conn, Name: ev.Name, seq: seq}
	r.logger.Info("user registered", "username", ev.Name, "session_id", ev.Conn.ID, "total", len(participants))
	return Result{}
}

func (r *Registry) handleUnregister(participants map[*Conn]Participant, ev Event) Result {
	p, ok := participants[ev.Conn]
	if !ok {
		return Result{}
	}
	delete(participants, ev.Conn)
	r.logger.Info("user left", "username", p.Name, "session_id", ev.Conn.ID, "total", len(participants))
	return Result{Removed: true}
}

func snapshot(participants map[*Conn]Participant) []Participant {
	out := make([]Participant, 0, len(participants))
	for _, p := range participants {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Participant) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return out
}

// Add inserts a participant. It fails with ErrDuplicateConnection if the
// connection is already present.
func (r *Registry) Add(conn *Conn, name string) error {
	return r.do(Event{Type: EventRegister, Conn: conn, Name: name}).Err
}

// Remove deletes the participant for conn. Removing an absent connection is
// not an error; removed reports whether an entry was deleted.
func (r *Registry) Remove(conn *Conn) (removed bool, err error) {
	res := r.do(Event{Type: EventUnregister, Conn: conn})
	return res.Removed, res.Err
}

// Snapshot returns the participants present at the instant of the call, in
// join order.
func (r *Registry) Snapshot() ([]Participant, error) {
	res := r.do(Event{Type: EventSnapshot})
	return res.Participants, res.Err
}

// Drain removes every participant at once and returns them. Later Adds fail
// with ErrRegistryClosed.
func (r *Registry) Drain() ([]Participant, error) {
	res := r.do(Event{Type: EventDrain})
	return res.Participants, res.Err
}

// Count returns the number of present participants.
func (r *Registry) Count() int {
	ps, err := r.Snapshot()
	if err != nil {
		return 0
	}
	return len(ps)
}

func (r *Registry) do(ev Event) Result {
	ev.Reply = make(chan Result, 1)
	select {
	case r.events <- ev:
	case <-r.stopCh:
		return Result{Err: ErrRegistryClosed}
	}
	select {
	case res := <-ev.Reply:
		return res
	case <-r.doneCh:
		// The loop may have answered just before exiting.
		select {
		case res := <-ev.Reply:
			return res
		default:
			return Result{Err: ErrRegistryClosed}
		}
	}
}
