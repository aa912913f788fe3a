package tally

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Phase names a step of a tally run
type Phase string

const (
	PhaseParse            Phase = "parse"
	PhaseContentPlans     Phase = "content-plans"
	PhaseLabelPlansMulti  Phase = "label-plans-multi"
	PhaseLabelPlansSingle Phase = "label-plans-single"
	PhaseWorkingVotes     Phase = "working-votes"
	PhaseResolution       Phase = "resolution"
	PhasePartition        Phase = "partition"
	PhaseStorage          Phase = "storage"
	PhaseRanking          Phase = "ranking"
	PhaseComplete         Phase = "complete"
	PhaseCancelled        Phase = "cancelled"
)

// PhaseEvent reports that a phase finished
type PhaseEvent struct {
	RunID uuid.UUID
	Quest string
	Phase Phase
	// Count is the number of items the phase produced
	Count int
	At    time.Time
}

// broadcaster fans phase events out to subscribers. Slow subscribers miss
// events rather than stall the run.
type broadcaster struct {
	mu   sync.Mutex
	subs map[<-chan PhaseEvent]chan PhaseEvent
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[<-chan PhaseEvent]chan PhaseEvent)}
}

func (b *broadcaster) subscribe(buffer int) <-chan PhaseEvent {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan PhaseEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = ch
	return ch
}

func (b *broadcaster) unsubscribe(ch <-chan PhaseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(c)
	}
}

func (b *broadcaster) publish(ev PhaseEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.subs {
		select {
		case c <- ev:
		default:
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, c := range b.subs {
		delete(b.subs, k)
		close(c)
	}
}
