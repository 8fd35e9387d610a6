package room

import (
	"log/slog"

	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

// Notifier pushes a room event frame to every live session of a client. It
// must not block; slow sessions drop frames at their own send buffer.
type Notifier interface {
	NotifyRoomEvent(clientID string, f *protocol.RoomEventFrame)
}

// laneBuffer bounds the per-room event backlog. A full lane drops the event
// rather than stall the room lock; persisted history remains authoritative.
const laneBuffer = 256

type fanEvent struct {
	frame      *protocol.RoomEventFrame
	recipients []string
}

// lane is one room's serial delivery path. A single worker drains it so
// members observe events in the order the engine applied them.
type lane struct {
	ch   chan fanEvent
	done chan struct{}
}

func (e *Engine) newLane(roomID string) *lane {
	l := &lane{
		ch:   make(chan fanEvent, laneBuffer),
		done: make(chan struct{}),
	}
	e.wg.Add(1)
	go e.drainLane(roomID, l)
	return l
}

func (e *Engine) drainLane(roomID string, l *lane) {
	defer e.wg.Done()
	for {
		select {
		case <-l.done:
			// Flush whatever is queued, then exit.
			for {
				select {
				case ev := <-l.ch:
					e.deliverEvent(ev)
				default:
					return
				}
			}
		case ev := <-l.ch:
			e.deliverEvent(ev)
		}
	}
}

func (e *Engine) deliverEvent(ev fanEvent) {
	for _, clientID := range ev.recipients {
		e.notifier.NotifyRoomEvent(clientID, ev.frame)
	}
	e.metrics.RoomEventsTotal.WithLabelValues(ev.frame.Event).Inc()
}

// emit enqueues an event on the room's lane. Caller holds the room lock; the
// event seq is assigned here so lane order matches seq order.
func (r *roomState) emit(event string, payload any) {
	r.eventSeq++
	frame := protocol.NewRoomEvent(event, r.data.RoomID, r.eventSeq, payload)
	ev := fanEvent{frame: frame, recipients: r.activeMemberIDs()}
	select {
	case r.lane.ch <- ev:
	default:
		slog.Warn("room event lane full, dropping event",
			"room_id", r.data.RoomID, "event", event, "seq", r.eventSeq)
	}
}

func (r *roomState) activeMemberIDs() []string {
	ids := make([]string, 0, len(r.members))
	for id, m := range r.members {
		if m.Active {
			ids = append(ids, id)
		}
	}
	return ids
}

// closeLanes stops every lane worker and waits for the flush.
func (e *Engine) closeLanes() {
	e.mu.Lock()
	for _, r := range e.rooms {
		close(r.lane.done)
	}
	e.mu.Unlock()
	e.wg.Wait()
}
