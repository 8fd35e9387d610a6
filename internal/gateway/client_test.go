package gateway

import (
	"testing"

	"github.com/nextlevelbuilder/agentbus/pkg/protocol"
)

func deliver(p protocol.Priority) *protocol.DeliverFrame {
	return protocol.NewDeliver(protocol.Message{ID: string(rune('a' + int(p))), Priority: p})
}

func TestOutQueueShedsLowPriorityDeliveries(t *testing.T) {
	q := newOutQueue(2)

	if !q.push(deliver(protocol.PriorityBulk)) {
		t.Fatal("first push failed")
	}
	if !q.push(deliver(protocol.PriorityCritical)) {
		t.Fatal("second push failed")
	}
	// Full: the bulk delivery is shed to make room.
	if !q.push(deliver(protocol.PriorityHigh)) {
		t.Fatal("push with sheddable entry failed")
	}

	got1, _ := q.pop()
	got2, _ := q.pop()
	if got1.(*protocol.DeliverFrame).Priority != protocol.PriorityCritical {
		t.Errorf("first = %v", got1)
	}
	if got2.(*protocol.DeliverFrame).Priority != protocol.PriorityHigh {
		t.Errorf("second = %v", got2)
	}
	if _, ok := q.pop(); ok {
		t.Error("queue not empty after shed")
	}
}

func TestOutQueueRefusesWhenNothingSheddable(t *testing.T) {
	q := newOutQueue(2)
	q.push(deliver(protocol.PriorityCritical))
	q.push(deliver(protocol.PriorityNormal))

	if q.push(deliver(protocol.PriorityHigh)) {
		t.Error("push succeeded with no sheddable entries")
	}
	// Control frames are never shed in favor of deliveries either.
	if q.push(protocol.NewError("r", protocol.ErrInternal, "x")) {
		t.Error("control frame accepted on a full unsheddable queue")
	}
}

func TestOutQueueControlFramesNotShed(t *testing.T) {
	q := newOutQueue(2)
	q.push(protocol.NewError("r1", protocol.ErrInternal, "keep"))
	q.push(deliver(protocol.PriorityLow))

	// The low delivery goes, the error frame stays.
	if !q.push(deliver(protocol.PriorityCritical)) {
		t.Fatal("push failed despite sheddable delivery")
	}
	first, _ := q.pop()
	if _, ok := first.(*protocol.ErrorFrame); !ok {
		t.Errorf("first = %T, want the control frame", first)
	}
}
