package events

import (
	"errors"
	"testing"
)

func TestPublishDeliversInOrder(t *testing.T) {
	bus := NewBus(nil)
	var got []string
	bus.Subscribe(TypeProductionCompleted, func(n Notification) error {
		got = append(got, "first:"+n.EntityID)
		return nil
	})
	bus.Subscribe(TypeProductionCompleted, func(n Notification) error {
		got = append(got, "second:"+n.EntityID)
		return nil
	})

	bus.Publish(Notification{Type: TypeProductionCompleted, EntityID: "wo-1"})

	if len(got) != 2 || got[0] != "first:wo-1" || got[1] != "second:wo-1" {
		t.Fatalf("deliveries = %v", got)
	}
}

func TestPublishIgnoresOtherTypes(t *testing.T) {
	bus := NewBus(nil)
	called := false
	bus.Subscribe(TypeWorkOrderCancelled, func(Notification) error {
		called = true
		return nil
	})

	bus.Publish(Notification{Type: TypeProductionCompleted})

	if called {
		t.Fatal("handler for another type was called")
	}
}

func TestFailingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := NewBus(nil)
	var calls []string
	bus.Subscribe(TypeMaterialsNeeded, func(Notification) error {
		calls = append(calls, "failing")
		return errors.New("backend down")
	})
	bus.Subscribe(TypeMaterialsNeeded, func(Notification) error {
		calls = append(calls, "panicking")
		panic("boom")
	})
	bus.Subscribe(TypeMaterialsNeeded, func(Notification) error {
		calls = append(calls, "healthy")
		return nil
	})

	bus.Publish(Notification{Type: TypeMaterialsNeeded})

	if len(calls) != 3 || calls[2] != "healthy" {
		t.Fatalf("calls = %v, want all three handlers to run", calls)
	}
}
