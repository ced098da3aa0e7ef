package events

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/Trustflow-Network-Labs/secure-groups/internal/utils"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	logger := utils.NewLogsManagerWithWriter(utils.NewConfigManagerFromMap(nil), io.Discard)
	bus := NewBus(logger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go bus.Run(ctx)
	return bus
}

func TestPublishReachesSubscribers(t *testing.T) {
	bus := newTestBus(t)

	first := bus.Subscribe(4)
	second := bus.Subscribe(4)

	bus.Publish(Event{Type: EventGroupKicked, GroupID: "03g"})

	for i, sub := range []*Subscription{first, second} {
		select {
		case event := <-sub.C:
			if event.Type != EventGroupKicked || event.GroupID != "03g" {
				t.Errorf("Subscriber %d got unexpected event %+v", i, event)
			}
			if event.At.IsZero() {
				t.Errorf("Subscriber %d got event without timestamp", i)
			}
		case <-time.After(time.Second):
			t.Fatalf("Subscriber %d timed out", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := newTestBus(t)

	sub := bus.Subscribe(1)
	bus.Unsubscribe(sub)

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Error("Expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for close")
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := newTestBus(t)

	slow := bus.Subscribe(1)
	for i := 0; i < 10; i++ {
		bus.Publish(Event{Type: EventGroupUpdated, Count: i})
	}

	select {
	case event := <-slow.C:
		if event.Count != 0 {
			t.Errorf("Expected the first event to be kept, got %d", event.Count)
		}
	case <-time.After(time.Second):
		t.Fatal("Timed out")
	}
}

func TestSubscriptionsOutsideRun(t *testing.T) {
	tests := []struct {
		name    string
		stopped bool
	}{
		{name: "before run starts"},
		{name: "after run ends", stopped: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := utils.NewLogsManagerWithWriter(utils.NewConfigManagerFromMap(nil), io.Discard)
			bus := NewBus(logger)
			existing := bus.Subscribe(1)

			if tt.stopped {
				ctx, cancel := context.WithCancel(context.Background())
				exited := make(chan struct{})
				go func() {
					bus.Run(ctx)
					close(exited)
				}()
				cancel()
				<-exited
			}

			done := make(chan *Subscription, 1)
			go func() {
				bus.Unsubscribe(existing)
				bus.Unsubscribe(existing)
				done <- bus.Subscribe(1)
			}()

			var fresh *Subscription
			select {
			case fresh = <-done:
			case <-time.After(time.Second):
				t.Fatalf("Subscribe or Unsubscribe blocked")
			}

			if _, ok := <-existing.C; ok {
				t.Fatalf("Expected unsubscribed channel to be closed")
			}

			if tt.stopped {
				if _, ok := <-fresh.C; ok {
					t.Fatalf("Expected subscription on a stopped bus to be closed")
				}
				if bus.SubscriberCount() != 0 {
					t.Fatalf("Expected 0 subscribers, got %d", bus.SubscriberCount())
				}
				return
			}
			if bus.SubscriberCount() != 1 {
				t.Fatalf("Expected 1 subscriber, got %d", bus.SubscriberCount())
			}
		})
	}
}
