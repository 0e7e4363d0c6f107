package api

import (
	"testing"

	"kanban-api/domain"
)

func TestHubPublishScopedToBoard(t *testing.T) {
	hub := NewHub(nil)
	one := hub.Subscribe("board-1")
	two := hub.Subscribe("board-2")
	defer hub.Unsubscribe("board-1", one)
	defer hub.Unsubscribe("board-2", two)

	hub.Publish("board-1", domain.EventTaskAdded, domain.TaskEvent{ID: "t1", BoardID: "board-1", ColumnID: "c1"})

	select {
	case ev := <-one:
		if ev.Name != domain.EventTaskAdded {
			t.Fatalf("expected %s, got %s", domain.EventTaskAdded, ev.Name)
		}
	default:
		t.Fatal("subscriber on board-1 did not receive the event")
	}

	select {
	case ev := <-two:
		t.Fatalf("subscriber on board-2 received %s for board-1", ev.Name)
	default:
	}
}

func TestHubDeliversToAllBoardSubscribers(t *testing.T) {
	hub := NewHub(nil)
	var chans []chan sseEvent
	for i := 0; i < 3; i++ {
		chans = append(chans, hub.Subscribe("board-1"))
	}

	hub.Publish("board-1", domain.EventBoardUpdated, domain.BoardEvent{ID: "board-1", BoardID: "board-1"})

	for i, ch := range chans {
		select {
		case ev := <-ch:
			if ev.Name != domain.EventBoardUpdated {
				t.Fatalf("subscriber %d: expected %s, got %s", i, domain.EventBoardUpdated, ev.Name)
			}
		default:
			t.Fatalf("subscriber %d did not receive the event", i)
		}
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe("board-1")
	hub.Unsubscribe("board-1", ch)

	hub.Publish("board-1", domain.EventBoardUpdated, domain.BoardEvent{ID: "board-1", BoardID: "board-1"})

	select {
	case ev := <-ch:
		t.Fatalf("unsubscribed channel received %s", ev.Name)
	default:
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe("board-1")
	defer hub.Unsubscribe("board-1", ch)

	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish("board-1", domain.EventTaskModified, domain.TaskEvent{ID: "t1", BoardID: "board-1", ColumnID: "c1"})
	}

	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("expected %d buffered events, got %d", subscriberBuffer, got)
	}
}
