package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"kanban-api/domain"
)

type flushRecorder struct {
	*httptest.ResponseRecorder
}

func (flushRecorder) Flush() {}

func newStreamContext(target string, boardID string) (echo.Context, *flushRecorder, context.CancelFunc) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	rec := &flushRecorder{httptest.NewRecorder()}
	c := e.NewContext(req, rec)
	c.SetParamNames("boardId")
	c.SetParamValues(boardID)
	return c, rec, cancel
}

func TestStreamBoardEventsUnauthorized(t *testing.T) {
	hub := NewHub(nil)
	c, rec, cancel := newStreamContext("/api/boards/b1/events", "b1")
	defer cancel()

	if err := streamBoardEvents(fakeAuth{err: fmt.Errorf("bad token")}, hub)(c); err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestStreamBoardEventsWritesFrames(t *testing.T) {
	hub := NewHub(nil)
	auth := fakeAuth{ident: domain.Identity{Subject: "u1"}}
	c, rec, cancel := newStreamContext("/api/boards/b1/events", "b1")

	done := make(chan error, 1)
	go func() {
		done <- streamBoardEvents(auth, hub)(c)
	}()

	// Wait for the handler to subscribe before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.Publish("b1", domain.EventTaskAdded, domain.TaskEvent{ID: "t1", BoardID: "b1", ColumnID: "c1", Title: "Write docs"})
		time.Sleep(20 * time.Millisecond)
		if strings.Contains(rec.Body.String(), "event: "+domain.EventTaskAdded) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no event frame was written")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handler returned an error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not stop on context cancellation")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "\ndata: ") || !strings.Contains(body, `"columnId":"c1"`) {
		t.Fatalf("unexpected frame body: %q", body)
	}
	if got := rec.Header().Get(echo.HeaderContentType); got != "text/event-stream" {
		t.Fatalf("unexpected content type %q", got)
	}
}

func TestStreamBoardEventsTokenQueryParam(t *testing.T) {
	hub := NewHub(nil)
	var seen string
	auth := headerRecordingAuth{seen: &seen}
	c, _, cancel := newStreamContext("/api/boards/b1/events?token=abc", "b1")

	done := make(chan error, 1)
	go func() {
		done <- streamBoardEvents(auth, hub)(c)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not stop")
	}

	if seen != "Bearer abc" {
		t.Fatalf("expected the token to be promoted to a bearer header, got %q", seen)
	}
}

type headerRecordingAuth struct {
	seen *string
}

func (a headerRecordingAuth) IdentityFromAuthHeader(header string) (domain.Identity, error) {
	*a.seen = header
	return domain.Identity{Subject: "u1"}, nil
}
