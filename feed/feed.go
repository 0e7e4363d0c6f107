// Package feed turns the store's write stream into per-collection change
// feeds. Writers publish change batches onto a Redis pub/sub channel named
// after the collection; watchers consume them as a lazy, non-restartable
// sequence that ends with a terminal error when the subscription drops.
package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Kind classifies a single document change.
type Kind string

const (
	Added    Kind = "added"
	Modified Kind = "modified"
	Removed  Kind = "removed"
)

// Record is one document change inside a batch.
type Record struct {
	Kind Kind            `json:"kind"`
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Batch is a non-empty ordered set of records delivered together.
type Batch []Record

// BoardChannel names the change channel for a single board document.
func BoardChannel(boardID string) string {
	return "watch:board:" + boardID
}

// ColumnsChannel names the change channel for a board's columns.
func ColumnsChannel(boardID string) string {
	return "watch:columns:" + boardID
}

// TasksChannel names the change channel for one column's tasks.
func TasksChannel(boardID, columnID string) string {
	return "watch:tasks:" + boardID + ":" + columnID
}

// Publisher fans written changes out to the matching channel. Publish
// failures are logged and swallowed; a write must not fail because nobody
// could be told about it.
type Publisher struct {
	rc     *redis.Client
	logger *log.Logger
}

// NewPublisher creates a Publisher on the given Redis client.
func NewPublisher(rc *redis.Client, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Publisher{rc: rc, logger: logger}
}

// Publish sends the records as one batch on the named channel.
func (p *Publisher) Publish(ctx context.Context, channel string, records ...Record) {
	if len(records) == 0 {
		return
	}
	data, err := json.Marshal(Batch(records))
	if err != nil {
		p.logger.Errorf("feed: marshal batch for %s: %v", channel, err)
		return
	}
	if err := p.rc.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Errorf("feed: publish to %s: %v", channel, err)
	}
}

// Feed is one live watch. Updates yields batches in delivery order and is
// closed when the watch terminates; Err reports why once Updates is closed.
type Feed struct {
	updates chan Batch

	mu  sync.Mutex
	err error
}

// Updates returns the batch stream.
func (f *Feed) Updates() <-chan Batch {
	return f.updates
}

// Err returns the terminal error, if any. Only meaningful after Updates
// has been closed.
func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *Feed) fail(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Source opens watches against the pub/sub backend.
type Source struct {
	rc     *redis.Client
	logger *log.Logger
}

// NewSource creates a Source on the given Redis client.
func NewSource(rc *redis.Client, logger *log.Logger) *Source {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Source{rc: rc, logger: logger}
}

// Watch subscribes to a channel and returns its feed. It blocks until the
// subscription is confirmed so a batch published immediately afterwards is
// not lost. The feed does not resubscribe on its own: when the underlying
// subscription drops, the stream ends.
func (s *Source) Watch(ctx context.Context, channel string) (*Feed, error) {
	sub := s.rc.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}

	f := &Feed{updates: make(chan Batch, 16)}
	go s.pump(ctx, channel, sub, f)
	return f, nil
}

func (s *Source) pump(ctx context.Context, channel string, sub *redis.PubSub, f *Feed) {
	defer close(f.updates)
	defer func() {
		if err := sub.Close(); err != nil {
			s.logger.Debugf("feed: close %s: %v", channel, err)
		}
	}()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			f.fail(ctx.Err())
			return
		case msg, ok := <-ch:
			if !ok {
				f.fail(errSubscriptionClosed)
				s.logger.Errorf("feed: watch on %s terminated", channel)
				return
			}
			var batch Batch
			if err := json.Unmarshal([]byte(msg.Payload), &batch); err != nil {
				s.logger.Errorf("feed: bad batch on %s: %v", channel, err)
				continue
			}
			if len(batch) == 0 {
				continue
			}
			select {
			case f.updates <- batch:
			case <-ctx.Done():
				f.fail(ctx.Err())
				return
			}
		}
	}
}
