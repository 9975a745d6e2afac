// Package natsfeed delivers table change events from the JetStream change
// stream to backend.Realtime subscribers.
package natsfeed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/tasklists/project/internal/backend"
	"github.com/tasklists/project/internal/contracts"
	"github.com/tasklists/project/internal/sharding"
)

var _ backend.Realtime = (*Feed)(nil)

type Feed struct {
	JS     nats.JetStreamContext
	Logger *slog.Logger
}

func New(js nats.JetStreamContext, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{JS: js, Logger: logger}
}

// Subject narrows the subscription to one shard when the filter pins the
// table's scope column, and listens to the whole table otherwise.
func Subject(table string, filter backend.Filter) (string, error) {
	def, err := backend.Lookup(table)
	if err != nil {
		return "", err
	}
	if v, ok := filter.EqValue(def.ScopeColumn); ok && v != nil {
		return sharding.ChangeSubject(table, backend.ValueString(v)), nil
	}
	return sharding.TableSubject(table), nil
}

func (f *Feed) Subscribe(ctx context.Context, table string, filter backend.Filter, handler backend.Handler) (backend.Subscription, error) {
	subject, err := Subject(table, filter)
	if err != nil {
		return nil, err
	}

	sub, err := f.JS.Subscribe(subject, func(msg *nats.Msg) {
		event, ok := f.decode(msg.Data)
		if !ok || event.Table != table {
			return
		}
		// Shards are shared between scopes, so the filter still applies.
		if !filter.Match(event.Record()) {
			return
		}
		handler(event)
	}, nats.DeliverNew())
	if err != nil {
		return nil, err
	}

	s := &subscription{sub: sub, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Unsubscribe()
		case <-s.done:
		}
	}()
	return s, nil
}

func (f *Feed) decode(data []byte) (backend.ChangeEvent, bool) {
	var wire contracts.ChangeEvent
	if err := json.Unmarshal(data, &wire); err != nil {
		f.Logger.Warn("decode change event", "err", err)
		return backend.ChangeEvent{}, false
	}
	return FromContract(wire), true
}

// FromContract converts a wire event. JSON turns timestamps into strings;
// backend.Decode restores them when records are materialized.
func FromContract(wire contracts.ChangeEvent) backend.ChangeEvent {
	event := backend.ChangeEvent{
		Kind:       backend.ChangeKind(wire.Kind),
		Table:      wire.Table,
		CommitTime: wire.CommitTime,
	}
	if wire.Old != nil {
		event.Old = backend.Row(wire.Old)
	}
	if wire.New != nil {
		event.New = backend.Row(wire.New)
	}
	return event
}

type subscription struct {
	sub  *nats.Subscription
	once sync.Once
	done chan struct{}
	err  error
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.sub.Unsubscribe()
		close(s.done)
	})
	return s.err
}
