package polling

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"genie-chat/internal/domain"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeClock advances virtual time on every Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock { return &fakeClock{now: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return nil
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type getResponse struct {
	msg domain.Message
	err error
}

// fakeBackend replays scripted responses per message id; the last response repeats.
type fakeBackend struct {
	mu        sync.Mutex
	gets      map[string][]getResponse
	getCalls  map[string]int
	lists     [][]domain.Message
	listErr   error
	listCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{gets: map[string][]getResponse{}, getCalls: map[string]int{}}
}

func (f *fakeBackend) onGet(id string, responses ...getResponse) *fakeBackend {
	f.gets[id] = append(f.gets[id], responses...)
	return f
}

func (f *fakeBackend) onList(snapshots ...[]domain.Message) *fakeBackend {
	f.lists = append(f.lists, snapshots...)
	return f
}

func (f *fakeBackend) GetMessage(_ context.Context, _ string, messageID string) (domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	script := f.gets[messageID]
	if len(script) == 0 {
		return domain.Message{}, errNotFound(messageID)
	}
	idx := f.getCalls[messageID]
	f.getCalls[messageID]++
	if idx >= len(script) {
		idx = len(script) - 1
	}
	return script[idx].msg, script[idx].err
}

func (f *fakeBackend) ListConversationMessages(_ context.Context, _ string) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.listCalls
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	if len(f.lists) == 0 {
		return nil, nil
	}
	if idx >= len(f.lists) {
		idx = len(f.lists) - 1
	}
	return f.lists[idx], nil
}

type notFoundError string

func (e notFoundError) Error() string { return "genie: get_message: message " + string(e) + " does not exist" }

func errNotFound(id string) error { return notFoundError(id) }

func status(id, s string, updated time.Duration, attachments ...domain.Attachment) getResponse {
	return getResponse{msg: message(id, s, updated, attachments...)}
}

func failure(err error) getResponse {
	return getResponse{err: err}
}

func message(id, s string, updated time.Duration, attachments ...domain.Attachment) domain.Message {
	return domain.Message{
		ID:             id,
		ConversationID: "conv-1",
		Status:         s,
		Attachments:    attachments,
		UpdatedAt:      epoch.Add(updated),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noJitter() time.Duration { return 0 }

func newTestEngine(t *testing.T, backend Backend, clock *fakeClock, cfg Config, metrics *Metrics) *Engine {
	t.Helper()
	retrier := NewRetrier(3, clock, discardLogger(), metrics, WithJitter(noJitter))
	e, err := NewEngine(backend, retrier, clock, cfg, discardLogger(), metrics)
	require.NoError(t, err)
	return e
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
