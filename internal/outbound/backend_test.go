package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thrillee/smppgateway/internal/store"
)

type fakeInserter struct {
	batches [][]store.NewOutbound
	next    int64
	err     error
}

func (f *fakeInserter) InsertOutbound(_ context.Context, msgs []store.NewOutbound) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, msgs)
	ids := make([]int64, len(msgs))
	for i := range msgs {
		f.next++
		ids[i] = f.next
	}
	return ids, nil
}

type note struct{ channel, payload string }

type fakePublisher struct {
	mu    sync.Mutex
	notes []note
}

func (f *fakePublisher) Publish(_ context.Context, channel, payload string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note{channel, payload})
	return nil
}

var acme = store.Backend{ID: 3, Name: "acme"}

func TestSubmit_BatchesAndNotifies(t *testing.T) {
	db := &fakeInserter{}
	pub := &fakePublisher{}
	b := NewBackend(acme, db, pub, Config{SendGroupSize: 2})

	ids, err := b.Submit(context.Background(), "hi", []string{"+1", "+2", "+3"}, Options{
		Source: "ACME",
		Params: map[string]any{"data_coding": 8, "campaign": "spring"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	require.Len(t, db.batches, 2, "one insert per group")
	assert.Len(t, db.batches[0], 2)
	assert.Len(t, db.batches[1], 1)

	row := db.batches[0][1]
	assert.Equal(t, int64(3), row.BackendID)
	assert.Equal(t, "+2", row.Params.DestinationAddr)
	assert.Equal(t, "ACME", row.Params.SourceAddr)
	require.NotNil(t, row.Params.DataCoding)
	assert.Equal(t, 8, *row.Params.DataCoding)
	assert.Equal(t, "spring", row.Params.Extra["campaign"])
	assert.Nil(t, row.PriorityFlag)

	assert.Equal(t, []note{{"acme", ""}, {"acme", ""}}, pub.notes, "one wake-up per batch")
}

func TestSubmit_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		priority  *int
		threshold int
		notified  bool
	}{
		{"UnsetPriorityDefaultThreshold", nil, 0, true},
		{"UnsetPriorityCountsAsZero", nil, 1, false},
		{"BelowThreshold", store.IntPtr(1), 2, false},
		{"AtThreshold", store.IntPtr(2), 2, true},
		{"AboveThreshold", store.IntPtr(3), 2, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &fakePublisher{}
			b := NewBackend(acme, &fakeInserter{}, pub, Config{NotifyThreshold: tt.threshold})

			_, err := b.Submit(context.Background(), "x", []string{"+1"}, Options{PriorityFlag: tt.priority})
			require.NoError(t, err)
			assert.Equal(t, tt.notified, len(pub.notes) == 1)
		})
	}
}

func TestSubmit_TransactionalNotifiesPerRow(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBackend(acme, &fakeInserter{}, pub, Config{NotifyThreshold: 3})

	_, err := b.Submit(context.Background(), "otp 1234", []string{"+1", "+2"}, Options{Transactional: true})
	require.NoError(t, err)
	assert.Equal(t, []note{{"acme", "1"}, {"acme", "2"}}, pub.notes)
}

func TestSubmit_DefaultPriority(t *testing.T) {
	db := &fakeInserter{}
	b := NewBackend(acme, db, &fakePublisher{}, Config{DefaultPriority: store.IntPtr(2)})

	_, err := b.Submit(context.Background(), "x", []string{"+1"}, Options{})
	require.NoError(t, err)
	require.NotNil(t, db.batches[0][0].PriorityFlag)
	assert.Equal(t, 2, *db.batches[0][0].PriorityFlag)
}

func TestSubmit_Validation(t *testing.T) {
	db := &fakeInserter{}
	pub := &fakePublisher{}
	b := NewBackend(acme, db, pub, Config{})

	_, err := b.Submit(context.Background(), "x", nil, Options{})
	assert.ErrorIs(t, err, ErrNoDestinations)

	_, err = b.Submit(context.Background(), "x", []string{"+1"}, Options{PriorityFlag: store.IntPtr(4)})
	assert.ErrorIs(t, err, ErrInvalidPriority)

	_, err = b.Submit(context.Background(), "x", []string{"+1"}, Options{Params: map[string]any{"priority_flag": "high"}})
	assert.ErrorIs(t, err, ErrInvalidParams)

	_, err = b.Submit(context.Background(), "", []string{"+1"}, Options{})
	assert.NoError(t, err, "empty text is allowed")

	assert.Len(t, db.batches, 1)
}

func TestSubmit_InsertFailureSkipsNotify(t *testing.T) {
	pub := &fakePublisher{}
	b := NewBackend(acme, &fakeInserter{err: errors.New("db down")}, pub, Config{})

	_, err := b.Submit(context.Background(), "x", []string{"+1"}, Options{})
	require.Error(t, err)
	assert.Empty(t, pub.notes)
}

type fakeResolver struct{ calls map[string]int }

func (f *fakeResolver) EnsureBackend(_ context.Context, name string) (store.Backend, error) {
	f.calls[name]++
	return store.Backend{ID: int64(len(f.calls)), Name: name}, nil
}

func TestRegistry_ResolvesOnce(t *testing.T) {
	r := &fakeResolver{calls: map[string]int{}}
	reg := NewRegistry(r, &fakeInserter{}, &fakePublisher{}, Config{})

	a1, err := reg.Get(context.Background(), "acme")
	require.NoError(t, err)
	a2, err := reg.Get(context.Background(), "acme")
	require.NoError(t, err)
	other, err := reg.Get(context.Background(), "globex")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, "globex", other.Name())
	assert.Equal(t, map[string]int{"acme": 1, "globex": 1}, r.calls)
}
