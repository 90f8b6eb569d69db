package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/FleetBox/internal/broker/messages"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type fakeReader struct {
	msgs      []kafka.Message
	err       error
	i         int
	committed []kafka.Message
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.i < len(r.msgs) {
		m := r.msgs[r.i]
		r.i++
		return m, nil
	}
	if r.err != nil {
		return kafka.Message{}, r.err
	}
	return kafka.Message{}, errors.New("eof")
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error { return nil }

func TestConsumer_Consume_DecodesAndCommits(t *testing.T) {
	fr := &fakeReader{
		msgs: []kafka.Message{
			{Key: []byte("r1"), Value: []byte(`{"run_id":"r1","success":true,"rows_attempted":4}`)},
			{Key: []byte("bad"), Value: []byte(`{`)},
		},
		err: errors.New("stop"),
	}
	c := newConsumerWithReader(fr)

	var got []messages.IngestionCompleted
	err := c.Consume(context.Background(), func(ctx context.Context, ev messages.IngestionCompleted) error {
		got = append(got, ev)
		return nil
	})
	require.Error(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "r1", got[0].RunID)
	require.True(t, got[0].Success)
	require.Equal(t, 4, got[0].RowsAttempted)
	require.Len(t, fr.committed, 2)
}

func TestConsumer_Consume_HandlerErrorStops(t *testing.T) {
	fr := &fakeReader{msgs: []kafka.Message{{Key: []byte("k"), Value: []byte(`{"run_id":"k"}`)}}}
	c := newConsumerWithReader(fr)

	want := errors.New("handler failed")
	err := c.Consume(context.Background(), func(ctx context.Context, ev messages.IngestionCompleted) error { return want })
	require.ErrorIs(t, err, want)
	require.Empty(t, fr.committed)
}

func TestNewConsumer_Close(t *testing.T) {
	c := NewConsumer([]string{"localhost:0"}, "", "g")
	require.NotNil(t, c)
	require.NoError(t, c.Close())
}
