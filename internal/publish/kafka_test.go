package publish

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tentsim/internal/climate"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublishEncodesReading(t *testing.T) {
	w := &fakeWriter{}
	p := New("tent-1", w)
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	err := p.Publish(context.Background(), climate.Reading{
		Tick:   12,
		Season: climate.SpringWet,
		At:     at,
		State:  climate.State{AirTemperature: 22.5, AirHumidity: 70, CO2Level: 640},
	})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	m := w.msgs[0]
	assert.Equal(t, "tent-1", string(m.Key))
	assert.Equal(t, at, m.Time)

	var got Message
	require.NoError(t, json.Unmarshal(m.Value, &got))
	_, err = uuid.Parse(got.ID)
	assert.NoError(t, err)
	assert.Equal(t, "tent-1", got.TentID)
	assert.Equal(t, uint64(12), got.Tick)
	assert.Equal(t, climate.SpringWet, got.Season)
	assert.Equal(t, 22.5, got.Environment.AirTemperature)
	assert.Equal(t, 640.0, got.Environment.CO2Level)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(m.Value, &raw))
	assert.Contains(t, raw, "tentId")
	assert.Contains(t, raw["environment"], "air_temperature")
}

func TestPublishIDsAreUnique(t *testing.T) {
	w := &fakeWriter{}
	p := New("tent-1", w)
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Publish(context.Background(), climate.Reading{Tick: uint64(i)}))
	}

	ids := map[string]bool{}
	for _, m := range w.msgs {
		var got Message
		require.NoError(t, json.Unmarshal(m.Value, &got))
		ids[got.ID] = true
	}
	assert.Len(t, ids, 3)
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("leader not available")
	p := New("tent-1", &fakeWriter{err: boom})
	err := p.Publish(context.Background(), climate.Reading{Tick: 4})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "tick 4")
}

func TestNilPublisherIsNoop(t *testing.T) {
	p := New("tent-1", nil)
	assert.Nil(t, p)
	assert.NoError(t, p.Publish(context.Background(), climate.Reading{}))
	assert.NoError(t, p.Close())
}

func TestCloseClosesWriter(t *testing.T) {
	w := &fakeWriter{}
	require.NoError(t, New("t", w).Close())
	assert.True(t, w.closed)
}

func TestNewKafkaWriterDefaults(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "")
	assert.Equal(t, DefaultTopic, w.Topic)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
}
