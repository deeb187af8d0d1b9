package progress

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelSinkDropsWhenFull(t *testing.T) {
	sink := NewChannelSink(2)
	r := NewReporter(sink, "embedding")

	r.Info("one")
	r.Info("two")
	r.Info("three")

	assert.Equal(t, int64(1), sink.Dropped())

	sink.Close()
	var got []string
	for e := range sink.Events() {
		got = append(got, e.Message)
		assert.Equal(t, "embedding", e.Stage)
	}
	assert.Equal(t, []string{"one", "two"}, got)

	sink.Publish(Event{Message: "late"})
	assert.Equal(t, int64(2), sink.Dropped())
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	r := NewReporter(Multi(a, nil, b), "similarity")

	r.Step(1, 3, "scored")
	r.Warn("part-1", "no vector")
	r.Error("part-2", "encode failed")

	for _, rec := range []*Recorder{a, b} {
		events := rec.Events()
		require.Len(t, events, 3)
		assert.Equal(t, 1, events[0].Current)
		assert.Equal(t, 3, events[0].Total)
		assert.Equal(t, 1, rec.Count(LevelWarn))
		assert.Equal(t, 1, rec.Count(LevelError))
		assert.Equal(t, "part-2", events[2].Entity)
	}
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	NewReporter(sink, "model").Warn("m1", "tokenizer max length missing")
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), "entity=m1")
}

func TestNilReporterSinkIsSafe(t *testing.T) {
	assert.NotPanics(t, func() { NewReporter(nil, "x").Info("ignored") })
}
