// Package pipeline wires a broker source to the buffer and builds the
// configured source and sink from a pipeline file.
package pipeline

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/vtt-scp/ccom-logger/internal/buffer"
	"github.com/vtt-scp/ccom-logger/internal/decode"
	"github.com/vtt-scp/ccom-logger/internal/logging"
	"github.com/vtt-scp/ccom-logger/internal/record"
	"github.com/vtt-scp/ccom-logger/internal/telemetry"
	"github.com/vtt-scp/ccom-logger/source"
)

// ErrClosed is returned by Handle once ingestion has been closed.
var ErrClosed = errors.New("pipeline: ingestion closed")

// Ingestor is the source's EmitFunc. It decodes each message and pushes the
// resulting records into the buffer; it never touches the store.
type Ingestor struct {
	buf   *buffer.Queue[record.Record]
	label string
	log   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewIngestor returns a handler feeding buf. label names the source in
// metrics (mqtt, kafka).
func NewIngestor(buf *buffer.Queue[record.Record], label string) *Ingestor {
	return &Ingestor{buf: buf, label: label, log: logging.Component("ingest")}
}

// Handle decodes m and buffers its records in entity order. A malformed
// message is logged and dropped; that is not an error for the source.
func (in *Ingestor) Handle(m source.Message) error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.closed {
		telemetry.MessagesRejected.Inc()
		return ErrClosed
	}
	telemetry.MessagesReceived.WithLabelValues(in.label).Inc()

	res, err := decode.Decode(m.Payload)
	if err != nil {
		telemetry.MessagesMalformed.Inc()
		in.log.Warn("dropping malformed message", "topic", m.Topic, "bytes", len(m.Payload), "err", err)
		return nil
	}
	if res.Skipped > 0 {
		telemetry.EntitiesSkipped.Add(float64(res.Skipped))
		in.log.Warn("skipped invalid entities", "topic", m.Topic, "skipped", res.Skipped, "kept", len(res.Records))
	}

	evicted := 0
	for _, r := range res.Records {
		if in.buf.Push(r) {
			evicted++
		}
	}
	telemetry.EntitiesDecoded.Add(float64(len(res.Records)))
	telemetry.BufferDepth.Set(float64(in.buf.Len()))
	if evicted > 0 {
		telemetry.BufferEvictions.Add(float64(evicted))
		in.log.Warn("buffer full; oldest records evicted", "evicted", evicted, "capacity", in.buf.Cap())
	}
	return nil
}

// Close makes every later Handle call fail with ErrClosed. It waits for an
// in-flight Handle to finish.
func (in *Ingestor) Close() {
	in.mu.Lock()
	in.closed = true
	in.mu.Unlock()
}
