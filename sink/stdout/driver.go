// Package stdout is a debug sink that prints committed records as JSON lines
// instead of writing them to a database.
package stdout

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vtt-scp/ccom-logger/internal/record"
	"github.com/vtt-scp/ccom-logger/sink"
)

const SinkName = "stdout"

type Config struct {
	DelayMS       int  `yaml:"delay_ms"`        // artificial per-batch delay
	PrintCounter  bool `yaml:"print_counter"`   // prepend seq#
	PrintValue    bool `yaml:"print_value"`     // include the data payload
	ValueMaxBytes int  `yaml:"value_max_bytes"` // 0 = no truncation
}

type line struct {
	Seq           uint64          `json:"seq,omitempty"`
	Time          time.Time       `json:"time"`
	MeasurementID string          `json:"uuid"`
	LocationID    string          `json:"measurement_location_id"`
	Size          int             `json:"size"`
	Data          json.RawMessage `json:"data,omitempty"`
	Truncated     string          `json:"data_truncated,omitempty"`
}

type driver struct {
	cfg Config
	out io.Writer

	mu      sync.Mutex      // guards everything below
	w       *bufio.Writer
	pending []record.Record // staged by Copy, printed by Commit
	seq     uint64
}

func newDriver(out io.Writer) *driver { return &driver{out: out} }

func (d *driver) Configure(_ context.Context, raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	d.cfg = c
	d.w = bufio.NewWriter(d.out)
	return nil
}

func (d *driver) Copy(ctx context.Context, recs []record.Record) (int64, error) {
	if d.cfg.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(d.cfg.DelayMS) * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	d.mu.Lock()
	d.pending = append(d.pending, recs...)
	d.mu.Unlock()
	return int64(len(recs)), nil
}

// Commit prints the staged records and flushes the writer. Staged records
// are cleared whether or not the write succeeds.
func (d *driver) Commit(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.w == nil {
		return fmt.Errorf("stdout-sink: Commit before Configure")
	}
	pending := d.pending
	d.pending = nil

	// a failed batch is dropped whole; the caller re-stages it on retry
	enc := json.NewEncoder(d.w)
	for _, r := range pending {
		if err := enc.Encode(d.render(r)); err != nil {
			d.w.Reset(d.out)
			return err
		}
	}
	if err := d.w.Flush(); err != nil {
		d.w.Reset(d.out)
		return err
	}
	return nil
}

func (d *driver) render(r record.Record) line {
	l := line{
		Time:          r.Timestamp(),
		MeasurementID: r.MeasurementID().String(),
		LocationID:    r.LocationID().String(),
		Size:          r.PayloadSize(),
	}
	if d.cfg.PrintCounter {
		d.seq++
		l.Seq = d.seq
	}
	if d.cfg.PrintValue {
		p := r.Payload()
		if limit := d.cfg.ValueMaxBytes; limit > 0 && len(p) > limit {
			l.Truncated = string(p[:limit])
		} else {
			l.Data = p
		}
	}
	return l
}

// Close drops anything uncommitted.
func (d *driver) Close(context.Context) error {
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
	return nil
}

func init() {
	sink.Register(SinkName, func() sink.Adapter { return newDriver(os.Stdout) })
}
