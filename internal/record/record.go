// Package record holds the measurement row that flows from the decoder,
// through the buffer, into the store.
package record

import (
	"time"

	"github.com/google/uuid"
)

// Record is one decoded CCOM measurement. It is a value type; the zero value
// is not a valid record and is never produced by New.
type Record struct {
	timestamp     time.Time
	measurementID uuid.UUID
	payload       []byte
	locationID    uuid.UUID
}

// New builds a Record. The timestamp is converted to UTC and the payload is
// copied so later mutation of the caller's slice cannot leak in.
func New(ts time.Time, measurementID, locationID uuid.UUID, payload []byte) Record {
	return Record{
		timestamp:     ts.UTC(),
		measurementID: measurementID,
		payload:       append([]byte(nil), payload...),
		locationID:    locationID,
	}
}

func (r Record) Timestamp() time.Time     { return r.timestamp }
func (r Record) MeasurementID() uuid.UUID { return r.measurementID }
func (r Record) LocationID() uuid.UUID    { return r.locationID }

// RecordedAt is persisted alongside Timestamp in its own column and always
// carries the same instant.
func (r Record) RecordedAt() time.Time { return r.timestamp }

// Payload returns a copy of the canonical JSON of the entity's data.
func (r Record) Payload() []byte { return append([]byte(nil), r.payload...) }

// PayloadSize is len(Payload()) without the copy.
func (r Record) PayloadSize() int { return len(r.payload) }

// Columns is the fixed column order of the measurement table.
var Columns = []string{"time", "UUID", "recorded", "data", "measurement_location_id"}

// Row returns the record's values in Columns order, ready for a COPY source.
// The payload slice is shared with the record and must not be modified.
func (r Record) Row() []any {
	return []any{r.timestamp, r.measurementID, r.timestamp, r.payload, r.locationID}
}
