// Package decode turns a raw CCOM broker message into measurement records.
//
// A message is a JSON document of the form
//
//	{"CCOMData": {"entities": [ {...}, {...} ]}}
//
// where every entity carries a UUID, measurementLocation.UUID,
// recorded.dateTime and an opaque data payload. Entities that lack any of
// these, or carry them with the wrong shape, are skipped; the rest of the
// message is still decoded.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vtt-scp/ccom-logger/internal/record"
)

// ErrMalformedMessage is returned when the payload is not JSON or lacks the
// CCOMData.entities array. The caller drops the whole message.
var ErrMalformedMessage = errors.New("decode: malformed message")

// Result is the outcome of decoding one message.
type Result struct {
	Records []record.Record
	// Skipped counts entities that could not be turned into a record.
	Skipped int
}

// object holds one JSON object by exact key. encoding/json folds case when
// filling structs, so the CCOM keys are looked up here instead.
type object map[string]json.RawMessage

func asObject(raw json.RawMessage) (object, error) {
	var o object
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, err
	}
	if o == nil {
		return nil, errors.New("not an object")
	}
	return o, nil
}

func (o object) child(key string) (object, error) {
	raw, ok := o[key]
	if !ok {
		return nil, fmt.Errorf("missing %s", key)
	}
	c, err := asObject(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return c, nil
}

func (o object) str(key string) (string, error) {
	raw, ok := o[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	if v == nil {
		return "", fmt.Errorf("%s is null", key)
	}
	return *v, nil
}

// Decode parses payload and returns one record per well-formed entity, in
// entity order. It has no side effects.
func Decode(payload []byte) (Result, error) {
	raw, err := entities(payload)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	res := Result{Records: make([]record.Record, 0, len(raw))}
	for _, e := range raw {
		r, err := decodeEntity(e)
		if err != nil {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, r)
	}
	return res, nil
}

func entities(payload []byte) ([]json.RawMessage, error) {
	env, err := asObject(payload)
	if err != nil {
		return nil, err
	}
	data, err := env.child("CCOMData")
	if err != nil {
		return nil, err
	}
	raw, ok := data["entities"]
	if !ok {
		return nil, errors.New("missing CCOMData.entities")
	}
	var list *[]json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("CCOMData.entities: %w", err)
	}
	if list == nil {
		return nil, errors.New("CCOMData.entities is null")
	}
	return *list, nil
}

func decodeEntity(raw json.RawMessage) (record.Record, error) {
	e, err := asObject(raw)
	if err != nil {
		return record.Record{}, err
	}
	rawID, err := e.str("UUID")
	if err != nil {
		return record.Record{}, err
	}
	location, err := e.child("measurementLocation")
	if err != nil {
		return record.Record{}, err
	}
	rawLoc, err := location.str("UUID")
	if err != nil {
		return record.Record{}, fmt.Errorf("measurementLocation: %w", err)
	}
	recorded, err := e.child("recorded")
	if err != nil {
		return record.Record{}, err
	}
	rawTime, err := recorded.str("dateTime")
	if err != nil {
		return record.Record{}, fmt.Errorf("recorded: %w", err)
	}
	payload, ok := e["data"]
	if !ok {
		return record.Record{}, errors.New("missing data")
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return record.Record{}, fmt.Errorf("UUID: %w", err)
	}
	loc, err := uuid.Parse(rawLoc)
	if err != nil {
		return record.Record{}, fmt.Errorf("measurementLocation.UUID: %w", err)
	}
	ts, err := ParseTime(rawTime)
	if err != nil {
		return record.Record{}, err
	}

	var data bytes.Buffer
	if err := json.Compact(&data, payload); err != nil {
		return record.Record{}, fmt.Errorf("data: %w", err)
	}
	return record.New(ts, id, loc, data.Bytes()), nil
}

var timeLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseTime parses an RFC 3339 date-time. A trailing "Z" is stripped before
// parsing and the wall clock is read as UTC: an explicit offset is dropped,
// not applied. Fractional seconds are kept.
func ParseTime(s string) (time.Time, error) {
	v := strings.TrimSuffix(strings.TrimSuffix(s, "Z"), "z")
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(),
				t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("recorded.dateTime: cannot parse %q", s)
}
