package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Record is one JSON object of a mirrored collection.
type Record map[string]any

// ID returns the canonical string form of the record id, so that 42 and
// "42" identify the same record.
func (r Record) ID() (string, bool) {
	if r == nil {
		return "", false
	}
	raw, ok := r["id"]
	if !ok || raw == nil {
		return "", false
	}
	var id string
	switch v := raw.(type) {
	case string:
		id = strings.TrimSpace(v)
	case json.Number:
		id = canonicalNumber(v.String())
	case float64:
		id = strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		id = strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		id = strconv.Itoa(v)
	case int64:
		id = strconv.FormatInt(v, 10)
	case int32:
		id = strconv.FormatInt(int64(v), 10)
	case uint64:
		id = strconv.FormatUint(v, 10)
	default:
		return "", false
	}
	return id, id != ""
}

// canonicalNumber keeps integer ids exact at any width; only fractional or
// exponent forms go through float64.
func canonicalNumber(raw string) string {
	if n, ok := new(big.Int).SetString(raw, 10); ok {
		return n.String()
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return raw
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for key, value := range r {
		out[key] = cloneValue(value)
	}
	return out
}

func cloneValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return map[string]any(Record(v).Clone())
	case Record:
		return v.Clone()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// UnmarshalJSON keeps numbers as json.Number so ids round-trip exactly.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return err
	}
	*r = out
	return nil
}

// DecodeRecords parses a persisted collection.
func DecodeRecords(data []byte) ([]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode records: %w", err)
	}
	return records, nil
}

// ValidatePayload checks that payload can be queued.
func ValidatePayload(payload Record) error {
	if payload == nil {
		return ErrInvalidPayload
	}
	if _, ok := payload.ID(); !ok {
		return ErrInvalidPayload
	}
	return nil
}

// Apply returns records after performing op with payload, and whether
// anything changed. Add appends when the id is absent; update replaces the
// matching record; delete removes it. Missing targets are no-ops.
func Apply(records []Record, op Op, payload Record) ([]Record, bool, error) {
	id, ok := payload.ID()
	if !ok {
		return records, false, ErrInvalidPayload
	}
	index := indexOf(records, id)
	switch op {
	case OpAdd:
		if index >= 0 {
			return records, false, nil
		}
		out := append(cloneRecords(records), payload.Clone())
		return out, true, nil
	case OpUpdate:
		if index < 0 {
			return records, false, nil
		}
		out := cloneRecords(records)
		out[index] = payload.Clone()
		return out, true, nil
	case OpDelete:
		if index < 0 {
			return records, false, nil
		}
		out := make([]Record, 0, len(records)-1)
		out = append(out, records[:index]...)
		out = append(out, records[index+1:]...)
		return out, true, nil
	default:
		return records, false, fmt.Errorf("unknown op %q", op)
	}
}

func indexOf(records []Record, id string) int {
	for i, record := range records {
		if candidate, ok := record.ID(); ok && candidate == id {
			return i
		}
	}
	return -1
}

func cloneRecords(records []Record) []Record {
	out := make([]Record, len(records), len(records)+1)
	copy(out, records)
	return out
}
