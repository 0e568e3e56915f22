package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Field names with fixed meaning. Every other key of a record is carried
// through untouched in Extra.
const (
	FieldID       = "id"
	FieldDate     = "date"
	FieldCategory = "category"
	FieldAmount   = "amount"
)

var (
	ErrInvalidBody   = errors.New("invalid JSON body")
	ErrMissingFields = errors.New("missing fields")
	ErrInvalidField  = errors.New("invalid field")
	ErrNotFound      = errors.New("record not found")
)

type (
	// Fields is one decoded JSON object, keyed by member name.
	Fields map[string]json.RawMessage

	// Record is one ledger entry.
	Record struct {
		ID       string
		Date     string
		Category string
		Amount   float64
		Extra    map[string]json.RawMessage
	}

	// Collection is the full ordered set of records, the unit of persistence.
	Collection []Record
)

// DecodeFields parses a request body into a JSON object. Anything that is
// not a JSON object is reported as ErrInvalidBody.
func DecodeFields(body []byte) (Fields, error) {
	var f Fields
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBody, err)
	}
	if f == nil {
		return nil, fmt.Errorf("%w: null body", ErrInvalidBody)
	}
	return f, nil
}

// NewRecord builds a record from a create payload. The id is left empty
// for the caller to assign; a client supplied id is dropped.
func NewRecord(f Fields) (Record, error) {
	for _, k := range []string{FieldDate, FieldCategory, FieldAmount} {
		v, ok := f[k]
		if !ok || isNull(v) {
			return Record{}, fmt.Errorf("%w: %s", ErrMissingFields, k)
		}
	}
	var r Record
	if err := r.Merge(f); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Merge overwrites the record's fields with the ones present in f. Absent
// keys keep their value, null known fields are ignored and the id is never
// replaced.
func (r *Record) Merge(f Fields) error {
	next := *r
	if next.Extra != nil {
		next.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			next.Extra[k] = v
		}
	}

	for k, v := range f {
		switch k {
		case FieldID:
			continue
		case FieldDate:
			if err := decodeStrict(k, v, &next.Date); err != nil {
				return err
			}
		case FieldCategory:
			if err := decodeStrict(k, v, &next.Category); err != nil {
				return err
			}
		case FieldAmount:
			if err := decodeStrict(k, v, &next.Amount); err != nil {
				return err
			}
		default:
			if next.Extra == nil {
				next.Extra = make(map[string]json.RawMessage)
			}
			next.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}

	*r = next
	return nil
}

func decodeStrict(key string, raw json.RawMessage, dst any) error {
	if isNull(raw) {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidField, key)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// MarshalJSON writes the record as one flat object: the fixed fields first,
// then the extra keys in sorted order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	write := func(key string, val any) error {
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(b)
		return nil
	}

	if r.ID != "" {
		if err := write(FieldID, r.ID); err != nil {
			return nil, err
		}
	}
	if err := write(FieldDate, r.Date); err != nil {
		return nil, err
	}
	if err := write(FieldCategory, r.Category); err != nil {
		return nil, err
	}
	if err := write(FieldAmount, r.Amount); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(r.Extra))
	for k := range r.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := write(k, r.Extra[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a persisted record. Unlike NewRecord it does not
// require any field, so documents written by older versions still load.
func (r *Record) UnmarshalJSON(data []byte) error {
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	var out Record
	if raw, ok := f[FieldID]; ok {
		if err := decodeStrict(FieldID, raw, &out.ID); err != nil {
			return err
		}
	}
	if err := out.Merge(f); err != nil {
		return err
	}
	*r = out
	return nil
}

// Find returns the record with the given id.
func (c Collection) Find(id string) (Record, int, bool) {
	for i, r := range c {
		if r.ID == id {
			return r, i, true
		}
	}
	return Record{}, -1, false
}

// Remove returns the collection without any record carrying id, and how
// many were dropped.
func (c Collection) Remove(id string) (Collection, int) {
	out := make(Collection, 0, len(c))
	for _, r := range c {
		if r.ID == id {
			continue
		}
		out = append(out, r)
	}
	return out, len(c) - len(out)
}
