package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// --------------------------------------------------------------------------
// Record
// --------------------------------------------------------------------------

// Record is a single domain object as a JSON object.
// Numbers decoded by this package are kept as json.Number to preserve large ids.
type Record map[string]any

// ID returns the normalised id stored under idColumn.
// The boolean is false if the column is missing or holds a zero value.
func (r Record) ID(idColumn string) (string, bool) {
	if r == nil || idColumn == "" {
		return "", false
	}
	return NormalizeID(r[idColumn])
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(r).(Record)
}

// Merge returns a copy of r with all fields of patch applied on top.
func (r Record) Merge(patch Record) Record {
	merged := r.Clone()
	if merged == nil {
		merged = Record{}
	}
	for k, v := range patch {
		merged[k] = cloneValue(v)
	}
	return merged
}

// cloneValue copies maps and slices recursively, scalars are returned as is
func cloneValue(v any) any {
	switch t := v.(type) {
	case Record:
		c := make(Record, len(t))
		for k, val := range t {
			c[k] = cloneValue(val)
		}
		return c
	case map[string]any:
		c := make(map[string]any, len(t))
		for k, val := range t {
			c[k] = cloneValue(val)
		}
		return c
	case []any:
		c := make([]any, len(t))
		for i, val := range t {
			c[i] = cloneValue(val)
		}
		return c
	default:
		return v
	}
}

// NormalizeID converts an id value to its canonical string form.
// Integral floats are printed without fraction so 42, 42.0 and "42" are the same id.
// nil, "", 0 and "0" count as missing.
func NormalizeID(v any) (string, bool) {
	var id string
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		id = t
	case json.Number:
		if i, err := t.Int64(); err == nil {
			id = strconv.FormatInt(i, 10)
		} else {
			id = t.String()
		}
	case int:
		id = strconv.FormatInt(int64(t), 10)
	case int32:
		id = strconv.FormatInt(int64(t), 10)
	case int64:
		id = strconv.FormatInt(t, 10)
	case uint:
		id = strconv.FormatUint(uint64(t), 10)
	case uint32:
		id = strconv.FormatUint(uint64(t), 10)
	case uint64:
		id = strconv.FormatUint(t, 10)
	case float32:
		id = formatFloatID(float64(t))
	case float64:
		id = formatFloatID(t)
	default:
		id = fmt.Sprint(t)
	}
	if id == "" || id == "0" {
		return "", false
	}
	return id, true
}

func formatFloatID(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NextID returns max(numeric ids)+1 for the given ids. Non numeric ids are ignored.
func NextID(ids []string) int64 {
	var maxID int64
	for _, id := range ids {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > maxID {
			maxID = n
		}
	}
	return maxID + 1
}

// AssignIDs returns copies of records where every record has an id.
// Missing ids are numbered upwards from max(existing ids, ids in records)+1.
// It returns the ids in the order of records.
func AssignIDs(records []Record, idColumn string, existing []string) ([]Record, []string, error) {
	if idColumn == "" {
		return nil, nil, NewError(RetCInvalidOperation, "id column must not be empty")
	}

	known := append([]string(nil), existing...)
	for _, r := range records {
		if r == nil {
			return nil, nil, NewError(RetCInvalidOperation, "record must not be nil")
		}
		if id, ok := r.ID(idColumn); ok {
			known = append(known, id)
		}
	}

	next := NextID(known)
	out := make([]Record, len(records))
	ids := make([]string, len(records))
	for i, r := range records {
		c := r.Clone()
		id, ok := c.ID(idColumn)
		if !ok {
			c[idColumn] = next
			id = strconv.FormatInt(next, 10)
			next++
		}
		out[i] = c
		ids[i] = id
	}
	return out, ids, nil
}

// SortByID sorts records by their id: numeric ids first in numeric order, then the rest lexically.
func SortByID(records []Record, idColumn string) {
	sort.SliceStable(records, func(i, j int) bool {
		a, _ := records[i].ID(idColumn)
		b, _ := records[j].ID(idColumn)
		return lessID(a, b)
	})
}

// SortIDs sorts ids in the same order SortByID uses.
func SortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return lessID(ids[i], ids[j]) })
}

// lessID orders ids numerically when both are numbers
func lessID(a, b string) bool {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return na < nb
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// DecodeRecord decodes a JSON object keeping numbers as json.Number.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&r); err != nil {
		return nil, err
	}
	return r, nil
}

// DecodeRecords decodes a JSON array of objects keeping numbers as json.Number.
func DecodeRecords(data []byte) ([]Record, error) {
	var rs []Record
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// --------------------------------------------------------------------------
// Payload (tagged variant)
// --------------------------------------------------------------------------

// PayloadKind tells which variant a Payload holds.
type PayloadKind uint8

const (
	PayloadNone       PayloadKind = iota // no records, e.g. the result of a delete
	PayloadSingle                        // exactly one record
	PayloadCollection                    // an ordered list of records
)

// String returns the name used in the JSON form of a payload.
func (k PayloadKind) String() string {
	switch k {
	case PayloadSingle:
		return "single"
	case PayloadCollection:
		return "collection"
	default:
		return "none"
	}
}

// Payload carries either a single record or a collection of records.
// The variant is chosen by the caller, never inferred from the data.
type Payload struct {
	kind    PayloadKind
	records []Record
}

// Single creates a payload holding one record.
func Single(r Record) Payload {
	return Payload{kind: PayloadSingle, records: []Record{r}}
}

// Collection creates a payload holding a list of records.
func Collection(rs []Record) Payload {
	return Payload{kind: PayloadCollection, records: rs}
}

// Kind returns the variant of the payload.
func (p Payload) Kind() PayloadKind {
	return p.kind
}

// IsEmpty reports whether the payload carries no records.
func (p Payload) IsEmpty() bool {
	switch p.kind {
	case PayloadSingle:
		return p.records[0] == nil
	case PayloadCollection:
		return len(p.records) == 0
	default:
		return true
	}
}

// Record returns the record of a single payload, nil for the other variants.
func (p Payload) Record() Record {
	if p.kind != PayloadSingle {
		return nil
	}
	return p.records[0]
}

// Records returns the records of the payload. A single payload yields a one element slice.
func (p Payload) Records() []Record {
	if p.IsEmpty() {
		return nil
	}
	return p.records
}

// IDs returns the ids of all records that have one.
func (p Payload) IDs(idColumn string) []string {
	var ids []string
	for _, r := range p.Records() {
		if id, ok := r.ID(idColumn); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// payloadJSON is the wire form of a Payload
type payloadJSON struct {
	Kind    string            `json:"kind"`
	Records []json.RawMessage `json:"records,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := payloadJSON{Kind: p.kind.String()}
	for _, r := range p.Records() {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		out.Records = append(out.Records, b)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var in payloadJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	records := make([]Record, 0, len(in.Records))
	for _, raw := range in.Records {
		r, err := DecodeRecord(raw)
		if err != nil {
			return err
		}
		records = append(records, r)
	}
	switch in.Kind {
	case "single":
		switch len(records) {
		case 0:
			*p = Single(nil)
		case 1:
			*p = Single(records[0])
		default:
			return fmt.Errorf("single payload with %d records", len(records))
		}
	case "collection":
		*p = Collection(records)
	case "none", "":
		*p = Payload{}
	default:
		return fmt.Errorf("unknown payload kind: %s", in.Kind)
	}
	return nil
}
