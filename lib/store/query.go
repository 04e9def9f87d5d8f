package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Op is a comparison operator of a query condition.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpContains Op = "contains"
	OpPrefix   Op = "prefix"
)

// Condition compares one field of a record with a value.
type Condition struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Query is a serialisable predicate over the records of a collection.
// All conditions must hold. An empty query matches every record.
type Query struct {
	Conditions []Condition `json:"conditions,omitempty"`
	SortBy     string      `json:"sortBy,omitempty"`
	Desc       bool        `json:"desc,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Where returns a copy of the query with an additional condition.
func (q Query) Where(field string, op Op, value any) Query {
	conds := make([]Condition, len(q.Conditions), len(q.Conditions)+1)
	copy(conds, q.Conditions)
	q.Conditions = append(conds, Condition{Field: field, Op: op, Value: value})
	return q
}

// Match reports whether the record satisfies all conditions.
func (q Query) Match(r Record) bool {
	for _, c := range q.Conditions {
		if !c.match(r) {
			return false
		}
	}
	return true
}

// Apply filters, sorts and limits records. The input slice is not modified.
func (q Query) Apply(records []Record) []Record {
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if q.Match(r) {
			out = append(out, r)
		}
	}
	if q.SortBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compare(out[i][q.SortBy], out[j][q.SortBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func (c Condition) match(r Record) bool {
	v, ok := r[c.Field]
	switch c.Op {
	case OpEq:
		return ok && compare(v, c.Value) == 0
	case OpNe:
		return !ok || compare(v, c.Value) != 0
	case OpLt:
		return ok && compare(v, c.Value) < 0
	case OpLte:
		return ok && compare(v, c.Value) <= 0
	case OpGt:
		return ok && compare(v, c.Value) > 0
	case OpGte:
		return ok && compare(v, c.Value) >= 0
	case OpContains:
		return ok && strings.Contains(toString(v), toString(c.Value))
	case OpPrefix:
		return ok && strings.HasPrefix(toString(v), toString(c.Value))
	default:
		return false
	}
}

// compare orders two values numerically if both are numbers, otherwise as strings.
// nil sorts before everything else.
func compare(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(toString(a), toString(b))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// ParseCondition parses the short form used on the command line.
// Supported forms: a=b, a!=b, a<b, a<=b, a>b, a>=b, a~b (contains) and a^=b (prefix).
func ParseCondition(s string) (Condition, error) {
	// two character operators must be checked first
	for _, candidate := range []struct {
		token string
		op    Op
	}{
		{"!=", OpNe}, {"<=", OpLte}, {">=", OpGte}, {"^=", OpPrefix},
		{"=", OpEq}, {"<", OpLt}, {">", OpGt}, {"~", OpContains},
	} {
		if idx := strings.Index(s, candidate.token); idx > 0 {
			field := strings.TrimSpace(s[:idx])
			value := strings.TrimSpace(s[idx+len(candidate.token):])
			return Condition{Field: field, Op: candidate.op, Value: value}, nil
		}
	}
	return Condition{}, fmt.Errorf("invalid condition %q (expected field<op>value)", s)
}
