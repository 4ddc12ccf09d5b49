package providers

import (
	"encoding/json"
	"fmt"
)

// FilterOp is a filter comparison operator.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNe       FilterOp = "ne"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpIn       FilterOp = "in"
	OpContains FilterOp = "contains"
	OpRange    FilterOp = "range"
)

var validOps = map[FilterOp]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true,
	OpLte: true, OpIn: true, OpContains: true, OpRange: true,
}

// Filter is one field condition. On the wire it is either a bare literal
// (shorthand for {"op": "eq", "value": <literal>}) or an operator object:
//
//	{"op": "gte", "value": 10}
//	{"op": "in", "values": ["paper", "article"]}
//	{"op": "range", "from": "2024-01-01", "to": "2024-12-31"}
type Filter struct {
	Op     FilterOp `json:"op"`
	Value  any      `json:"value,omitempty"`
	Values []any    `json:"values,omitempty"`
	From   any      `json:"from,omitempty"`
	To     any      `json:"to,omitempty"`
}

// Eq builds an equality filter.
func Eq(v any) Filter { return Filter{Op: OpEq, Value: v} }

// In builds a membership filter.
func In(vs ...any) Filter { return Filter{Op: OpIn, Values: vs} }

func (f *Filter) UnmarshalJSON(data []byte) error {
	type plain Filter
	var obj struct {
		plain
	}
	if err := json.Unmarshal(data, &obj.plain); err == nil && obj.Op != "" {
		*f = Filter(obj.plain)
		return nil
	}

	// Bare literal — shorthand for eq.
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Filter{Op: OpEq, Value: v}
	return nil
}

// Validate rejects unknown operators and operand shapes that do not match
// the operator.
func (f *Filter) Validate() error {
	if !validOps[f.Op] {
		return fmt.Errorf("unknown operator %q", f.Op)
	}
	switch f.Op {
	case OpIn:
		if len(f.Values) == 0 {
			return fmt.Errorf("operator %q requires values", f.Op)
		}
	case OpRange:
		if f.From == nil && f.To == nil {
			return fmt.Errorf("operator %q requires from or to", f.Op)
		}
	default:
		if f.Value == nil {
			return fmt.Errorf("operator %q requires value", f.Op)
		}
	}
	return nil
}

// DateRange restricts results to a time span. Bounds are ISO dates; either
// side may be empty for an open interval.
type DateRange struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}
