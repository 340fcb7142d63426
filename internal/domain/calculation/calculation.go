// Package calculation contains the calculation record and the rules for
// turning an add request into validated operands.
package calculation

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Validation messages surfaced to API clients.
const (
	MsgOperandsRequired = "Both number1 and number2 are required"
	MsgInvalidOperands  = "Invalid numbers provided"
)

// Calculation is a persisted pair of numbers and their sum.
type Calculation struct {
	ID        string    `json:"id"`
	Number1   float64   `json:"number1"`
	Number2   float64   `json:"number2"`
	Sum       float64   `json:"sum"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Operands are two finite numbers accepted for an add operation.
type Operands struct {
	Number1 float64
	Number2 float64
}

// Sum returns number1 + number2.
func (o Operands) Sum() float64 {
	return o.Number1 + o.Number2
}

// Input is the raw add payload. Fields are kept as raw JSON so that presence
// and type can be checked separately.
type Input struct {
	Number1 json.RawMessage `json:"number1"`
	Number2 json.RawMessage `json:"number2"`
}

// Validate checks presence first, then parses both fields. Each field may be
// a JSON number or a string holding a decimal or exponent float literal.
func (in Input) Validate() (Operands, error) {
	if in.Number1 == nil || in.Number2 == nil {
		return Operands{}, &ValidationError{Message: MsgOperandsRequired}
	}
	n1, ok1 := parseOperand(in.Number1)
	n2, ok2 := parseOperand(in.Number2)
	if !ok1 || !ok2 {
		return Operands{}, &ValidationError{Message: MsgInvalidOperands}
	}
	ops := Operands{Number1: n1, Number2: n2}
	if !finite(ops.Sum()) {
		return Operands{}, &ValidationError{Message: MsgInvalidOperands}
	}
	return ops, nil
}

func parseOperand(raw json.RawMessage) (float64, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		// null, bool, object and array values are not numbers.
		return 0, false
	}
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || !finite(f) {
		return 0, false
	}
	return f, true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
