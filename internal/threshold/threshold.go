// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package threshold holds the closed threshold model of a monitored item and
// the pure function that decides whether a measured value breaches it.
package threshold

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Epsilon is the tolerance used by the equality operators.
const Epsilon = 1e-9

var (
	ErrUnknownOperator      = errors.New("unknown threshold operator")
	ErrUnknownType          = errors.New("unknown threshold type")
	ErrNoHistoricalValue    = errors.New("deviation threshold requires a historical value")
	ErrZeroHistoricalValue  = errors.New("deviation is undefined for a zero historical value")
	ErrNonFiniteMeasurement = errors.New("measured value is not a finite number")
)

// Operator is the comparison that expresses the breach condition.
type Operator int

const (
	OpGreaterThan Operator = iota + 1
	OpLessThan
	OpGreaterOrEqual
	OpLessOrEqual
	OpEqual
	OpNotEqual
)

var operatorSymbols = map[Operator]string{
	OpGreaterThan:    ">",
	OpLessThan:       "<",
	OpGreaterOrEqual: ">=",
	OpLessOrEqual:    "<=",
	OpEqual:          "==",
	OpNotEqual:       "!=",
}

var operatorAliases = map[string]Operator{
	">":   OpGreaterThan,
	"gt":  OpGreaterThan,
	"<":   OpLessThan,
	"lt":  OpLessThan,
	">=":  OpGreaterOrEqual,
	"ge":  OpGreaterOrEqual,
	"gte": OpGreaterOrEqual,
	"<=":  OpLessOrEqual,
	"le":  OpLessOrEqual,
	"lte": OpLessOrEqual,
	"==":  OpEqual,
	"=":   OpEqual,
	"eq":  OpEqual,
	"!=":  OpNotEqual,
	"<>":  OpNotEqual,
	"ne":  OpNotEqual,
	"neq": OpNotEqual,
}

// ParseOperator accepts the symbolic form and the usual short aliases.
func ParseOperator(s string) (Operator, error) {
	op, ok := operatorAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperator, s)
	}
	return op, nil
}

func (o Operator) String() string {
	if s, ok := operatorSymbols[o]; ok {
		return s
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

func (o Operator) Valid() bool {
	_, ok := operatorSymbols[o]
	return ok
}

// Holds reports whether "value <op> limit" is true.
func (o Operator) Holds(value, limit float64) bool {
	switch o {
	case OpGreaterThan:
		return value > limit
	case OpLessThan:
		return value < limit
	case OpGreaterOrEqual:
		return value >= limit
	case OpLessOrEqual:
		return value <= limit
	case OpEqual:
		return math.Abs(value-limit) <= Epsilon
	case OpNotEqual:
		return math.Abs(value-limit) > Epsilon
	default:
		return false
	}
}

func (o Operator) MarshalText() ([]byte, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOperator, int(o))
	}
	return []byte(o.String()), nil
}

func (o *Operator) UnmarshalText(text []byte) error {
	op, err := ParseOperator(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Type selects what the operator is applied to.
type Type int

const (
	// TypeAbsolute compares the current value with the limit.
	TypeAbsolute Type = iota + 1
	// TypeDeviation compares the magnitude of the percentage deviation of the
	// current value from the historical value with the limit.
	TypeDeviation
)

func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "absolute", "value":
		return TypeAbsolute, nil
	case "deviation", "percent", "percentage":
		return TypeDeviation, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

func (t Type) String() string {
	switch t {
	case TypeAbsolute:
		return "absolute"
	case TypeDeviation:
		return "deviation"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

func (t Type) MarshalText() ([]byte, error) {
	if t != TypeAbsolute && t != TypeDeviation {
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, int(t))
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Definition is the threshold configured on a monitored item.
type Definition struct {
	Type     Type     `json:"type" yaml:"type"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    float64  `json:"value" yaml:"value"`
	// Field names the result column holding the measured value. Empty means
	// the first column.
	Field string `json:"field,omitempty" yaml:"field,omitempty"`
}

func (d Definition) Validate() error {
	if d.Type != TypeAbsolute && d.Type != TypeDeviation {
		return fmt.Errorf("%w: %d", ErrUnknownType, int(d.Type))
	}
	if !d.Operator.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownOperator, int(d.Operator))
	}
	return nil
}

func (d Definition) String() string {
	if d.Type == TypeDeviation {
		return fmt.Sprintf("|deviation%%| %s %g", d.Operator, d.Value)
	}
	return fmt.Sprintf("value %s %g", d.Operator, d.Value)
}

// Outcome is the result of evaluating a measurement against a Definition.
type Outcome struct {
	Breached bool
	// Compared is the number the operator was applied to: the current value
	// for absolute thresholds, |deviation%| for deviation thresholds.
	Compared float64
	// Deviation is the signed percentage deviation, set whenever a historical
	// value was available.
	Deviation *float64
}

// DeviationPercent returns (current-historical)/|historical|*100.
func DeviationPercent(current, historical float64) (float64, error) {
	if historical == 0 {
		return 0, ErrZeroHistoricalValue
	}
	return (current - historical) / math.Abs(historical) * 100, nil
}

// Evaluate applies def to the measurement. historical may be nil for
// absolute thresholds.
func Evaluate(def Definition, current float64, historical *float64) (Outcome, error) {
	if err := def.Validate(); err != nil {
		return Outcome{}, err
	}
	if math.IsNaN(current) || math.IsInf(current, 0) {
		return Outcome{}, ErrNonFiniteMeasurement
	}

	var out Outcome
	if historical != nil {
		if dev, err := DeviationPercent(current, *historical); err == nil {
			out.Deviation = &dev
		}
	}

	switch def.Type {
	case TypeAbsolute:
		out.Compared = current
	case TypeDeviation:
		if historical == nil {
			return Outcome{}, ErrNoHistoricalValue
		}
		if out.Deviation == nil {
			return Outcome{}, ErrZeroHistoricalValue
		}
		out.Compared = math.Abs(*out.Deviation)
	}

	out.Breached = def.Operator.Holds(out.Compared, def.Value)
	return out, nil
}
