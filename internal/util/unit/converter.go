/*
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *   http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package unit

import (
	"fmt"
	"strings"
)

// Conversion turns a measured value from one unit into another before it is
// compared with a threshold.
type Conversion struct {
	From string
	To   string
}

// families groups units that convert into each other. Factors are relative
// to the family's base unit.
var families = []map[string]float64{
	// bytes
	{
		"B":   1,
		"KB":  1 << 10,
		"MB":  1 << 20,
		"GB":  1 << 30,
		"TB":  1 << 40,
		"KIB": 1 << 10,
		"MIB": 1 << 20,
		"GIB": 1 << 30,
		"TIB": 1 << 40,
	},
	// durations, base is the millisecond
	{
		"MS":  1,
		"S":   1000,
		"MIN": 60 * 1000,
		"H":   60 * 60 * 1000,
		"D":   24 * 60 * 60 * 1000,
	},
	// proportions
	{
		"RATIO":    1,
		"%":        0.01,
		"PERCENT":  0.01,
		"PERMILLE": 0.001,
	},
	// counts
	{
		"ONE": 1,
		"K":   1e3,
		"M":   1e6,
		"BN":  1e9,
	},
}

// ParseConversion parses "from->to", e.g. "B->MB" or "ratio->%". An empty
// string yields a nil conversion.
func ParseConversion(expr string) (*Conversion, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	parts := strings.Split(expr, "->")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid unit conversion %q, expected 'from->to'", expr)
	}

	c := &Conversion{
		From: strings.TrimSpace(parts[0]),
		To:   strings.TrimSpace(parts[1]),
	}
	if _, err := Convert(1, c.From, c.To); err != nil {
		return nil, err
	}
	return c, nil
}

// Apply converts value. A nil conversion is the identity.
func (c *Conversion) Apply(value float64) float64 {
	if c == nil {
		return value
	}
	out, err := Convert(value, c.From, c.To)
	if err != nil {
		return value
	}
	return out
}

func (c *Conversion) String() string {
	if c == nil {
		return ""
	}
	return c.From + "->" + c.To
}

// Convert converts value between two units of the same family.
func Convert(value float64, from, to string) (float64, error) {
	from = strings.ToUpper(strings.TrimSpace(from))
	to = strings.ToUpper(strings.TrimSpace(to))

	if from == to {
		return value, nil
	}

	for _, family := range families {
		fromFactor, fromOk := family[from]
		toFactor, toOk := family[to]
		if fromOk && toOk {
			return value * fromFactor / toFactor, nil
		}
	}

	return 0, fmt.Errorf("unsupported unit conversion from %s to %s", from, to)
}
