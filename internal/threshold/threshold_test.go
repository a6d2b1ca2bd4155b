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

package threshold

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func ptr(v float64) *float64 { return &v }

func TestOperatorHolds(t *testing.T) {
	testCases := []struct {
		op       Operator
		value    float64
		limit    float64
		expected bool
	}{
		{OpGreaterThan, 11, 10, true},
		{OpGreaterThan, 10, 10, false},
		{OpLessThan, 9, 10, true},
		{OpLessThan, 10, 10, false},
		{OpGreaterOrEqual, 10, 10, true},
		{OpGreaterOrEqual, 9.99, 10, false},
		{OpLessOrEqual, 10, 10, true},
		{OpLessOrEqual, 10.01, 10, false},
		{OpEqual, 0.1 + 0.2, 0.3, true},
		{OpEqual, 1, 2, false},
		{OpNotEqual, 1, 2, true},
		{OpNotEqual, 0.1 + 0.2, 0.3, false},
		{Operator(99), 1, 0, false},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, tc.op.Holds(tc.value, tc.limit), "%v %s %v", tc.value, tc.op, tc.limit)
	}
}

func TestParseOperator(t *testing.T) {
	for alias, expected := range operatorAliases {
		op, err := ParseOperator(alias)
		require.NoError(t, err)
		assert.Equal(t, expected, op)
	}

	op, err := ParseOperator("  GTE ")
	require.NoError(t, err)
	assert.Equal(t, OpGreaterOrEqual, op)

	_, err = ParseOperator("~=")
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestOperatorAndTypeYAML(t *testing.T) {
	var def Definition
	err := yaml.Unmarshal([]byte("type: deviation\noperator: \">=\"\nvalue: 12.5\nfield: total\n"), &def)
	require.NoError(t, err)
	assert.Equal(t, Definition{Type: TypeDeviation, Operator: OpGreaterOrEqual, Value: 12.5, Field: "total"}, def)

	out, err := yaml.Marshal(def)
	require.NoError(t, err)
	var back Definition
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, def, back)
	assert.Contains(t, string(out), "type: deviation")

	err = yaml.Unmarshal([]byte("operator: between\n"), &def)
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestEvaluateAbsolute(t *testing.T) {
	def := Definition{Type: TypeAbsolute, Operator: OpGreaterThan, Value: 40}

	out, err := Evaluate(def, 42, nil)
	require.NoError(t, err)
	assert.True(t, out.Breached)
	assert.Equal(t, 42.0, out.Compared)
	assert.Nil(t, out.Deviation)

	out, err = Evaluate(def, 40, ptr(20))
	require.NoError(t, err)
	assert.False(t, out.Breached)
	require.NotNil(t, out.Deviation)
	assert.InDelta(t, 100.0, *out.Deviation, 1e-9)
}

func TestEvaluateDeviation(t *testing.T) {
	def := Definition{Type: TypeDeviation, Operator: OpGreaterThan, Value: 10}

	out, err := Evaluate(def, 85, ptr(100))
	require.NoError(t, err)
	assert.True(t, out.Breached, "a 15%% drop exceeds a 10%% deviation limit")
	assert.InDelta(t, 15.0, out.Compared, 1e-9)
	assert.InDelta(t, -15.0, *out.Deviation, 1e-9)

	out, err = Evaluate(def, 105, ptr(100))
	require.NoError(t, err)
	assert.False(t, out.Breached)

	out, err = Evaluate(def, -12, ptr(-10))
	require.NoError(t, err)
	assert.InDelta(t, -20.0, *out.Deviation, 1e-9)
	assert.True(t, out.Breached)

	_, err = Evaluate(def, 1, nil)
	assert.ErrorIs(t, err, ErrNoHistoricalValue)

	_, err = Evaluate(def, 1, ptr(0))
	assert.ErrorIs(t, err, ErrZeroHistoricalValue)
}

func TestEvaluateRejectsInvalidInput(t *testing.T) {
	_, err := Evaluate(Definition{Type: TypeAbsolute}, 1, nil)
	assert.ErrorIs(t, err, ErrUnknownOperator)

	_, err = Evaluate(Definition{Operator: OpEqual}, 1, nil)
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Evaluate(Definition{Type: TypeAbsolute, Operator: OpEqual}, math.NaN(), nil)
	assert.ErrorIs(t, err, ErrNonFiniteMeasurement)
}

func TestDefinitionString(t *testing.T) {
	assert.Equal(t, "value > 40", Definition{Type: TypeAbsolute, Operator: OpGreaterThan, Value: 40}.String())
	assert.Equal(t, "|deviation%| <= 5.5", Definition{Type: TypeDeviation, Operator: OpLessOrEqual, Value: 5.5}.String())
}
