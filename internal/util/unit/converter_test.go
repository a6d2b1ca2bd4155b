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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConversion(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantFrom string
		wantTo   string
		wantErr  bool
	}{
		{name: "bytes", input: "B->MB", wantFrom: "B", wantTo: "MB"},
		{name: "with spaces", input: " ratio -> % ", wantFrom: "ratio", wantTo: "%"},
		{name: "durations", input: "ms->s", wantFrom: "ms", wantTo: "s"},
		{name: "missing arrow", input: "MB", wantErr: true},
		{name: "mixed families", input: "MB->s", wantErr: true},
		{name: "unknown unit", input: "parsec->m", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConversion(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, got.From)
			assert.Equal(t, tt.wantTo, got.To)
		})
	}

	empty, err := ParseConversion("  ")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestConvert(t *testing.T) {
	tests := []struct {
		value    float64
		from, to string
		want     float64
	}{
		{1024, "B", "KB", 1},
		{3, "GiB", "MiB", 3072},
		{1500, "ms", "s", 1.5},
		{2, "h", "min", 120},
		{0.25, "ratio", "%", 25},
		{12, "percent", "ratio", 0.12},
		{2500, "one", "k", 2.5},
		{7, "MB", "mb", 7},
	}

	for _, tt := range tests {
		got, err := Convert(tt.value, tt.from, tt.to)
		require.NoError(t, err, "%s->%s", tt.from, tt.to)
		assert.InDelta(t, tt.want, got, 1e-9, "%v %s->%s", tt.value, tt.from, tt.to)
	}

	_, err := Convert(1, "KB", "ms")
	assert.Error(t, err)
}

func TestConversionApply(t *testing.T) {
	var identity *Conversion
	assert.Equal(t, 42.0, identity.Apply(42))
	assert.Equal(t, "", identity.String())

	c, err := ParseConversion("ratio->%")
	require.NoError(t, err)
	assert.InDelta(t, 42.0, c.Apply(0.42), 1e-9)
	assert.Equal(t, "ratio->%", c.String())
}
