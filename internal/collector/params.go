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

package collector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type placeholderStyle int

const (
	// styleQuestion binds with ? (mysql, mariadb).
	styleQuestion placeholderStyle = iota
	// styleDollar binds with $1, $2 ... (postgres).
	styleDollar
	// styleAtP binds with @p1, @p2 ... (sqlserver).
	styleAtP
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// bindParameters rewrites {{name}} placeholders in query into the driver's
// bind markers and returns the arguments in marker order. Values always
// travel as bind arguments and are never spliced into the SQL text.
func bindParameters(query string, params map[string]string, style placeholderStyle) (string, []any, error) {
	var (
		args    []any
		missing []string
	)

	bound := placeholderPattern.ReplaceAllStringFunc(query, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := params[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		args = append(args, value)

		switch style {
		case styleDollar:
			return "$" + strconv.Itoa(len(args))
		case styleAtP:
			return "@p" + strconv.Itoa(len(args))
		default:
			return "?"
		}
	})

	if len(missing) > 0 {
		return "", nil, fmt.Errorf("query references undefined parameters: %s", strings.Join(missing, ", "))
	}
	return bound, args, nil
}
