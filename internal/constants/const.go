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

package constants

const (
	DefaultWorkerName = "kpiwatch-worker"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "KPIWATCH_"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

const (
	PlatformMySQL      = "mysql"
	PlatformMariaDB    = "mariadb"
	PlatformPostgreSQL = "postgresql"
	PlatformSQLServer  = "sqlserver"
)

const (
	// SystemResolver is recorded as resolvedBy on automatic resolutions.
	SystemResolver = "System"

	AutoResolvedReason = "condition cleared on re-evaluation"
	ExpiredReason      = "stale: left the processing window unresolved"
	EscalationMessage  = "alert unresolved past escalation timeout"
)

const (
	DefaultIntervalSeconds         = 60
	DefaultMaxParallelItems        = 5
	DefaultExecutionTimeoutSeconds = 300

	DefaultAlertIntervalSeconds         = 300
	DefaultAlertBatchSize               = 100
	DefaultAlertLookbackHours           = 24
	DefaultEscalationTimeoutMinutes     = 60
	DefaultAutoResolutionTimeoutMinutes = 120
	DefaultEvaluationTimeoutSeconds     = 60
	DefaultHealthCheckIntervalSeconds   = 300
	DefaultHealthCheckTimeoutSeconds    = 30
	DefaultSourceTimeoutSeconds         = 30
	DefaultSourceMaxOpenConns           = 5
	DefaultBreakerConsecutiveFailures   = 5
	DefaultBreakerOpenTimeoutSeconds    = 60
	DefaultMetricsPort                  = 9090
	DefaultStoreMaxConns                = 10
	DefaultNATSSubjectPrefix            = "kpiwatch.alerts"
)
