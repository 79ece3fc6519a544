// Copyright 2025 SQLBridge, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqlbridge is the core engine of a polyglot SQL driver toolkit.
//
// The interesting machinery lives in the subpackages:
//
//   - pgcatalog caches the remote Postgres type graph, with lazy dependency
//     resolution and full support for cyclic composite types.
//   - sqlite/explain infers result column types and nullability for SQLite
//     queries by symbolically executing EXPLAIN bytecode.
//   - sqlite multiplexes async callers onto the single blocking native
//     connection each SQLite database handle really is.
//
// Everything else a full driver needs (pools, codecs for individual scalar
// types, migrations, URL parsing) is expected to live in consumers of these
// packages.
package sqlbridge
