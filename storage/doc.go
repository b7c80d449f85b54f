// Copyright 2025 Poiesic Systems
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


// Package storage provides the fingerprint ledger abstraction for prepdocs.
//
// The ledger maps a source identity (absolute path or URL) to the digest of
// the bytes that were last embedded successfully. The pipeline consults it to
// skip unchanged sources and writes it only after the sink accepted a source,
// so an interrupted run leaves the source eligible for reprocessing.
//
// # Backends
//
//   - storage/badger: keyed BadgerDB store, the default
//   - storage/sidecar: one small file per source, next to the source when it is local
//
// # Constructor Return Type Pattern
//
// Public constructors return the storage.Ledger interface:
//
//	ledger, err := badger.NewLedger(backend)  // returns storage.Ledger
//
// Use in tests with in-memory storage:
//
//	ledger, err := badger.NewMemoryLedger()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ledger.Close()
//
// # Thread Safety
//
// Ledgers are safe for concurrent use. Commit holds a per-key lock
// (KeyedMutex), so two workers never interleave writes for one source while
// distinct sources never contend.
package storage
