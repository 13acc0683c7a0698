/*
 * Copyright 2025 gRPC authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package wire defines the contract a message type must satisfy to be read
// and written in place, directly from transport-owned memory, without copying
// or parsing.
//
// A wire type is a fixed-size, fixed-layout plain-data type built from the
// fixed-endian primitives of this package (U16le, U64be, ...), single bytes,
// Bool, fixed-size arrays, the bounded Vec and records/unions of other wire
// types. Three properties hold for every wire type:
//
//   - the all-zero bit pattern is a valid value;
//   - there is no implicit padding: every byte is a field or an explicit pad;
//   - every bit pattern of the right length is either valid or rejected by a
//     finite validator (types with constrained bit patterns implement Yule).
//
// Certify checks the first two properties by reflection, once per type. Check
// and FromSlice apply the validator to a byte region after verifying its size
// and alignment. Types are normally emitted by a code generator; hand-written
// wire types must keep field order free of implicit padding and add explicit
// pad fields where needed.
package wire
