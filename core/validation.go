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


package core

import "fmt"

// ValidateMaxTokens checks a chunk budget.
func ValidateMaxTokens(maxTokens int) error {
	if maxTokens <= 0 {
		return fmt.Errorf("%w: max tokens per chunk must be positive, got %d", ErrConfiguration, maxTokens)
	}
	return nil
}

// ValidateUnits checks that units are numbered 1..n in order and that their
// position metadata strictly increases.
func ValidateUnits(units []Unit) error {
	last := 0
	for i, u := range units {
		if u.Ordinal != i+1 {
			return fmt.Errorf("%w: unit %d has ordinal %d", ErrExtraction, i, u.Ordinal)
		}
		pos := u.Metadata.Position()
		if pos <= last {
			return fmt.Errorf("%w: unit %d position %d does not follow %d", ErrExtraction, i, pos, last)
		}
		last = pos
	}
	return nil
}

// ValidateChunks checks that chunks reproduce units exactly.
//
// Validation rules:
//   - Chunk indexes run 0..n-1
//   - No chunk is empty
//   - Concatenating chunk units in order yields units (same ordinals, same order)
func ValidateChunks(units []Unit, chunks []Chunk) error {
	next := 0
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("%w: chunk %d has index %d", ErrInvalidChunks, i, c.Index)
		}
		if len(c.Units) == 0 {
			return fmt.Errorf("%w: %w: index %d", ErrInvalidChunks, ErrEmptyChunk, i)
		}
		for _, u := range c.Units {
			if next >= len(units) {
				return fmt.Errorf("%w: more units than extracted", ErrInvalidChunks)
			}
			if u.Ordinal != units[next].Ordinal {
				return fmt.Errorf("%w: expected ordinal %d, got %d", ErrInvalidChunks, units[next].Ordinal, u.Ordinal)
			}
			next++
		}
	}
	if next != len(units) {
		return fmt.Errorf("%w: %d of %d units chunked", ErrInvalidChunks, next, len(units))
	}
	return nil
}
