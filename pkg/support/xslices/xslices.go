/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package xslices provide missing functionality to the slices package, mostly
// the prefix-sum bookkeeping used when translating between per-process and global indices.
package xslices

import (
	"golang.org/x/exp/constraints"
)

// Number is any integer or float type.
type Number interface {
	constraints.Integer | constraints.Float
}

// Sum returns the sum of all elements of slice, 0 if it is empty.
func Sum[T Number](slice []T) (sum T) {
	for _, v := range slice {
		sum += v
	}
	return
}

// CumSum returns the inclusive prefix sums of slice: out[i] = slice[0] + ... + slice[i].
func CumSum[T Number](slice []T) []T {
	out := make([]T, len(slice))
	var acc T
	for i, v := range slice {
		acc += v
		out[i] = acc
	}
	return out
}

// Starts returns the exclusive prefix sums of sizes, with one extra element at the end holding the total:
// for sizes [3, 2, 4] it returns [0, 3, 5, 9].
func Starts[T Number](sizes []T) []T {
	out := make([]T, len(sizes)+1)
	for i, v := range sizes {
		out[i+1] = out[i] + v
	}
	return out
}

// Diffs is the inverse of Starts: it returns the consecutive differences of boundaries,
// with the implicit final boundary given by end.
func Diffs[T Number](boundaries []T, end T) []T {
	out := make([]T, len(boundaries))
	for i, b := range boundaries {
		next := end
		if i+1 < len(boundaries) {
			next = boundaries[i+1]
		}
		out[i] = next - b
	}
	return out
}

// SliceWithValue creates a slice of given size filled with given value.
func SliceWithValue[T any](size int, value T) []T {
	s := make([]T, size)
	for i := range s {
		s[i] = value
	}
	return s
}

// Map executes the given function sequentially for every element on in, and returns a mapped slice.
func Map[In, Out any](in []In, fn func(e In) Out) (out []Out) {
	out = make([]Out, len(in))
	for ii, e := range in {
		out[ii] = fn(e)
	}
	return
}
