// Package testutil contains helper builders and fakes used across tests to
// reduce boilerplate when constructing events and pipeline states and when
// asserting platform side effects. Not intended for production usage.
package testutil
