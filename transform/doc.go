// Package transform maps provider webhook payloads into downstream graph
// operations. Transformation is pure: it reads the event and the mapping
// rules of its configuration and performs no I/O.
package transform
