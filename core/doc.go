// Package core contains the sync pipeline contracts, entities and
// orchestration: the ingestion gate, the retry scheduler and dead-letter
// recovery. Storage, transformation and downstream transport live in their
// own packages and depend on core, never the reverse.
package core
