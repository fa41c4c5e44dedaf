// Package inbound is the webhook boundary in front of the ingestion gate.
//
// Deliveries are verified, claimed by delivery id so provider redeliveries
// of a persisted event are acknowledged without a second sync event, then
// enqueued. A duplicate that arrives while the first copy is still being
// enqueued is refused with a conflict. A failed enqueue releases the claim
// so the provider retry is accepted.
package inbound
