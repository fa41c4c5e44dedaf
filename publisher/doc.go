// Package publisher talks to the knowledge graph API. Client covers the
// entity and relationship endpoints; Publisher maps downstream operations
// onto them and classifies failures for the retry scheduler.
package publisher
