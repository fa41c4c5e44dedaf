package inbound

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type claimStatus string

const (
	claimStatusProcessing claimStatus = "processing"
	claimStatusRetryReady claimStatus = "retry_ready"
	claimStatusComplete   claimStatus = "complete"
)

// ClaimState says what a Claim call found for a delivery key. Only
// ClaimAcquired hands the key to the caller, who must then Complete or Fail
// it. ClaimRetryPending means an earlier attempt failed and the key reopens
// at RetryAt.
type ClaimState string

const (
	ClaimAcquired     ClaimState = "acquired"
	ClaimCompleted    ClaimState = "completed"
	ClaimInFlight     ClaimState = "in_flight"
	ClaimRetryPending ClaimState = "retry_pending"
)

type ClaimResult struct {
	ID      string
	State   ClaimState
	RetryAt time.Time
}

type claimEntry struct {
	Key            string
	Status         claimStatus
	ClaimID        string
	Attempts       int
	KeyTTL         time.Duration
	LeaseExpiresAt time.Time
	RetryAt        time.Time
}

// InMemoryClaimStore is a process-local ClaimStore. Completed keys are kept
// for their TTL, failed keys become claimable again at their retry time.
type InMemoryClaimStore struct {
	mu      sync.Mutex
	entries map[string]claimEntry
	claims  map[string]string
	nextID  int
	Now     func() time.Time
}

func NewInMemoryClaimStore() *InMemoryClaimStore {
	return &InMemoryClaimStore{
		entries: map[string]claimEntry{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *InMemoryClaimStore) Claim(_ context.Context, key string, lease time.Duration) (ClaimResult, error) {
	if s == nil {
		return ClaimResult{}, rejectInternal.with("inbound: claim store is nil", nil, nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ClaimResult{}, rejectBadInput.with("inbound: delivery key is required", nil, nil)
	}
	now := s.now()
	if lease <= 0 {
		lease = 10 * time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
	entry, exists := s.entries[key]
	if exists {
		switch {
		case entry.Status == claimStatusComplete:
			return ClaimResult{State: ClaimCompleted}, nil
		case entry.Status == claimStatusProcessing && now.Before(entry.LeaseExpiresAt):
			return ClaimResult{State: ClaimInFlight, RetryAt: entry.LeaseExpiresAt}, nil
		case entry.Status == claimStatusRetryReady && now.Before(entry.RetryAt):
			return ClaimResult{State: ClaimRetryPending, RetryAt: entry.RetryAt}, nil
		}
		if entry.ClaimID != "" {
			delete(s.claims, entry.ClaimID)
		}
	}

	claimID := s.nextClaimID()
	s.entries[key] = claimEntry{
		Key:            key,
		Status:         claimStatusProcessing,
		ClaimID:        claimID,
		Attempts:       entry.Attempts + 1,
		KeyTTL:         lease,
		LeaseExpiresAt: now.Add(lease),
	}
	s.claims[claimID] = key
	return ClaimResult{ID: claimID, State: ClaimAcquired}, nil
}

func (s *InMemoryClaimStore) Complete(_ context.Context, claimID string) error {
	if s == nil {
		return rejectInternal.with("inbound: claim store is nil", nil, nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return rejectBadInput.with("inbound: claim id is required", nil, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.ownedEntryLocked(claimID)
	if !ok {
		return nil
	}
	ttl := entry.KeyTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	entry.Status = claimStatusComplete
	entry.LeaseExpiresAt = s.now().Add(ttl)
	entry.RetryAt = time.Time{}
	s.entries[entry.Key] = entry
	delete(s.claims, claimID)
	return nil
}

// Fail releases the claim so the same delivery can be retried at retryAt,
// or immediately when retryAt is zero.
func (s *InMemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	if s == nil {
		return rejectInternal.with("inbound: claim store is nil", nil, nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return rejectBadInput.with("inbound: claim id is required", nil, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.ownedEntryLocked(claimID)
	if !ok {
		return nil
	}
	if retryAt.IsZero() {
		retryAt = s.now()
	}
	entry.Status = claimStatusRetryReady
	entry.RetryAt = retryAt.UTC()
	entry.LeaseExpiresAt = time.Time{}
	s.entries[entry.Key] = entry
	delete(s.claims, claimID)
	return nil
}

// Attempts reports how many times key has been claimed.
func (s *InMemoryClaimStore) Attempts(key string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[strings.TrimSpace(key)].Attempts
}

func (s *InMemoryClaimStore) ownedEntryLocked(claimID string) (claimEntry, bool) {
	key, ok := s.claims[claimID]
	if !ok {
		return claimEntry{}, false
	}
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != claimStatusProcessing {
		delete(s.claims, claimID)
		return claimEntry{}, false
	}
	return entry, true
}

func (s *InMemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *InMemoryClaimStore) nextClaimID() string {
	s.nextID++
	return fmt.Sprintf("claim_%d", s.nextID)
}

func (s *InMemoryClaimStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if entry.Status != claimStatusComplete {
			continue
		}
		if entry.LeaseExpiresAt.IsZero() || !now.Before(entry.LeaseExpiresAt) {
			if entry.ClaimID != "" {
				delete(s.claims, entry.ClaimID)
			}
			delete(s.entries, key)
		}
	}
}
