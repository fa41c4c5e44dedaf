package core

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	goerrors "github.com/goliatone/go-errors"
)

func TestSyncErrorMapper_AssignsStableCodes(t *testing.T) {
	mapped := syncErrorMapper(fmt.Errorf("lookup: %w", ErrNotFound))
	if mapped.TextCode != SyncErrorNotFound || mapped.Code != http.StatusNotFound {
		t.Fatalf("expected not found envelope, got %q/%d", mapped.TextCode, mapped.Code)
	}

	mapped = syncErrorMapper(fmt.Errorf("complete: %w", ErrLeaseLost))
	if mapped.Category != goerrors.CategoryConflict || mapped.TextCode != SyncErrorConflict {
		t.Fatalf("expected conflict envelope, got %q/%q", mapped.Category, mapped.TextCode)
	}

	mapped = syncErrorMapper(stderrors.New("tenant id is required"))
	if mapped.TextCode != SyncErrorBadInput {
		t.Fatalf("expected bad input, got %q", mapped.TextCode)
	}

	mapped = syncErrorMapper(stderrors.New("something odd"))
	if mapped.Code == 0 || mapped.TextCode == "" {
		t.Fatalf("expected envelope defaults, got %#v", mapped)
	}
}

func TestPersistenceError_WrapsSource(t *testing.T) {
	source := stderrors.New("connection refused")
	err := PersistenceError(source, "enqueue sync event")
	if err.TextCode != SyncErrorPersistence || err.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected envelope: %q/%d", err.TextCode, err.Code)
	}
	if !stderrors.Is(err, source) {
		t.Fatalf("expected source to stay reachable")
	}
	if err.Metadata["operation"] != "enqueue sync event" {
		t.Fatalf("expected operation metadata, got %#v", err.Metadata)
	}
}

func TestPublishError_ClassificationAndEnvelope(t *testing.T) {
	retryable := &PublishError{Operation: OperationCreateEntity, StatusCode: http.StatusServiceUnavailable, Retryable: true}
	if !IsRetryable(fmt.Errorf("publish: %w", retryable)) {
		t.Fatalf("expected wrapped 503 to stay retryable")
	}

	rejected := &PublishError{Operation: OperationLinkEntities, StatusCode: http.StatusConflict, Message: "duplicate relationship"}
	if IsRetryable(rejected) {
		t.Fatalf("expected 409 to be non-retryable")
	}
	mapped := MapError(rejected)
	if mapped.TextCode != SyncErrorPublish || mapped.Category != goerrors.CategoryBadInput {
		t.Fatalf("unexpected mapped publish error: %q/%q", mapped.TextCode, mapped.Category)
	}
	if mapped.Metadata["status_code"] != http.StatusConflict {
		t.Fatalf("expected status metadata, got %#v", mapped.Metadata)
	}

	if !IsRetryable(stderrors.New("unclassified")) {
		t.Fatalf("expected unclassified errors to be retryable")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}

func TestInvalidStateTransitionError_Message(t *testing.T) {
	err := InvalidStateTransitionError("evt_1", StatusCompleted)
	if err.Message != "Event is not in the dead-letter queue. Current status: COMPLETED" {
		t.Fatalf("unexpected message %q", err.Message)
	}
	if err.Code != http.StatusConflict || err.TextCode != SyncErrorInvalidStateTransition {
		t.Fatalf("unexpected envelope: %d/%q", err.Code, err.TextCode)
	}
}

func TestTransformErrors_UseTransformCode(t *testing.T) {
	if err := NewTransformError("payload is not an object", nil); err.TextCode != SyncErrorTransform {
		t.Fatalf("expected transform code, got %q", err.TextCode)
	}
	wrapped := WrapTransformError(stderrors.New("bad json"), "decode payload", map[string]any{"source": "jira"})
	if !HasTextCode(wrapped, SyncErrorTransform) {
		t.Fatalf("expected transform code on wrapped error")
	}
}

func TestIsRetryable_JoinedFailures(t *testing.T) {
	permanent := &PublishError{StatusCode: http.StatusBadRequest}
	transient := &PublishError{StatusCode: http.StatusServiceUnavailable, Retryable: true}

	if IsRetryable(stderrors.Join(permanent, permanent)) {
		t.Fatalf("expected only non-retryable failures to be non-retryable")
	}
	if !IsRetryable(stderrors.Join(permanent, transient)) {
		t.Fatalf("expected one retryable failure to make the attempt retryable")
	}
}

func TestTruncateUTF8_CutsOnRuneBoundary(t *testing.T) {
	message := "a" + strings.Repeat("é", 400)
	cut := TruncateUTF8(message, 100)
	if !utf8.ValidString(cut) {
		t.Fatalf("expected valid utf-8 after truncation")
	}
	if len(cut) != 99 {
		t.Fatalf("expected cut before the split rune, got %d bytes", len(cut))
	}
	if got := TruncateUTF8("ok\xffdone", 100); got != "okdone" {
		t.Fatalf("expected invalid bytes to be dropped, got %q", got)
	}
}
