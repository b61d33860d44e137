package state_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-stores/pkg/state"
)

type mutateStore[T any] struct {
	loadSnapshot T
	loadMeta     state.Meta
	loadOK       bool
	loadErr      error

	saveCalls  int
	savedMeta  state.Meta
	savedValue T
	saveErr    error
}

func (s *mutateStore[T]) Load(_ context.Context, ref state.Ref) (T, state.Meta, bool, error) {
	var zero T
	if s.loadErr != nil {
		return zero, state.Meta{}, false, s.loadErr
	}
	return s.loadSnapshot, s.loadMeta, s.loadOK, nil
}

func (s *mutateStore[T]) Save(_ context.Context, ref state.Ref, snapshot T, meta state.Meta) (state.Meta, error) {
	s.saveCalls++
	s.savedMeta = meta
	s.savedValue = snapshot
	if s.saveErr != nil {
		return state.Meta{}, s.saveErr
	}
	return meta, nil
}

func (s *mutateStore[T]) Delete(context.Context, state.Ref) error {
	return nil
}

type validatingCounter struct {
	Count int
}

func (c validatingCounter) Validate() error {
	if c.Count < 0 {
		return errors.New("count must not be negative")
	}
	return nil
}

var ref = state.Ref{ScopeID: "scope-1", Tag: "counter"}

func TestCommitterMutateBumpsRevision(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &mutateStore[validatingCounter]{
		loadSnapshot: validatingCounter{Count: 1},
		loadMeta:     state.Meta{Revision: 4},
		loadOK:       true,
	}
	committer := state.Committer[validatingCounter]{Store: store, Now: func() time.Time { return now }}

	value, meta, err := committer.Mutate(context.Background(), ref, state.Meta{Revision: 4}, func(v *validatingCounter) error {
		v.Count++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value.Count != 2 || store.savedValue.Count != 2 {
		t.Fatalf("expected count 2, got %d / %d", value.Count, store.savedValue.Count)
	}
	if meta.Revision != 5 || !meta.UpdatedAt.Equal(now) {
		t.Fatalf("expected revision 5 at %v, got %+v", now, meta)
	}
}

func TestCommitterMutateRejectsStaleRevision(t *testing.T) {
	store := &mutateStore[validatingCounter]{loadMeta: state.Meta{Revision: 2}, loadOK: true}
	committer := state.Committer[validatingCounter]{Store: store}

	_, _, err := committer.Mutate(context.Background(), ref, state.Meta{Revision: 1}, func(*validatingCounter) error {
		t.Fatalf("mutator must not run on stale revision")
		return nil
	})
	if !errors.Is(err, state.ErrRevisionMismatch) {
		t.Fatalf("expected ErrRevisionMismatch, got %v", err)
	}
	if store.saveCalls != 0 {
		t.Fatalf("expected no save calls, got %d", store.saveCalls)
	}
}

func TestCommitterMutateValidationFailureDoesNotSave(t *testing.T) {
	store := &mutateStore[validatingCounter]{loadOK: false}
	committer := state.Committer[validatingCounter]{Store: store}

	_, _, err := committer.Mutate(context.Background(), ref, state.Meta{}, func(v *validatingCounter) error {
		v.Count = -1
		return nil
	})
	if err == nil || err.Error() != "count must not be negative" {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.saveCalls != 0 {
		t.Fatalf("expected no save calls, got %d", store.saveCalls)
	}
}

func TestCommitterMutateWrapsLoadError(t *testing.T) {
	boom := errors.New("boom")
	committer := state.Committer[validatingCounter]{Store: &mutateStore[validatingCounter]{loadErr: boom}}
	if _, _, err := committer.Mutate(context.Background(), ref, state.Meta{}, func(*validatingCounter) error { return nil }); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped load error, got %v", err)
	}
}
