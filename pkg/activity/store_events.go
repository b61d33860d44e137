package activity

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

const (
	VerbScopeMounted     = "store.scope.mounted"
	VerbStateCommitted   = "store.state.committed"
	VerbActionDispatched = "store.action.dispatched"
	VerbScopeUnmounted   = "store.scope.unmounted"
	ObjectTypeScope      = "store.scope"
	ObjectTypeAction     = "store.action"
	metadataScopeTag     = "scope_tag"
	metadataScopeParent  = "scope_parent"
)

// ScopeContext identifies the scope an event concerns.
type ScopeContext struct {
	ID     string
	Tag    string
	Parent string
	Depth  int
}

// StoreEventInput describes the common fields for store lifecycle events.
type StoreEventInput struct {
	ActorID    string
	Scope      ScopeContext
	Keys       []string
	Revision   uint64
	Action     string
	Payload    []any
	Err        error
	Metadata   map[string]any
	OccurredAt time.Time
}

// BuildScopeMountedEvent constructs an event for a newly mounted scope.
func BuildScopeMountedEvent(input StoreEventInput) Event {
	return buildStoreEvent(VerbScopeMounted, ObjectTypeScope, input)
}

// BuildStateCommittedEvent constructs an event for one committed own-state update.
func BuildStateCommittedEvent(input StoreEventInput) Event {
	return buildStoreEvent(VerbStateCommitted, ObjectTypeScope, input)
}

// BuildActionDispatchedEvent constructs an event for a settled action handler.
func BuildActionDispatchedEvent(input StoreEventInput) Event {
	return buildStoreEvent(VerbActionDispatched, ObjectTypeAction, input)
}

// BuildScopeUnmountedEvent constructs an event for a torn down scope.
func BuildScopeUnmountedEvent(input StoreEventInput) Event {
	return buildStoreEvent(VerbScopeUnmounted, ObjectTypeScope, input)
}

func buildStoreEvent(verb, objectType string, input StoreEventInput) Event {
	metadata := maps.Clone(input.Metadata)
	if input.Scope.Tag != "" {
		metadata = ensureMetadata(metadata)
		metadata[metadataScopeTag] = input.Scope.Tag
		metadata["scope_depth"] = input.Scope.Depth
	}
	if input.Scope.Parent != "" {
		metadata = ensureMetadata(metadata)
		metadata[metadataScopeParent] = input.Scope.Parent
	}
	if len(input.Keys) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["keys"] = append([]string{}, input.Keys...)
	}
	if input.Revision > 0 {
		metadata = ensureMetadata(metadata)
		metadata["revision"] = input.Revision
	}
	if input.Action != "" {
		metadata = ensureMetadata(metadata)
		metadata["action"] = input.Action
	}
	if len(input.Payload) > 0 {
		metadata = ensureMetadata(metadata)
		metadata["payload"] = fmt.Sprint(input.Payload)
	}
	if input.Err != nil {
		metadata = ensureMetadata(metadata)
		metadata["error"] = input.Err.Error()
	}

	objectID := strings.TrimSpace(input.Scope.ID)
	if objectType == ObjectTypeAction && input.Action != "" {
		objectID = strings.TrimSpace(input.Action)
	}
	if objectID == "" {
		objectID = strings.TrimSpace(input.Scope.Tag)
	}
	if objectID == "" {
		objectID = objectType
	}

	return Event{
		Verb:       verb,
		ActorID:    strings.TrimSpace(input.ActorID),
		ObjectType: objectType,
		ObjectID:   objectID,
		Metadata:   metadata,
		OccurredAt: input.OccurredAt,
	}
}

func ensureMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return map[string]any{}
	}
	return meta
}
