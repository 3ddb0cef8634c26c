// Package testutil provides shared test doubles for the engine's external
// collaborator interfaces.
package testutil

import (
	"context"
	"sync"

	"github.com/fluxbase-eu/tableengine/internal/tableengine/types"
)

// AllowAllPermissions implements engine.PermissionChecker and grants every
// action unconditionally — the default stand-in until a real deployment
// wires in its own ACL-backed checker.
type AllowAllPermissions struct{}

// Can always returns true.
func (AllowAllPermissions) Can(ctx context.Context, user string, resourceType types.ResourceType, resourceID, action string) (bool, error) {
	return true, nil
}

// DenyAllPermissions implements engine.PermissionChecker and refuses every
// action, useful for exercising a caller's permission-denied handling.
type DenyAllPermissions struct{}

// Can always returns false.
func (DenyAllPermissions) Can(ctx context.Context, user string, resourceType types.ResourceType, resourceID, action string) (bool, error) {
	return false, nil
}

// StaticAttachmentResolver implements engine.AttachmentResolver by
// returning a fixed URL prefix for any path, without touching real object
// storage.
type StaticAttachmentResolver struct {
	URLPrefix string
}

// Resolve returns URLPrefix+path.
func (r StaticAttachmentResolver) Resolve(ctx context.Context, path string) (string, error) {
	return r.URLPrefix + path, nil
}

// RecomputeCall records one invocation of MockRecomputer.Recompute.
type RecomputeCall struct {
	TableID, FieldID, RecordID string
	SourceData                map[string]interface{}
}

// MockRecomputer implements engine.Recomputer with a scripted value
// function, recording every call for assertion. ValueFn defaults to
// returning nil for every field when unset.
type MockRecomputer struct {
	mu      sync.Mutex
	ValueFn func(f types.Field, recordID string, sourceData map[string]interface{}) (interface{}, error)
	Calls   []RecomputeCall
}

// Recompute delegates to ValueFn and records the call.
func (m *MockRecomputer) Recompute(ctx context.Context, table types.Table, f types.Field, recordID string, sourceData map[string]interface{}) (interface{}, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RecomputeCall{TableID: table.ID, FieldID: f.ID, RecordID: recordID, SourceData: sourceData})
	m.mu.Unlock()

	if m.ValueFn == nil {
		return nil, nil
	}
	return m.ValueFn(f, recordID, sourceData)
}
