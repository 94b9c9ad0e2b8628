package core

import (
	"fmt"
	"maps"

	"github.com/mohae/deepcopy"
)

// DeepCopyMap returns a deep copy of the provided map[string]any.
func DeepCopyMap(m map[string]any) (map[string]any, error) {
	if m == nil {
		return nil, nil
	}
	copiedInterface := deepcopy.Copy(m)
	copied, ok := copiedInterface.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("failed to copy map")
	}
	return copied, nil
}

// CloneMap returns a shallow copy of the provided map. Nested values are
// shared with the original; use DeepCopyMap when the copy must be isolated.
func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
