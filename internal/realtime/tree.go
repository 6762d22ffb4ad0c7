package realtime

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
)

// normalize converts any JSON encodable value into the tree representation:
// maps, slices, float64, string, bool and nil. Empty objects become nil.
func normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValue, err)
	}
	return prune(decoded), nil
}

func prune(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			pruned := prune(child)
			if pruned == nil {
				delete(typed, key)
				continue
			}
			typed[key] = pruned
		}
		if len(typed) == 0 {
			return nil
		}
		return typed
	case []any:
		for index, child := range typed {
			typed[index] = prune(child)
		}
		return typed
	default:
		return value
	}
}

func deepCopy(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		clone := make(map[string]any, len(typed))
		for key, child := range typed {
			clone[key] = deepCopy(child)
		}
		return clone
	case []any:
		clone := make([]any, len(typed))
		for index, child := range typed {
			clone[index] = deepCopy(child)
		}
		return clone
	default:
		return value
	}
}

func lookup(root map[string]any, segments []string) any {
	var current any = root
	for _, segment := range segments {
		node, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = node[segment]
		if !ok {
			return nil
		}
	}
	return current
}

// assign writes value at segments, creating intermediate objects and
// pruning objects left empty by a removal.
func assign(root map[string]any, segments []string, value any) {
	if value == nil {
		remove(root, segments)
		return
	}
	node := root
	for _, segment := range segments[:len(segments)-1] {
		child, ok := node[segment].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[segment] = child
		}
		node = child
	}
	node[segments[len(segments)-1]] = value
}

func remove(node map[string]any, segments []string) {
	if len(segments) == 1 {
		delete(node, segments[0])
		return
	}
	child, ok := node[segments[0]].(map[string]any)
	if !ok {
		return
	}
	remove(child, segments[1:])
	if len(child) == 0 {
		delete(node, segments[0])
	}
}

// Child is one entry of an object viewed as an ordered list.
type Child struct {
	Key   string
	Value any
}

// Children orders the entries of an object value by the orderBy field of
// each child, then by key. An empty orderBy orders by key only. Non-object
// values have no children.
func Children(value any, orderBy string) []Child {
	node, ok := value.(map[string]any)
	if !ok {
		return []Child{}
	}
	children := make([]Child, 0, len(node))
	for key, child := range node {
		children = append(children, Child{Key: key, Value: child})
	}
	slices.SortFunc(children, func(a, b Child) int {
		if orderBy != "" {
			if order := compareValues(field(a.Value, orderBy), field(b.Value, orderBy)); order != 0 {
				return order
			}
		}
		return cmp.Compare(a.Key, b.Key)
	})
	return children
}

func field(value any, name string) any {
	node, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return node[name]
}

// compareValues orders null, false, true, numbers, strings, then objects.
func compareValues(a, b any) int {
	if order := cmp.Compare(rank(a), rank(b)); order != 0 {
		return order
	}
	switch typedA := a.(type) {
	case float64:
		return cmp.Compare(typedA, b.(float64))
	case string:
		return cmp.Compare(typedA, b.(string))
	default:
		return 0
	}
}

func rank(value any) int {
	switch typed := value.(type) {
	case nil:
		return 0
	case bool:
		if typed {
			return 2
		}
		return 1
	case float64:
		return 3
	case string:
		return 4
	default:
		return 5
	}
}
