package store

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the state of one path at a point in time. A leaf carries
// Value; an inner node carries Children sorted by key.
type Snapshot struct {
	Key      string     `msgpack:"key" json:"key"`
	Value    []byte     `msgpack:"value,omitempty" json:"value,omitempty"`
	Children []Snapshot `msgpack:"children,omitempty" json:"children,omitempty"`
}

func (s Snapshot) Exists() bool {
	return s.Value != nil || len(s.Children) > 0
}

func (s Snapshot) IsLeaf() bool {
	return s.Value != nil
}

// Decode unmarshals the leaf value into v.
func (s Snapshot) Decode(v any) error {
	if s.Value == nil {
		return fmt.Errorf("decode %q: no value", s.Key)
	}
	return json.Unmarshal(s.Value, v)
}

func (s Snapshot) Child(key string) (Snapshot, bool) {
	for _, c := range s.Children {
		if c.Key == key {
			return c, true
		}
	}
	return Snapshot{Key: key}, false
}

// Keys lists child keys in order.
func (s Snapshot) Keys() []string {
	keys := make([]string, len(s.Children))
	for i, c := range s.Children {
		keys[i] = c.Key
	}
	return keys
}

func (s Snapshot) Len() int {
	return len(s.Children)
}

// Equal reports whether two snapshots hold the same data.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.Key != o.Key || string(s.Value) != string(o.Value) || (s.Value == nil) != (o.Value == nil) {
		return false
	}
	if len(s.Children) != len(o.Children) {
		return false
	}
	for i := range s.Children {
		if !s.Children[i].Equal(o.Children[i]) {
			return false
		}
	}
	return true
}
