package domain

import (
	"fmt"
	"strings"
)

// Operation is a state update operation
type Operation string

const (
	OperationSet       Operation = "set"
	OperationIncrement Operation = "increment"
	OperationDecrement Operation = "decrement"
)

// VariableUpdate mutates the value at Path
type VariableUpdate struct {
	Path      string    `json:"path" yaml:"path"`
	Operation Operation `json:"operation" yaml:"operation"`
	Value     any       `json:"value,omitempty" yaml:"value,omitempty"`
}

// Validate checks the update shape
func (u VariableUpdate) Validate() error {
	if strings.TrimSpace(u.Path) == "" {
		return fmt.Errorf("update path is required")
	}
	switch u.Operation {
	case OperationSet, OperationIncrement, OperationDecrement:
		return nil
	default:
		return fmt.Errorf("unknown operation %q for path %q", u.Operation, u.Path)
	}
}

// Variable returns the root variable name addressed by the update path
func (u VariableUpdate) Variable() string {
	return RootSegment(u.Path)
}

// RootSegment returns the first segment of a dotted state path
func RootSegment(path string) string {
	if i := strings.IndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return path
}

// Access is an ACL permission
type Access string

const (
	AccessRead      Access = "read"
	AccessWrite     Access = "write"
	AccessReadWrite Access = "read_write"
)

// AccessControl grants a node access to a variable
type AccessControl struct {
	NodeID string `json:"node" yaml:"node"`
	Access Access `json:"access" yaml:"access"`
}

// Variable is a process variable declaration
type Variable struct {
	Name      string          `json:"name"`
	Type      string          `json:"type,omitempty"`
	Default   any             `json:"default,omitempty"`
	Scope     string          `json:"scope,omitempty"`
	Immutable bool            `json:"immutable,omitempty"`
	ACL       []AccessControl `json:"acl,omitempty"`
}

// Allows reports whether nodeID holds the requested access. An empty ACL allows everyone.
func (v *Variable) Allows(nodeID string, access Access) bool {
	if len(v.ACL) == 0 {
		return true
	}
	for _, entry := range v.ACL {
		if entry.NodeID != nodeID {
			continue
		}
		if entry.Access == AccessReadWrite || entry.Access == access {
			return true
		}
	}
	return false
}
