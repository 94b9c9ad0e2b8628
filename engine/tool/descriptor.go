// Package tool unifies local functions and remote server capabilities
// behind one registry: a single merged view for listing, and a single
// invoke path that validates, dispatches, and reports per-tool failures
// without aborting the batch.
package tool

import (
	"time"

	"github.com/answergrid/answergrid/engine/schema"
)

// Origin says where a tool's implementation lives.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Descriptor is the registry's public view of one tool.
type Descriptor struct {
	// Name is unique across local and remote tools. Remote tools are
	// namespaced as "<server>__<tool>".
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  *schema.Schema `json:"parameters,omitempty"`
	Enabled     bool           `json:"enabled"`
	Origin      Origin         `json:"origin"`
	Server      string         `json:"server,omitempty"`
}

// InvocationResult reports one tool call, failed or not.
type InvocationResult struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Content   string         `json:"content,omitempty"`
	Error     string         `json:"error,omitempty"`
	Success   bool           `json:"success"`
	Duration  time.Duration  `json:"duration"`
}

// FailedResult builds an InvocationResult carrying err.
func FailedResult(name string, args map[string]any, err error, duration time.Duration) InvocationResult {
	return InvocationResult{
		Name:      name,
		Arguments: args,
		Error:     err.Error(),
		Duration:  duration,
	}
}
