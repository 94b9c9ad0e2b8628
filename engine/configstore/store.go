// Package configstore holds named, environment-scoped, versioned
// configuration entries (system prompts, model settings, thresholds).
// Exactly one version per (name, environment) scope is active at a time.
package configstore

import (
	"context"
	"errors"
	"time"

	"github.com/answergrid/answergrid/engine/core"
)

// ErrNotFound is returned when no entry matches the requested scope.
var ErrNotFound = errors.New("config entry not found")

// Well-known entry names used by the answering engine.
const (
	NameSystemPrompt  = "system_prompt"
	NameModelSettings = "model_settings"
	NameAgentConfig   = "agent_config"
	NameMCPServers    = "mcp_servers"
)

// Entry is one version of a named configuration in one environment.
type Entry struct {
	ID          core.ID   `db:"id"          json:"id"`
	Name        string    `db:"name"        json:"name"`
	Environment string    `db:"environment" json:"environment"`
	Version     int       `db:"version"     json:"version"`
	Content     string    `db:"content"     json:"content"`
	Active      bool      `db:"active"      json:"active"`
	CreatedAt   time.Time `db:"created_at"  json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"  json:"updated_at"`
}

// Store is the configuration repository contract.
type Store interface {
	// GetActive returns the single active version for (name, environment),
	// or ErrNotFound when the scope has no active entry.
	GetActive(ctx context.Context, name, environment string) (*Entry, error)
	// CreateVersion appends a new inactive version to the scope and returns
	// it with its assigned version number.
	CreateVersion(ctx context.Context, name, environment, content string) (*Entry, error)
	// Activate makes the given version the only active one in its scope.
	// The swap is atomic: at no point does the scope hold zero or two
	// active versions as observed by GetActive.
	Activate(ctx context.Context, name, environment string, version int) error
	// ListVersions returns all versions for a scope, newest first.
	ListVersions(ctx context.Context, name, environment string) ([]*Entry, error)
	Close()
}
