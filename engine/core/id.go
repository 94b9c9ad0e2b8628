package core

import "github.com/google/uuid"

// ID identifies a single request through the orchestration graph.
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

func (i ID) String() string {
	return string(i)
}
