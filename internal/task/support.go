package task

import (
	"time"

	"github.com/google/uuid"
)

type wallClock struct{}

// NewSystemClock returns the process wall clock.
func NewSystemClock() Clock { return wallClock{} }

func (wallClock) Now() time.Time { return time.Now() }

type uuidIDs struct{}

// NewUUIDGenerator returns an IDGenerator for task and record ids. Ids are
// time-ordered v7 UUIDs, or random v4 ones if the v7 source fails.
func NewUUIDGenerator() IDGenerator { return uuidIDs{} }

func (uuidIDs) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}
