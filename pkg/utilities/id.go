package utilities

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewUUID returns a random (v4) UUID string.
func NewUUID() string {
	return uuid.NewString()
}

// IDGenerator hands out snowflake IDs for a single node. Safe for concurrent use.
type IDGenerator struct {
	node *snowflake.Node
}

// NewIDGenerator builds a generator for nodeID (0-1023).
func NewIDGenerator(nodeID int64) (*IDGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &IDGenerator{node: node}, nil
}

// NextID returns the next snowflake ID as int64.
func (g *IDGenerator) NextID() int64 {
	return g.node.Generate().Int64()
}
