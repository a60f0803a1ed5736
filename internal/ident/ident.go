// Package ident generates globally unique, roughly time-ordered 64-bit
// identifiers for new rows. Identifiers come from the process, not from
// database sequences, so inserts can carry their ids into a transaction.
package ident

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Generator produces snowflake identifiers for a single node.
type Generator struct {
	node *snowflake.Node
}

// New creates a generator for the given node id (0-1023).
func New(nodeID int64) (*Generator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node: %w", err)
	}
	return &Generator{node: node}, nil
}

// NextID returns the next identifier. It never fails.
func (g *Generator) NextID() int64 {
	return g.node.Generate().Int64()
}
