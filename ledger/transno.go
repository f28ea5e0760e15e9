package ledger

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// TransNoGenerator issues unique, roughly time-ordered transaction numbers.
type TransNoGenerator struct {
	node *snowflake.Node
}

// NewTransNoGenerator creates a generator for a snowflake node id (0-1023).
// Every process writing to the same ledger needs its own node id.
func NewTransNoGenerator(node int64) (*TransNoGenerator, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", node, err)
	}
	return &TransNoGenerator{node: n}, nil
}

func (g *TransNoGenerator) Next() string {
	return g.node.Generate().String()
}
