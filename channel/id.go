// File: channel/id.go
// Package channel assigns a process-unique identity to every channel.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/rs/zerolog/log"
)

// ID uniquely identifies a channel. Equality is identity, ordering is
// the total order on the underlying snowflake value.
type ID int64

type idGenerator struct {
	node *snowflake.Node
	once sync.Once
}

var generator = &idGenerator{}

func (g *idGenerator) nextID() ID {
	g.once.Do(func() {
		node, err := snowflake.NewNode(1)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize snowflake node")
		}
		g.node = node
	})
	return ID(g.node.Generate().Int64())
}

// NewID allocates the next channel id.
func NewID() ID {
	return generator.nextID()
}

// Int64 returns the raw id value.
func (id ID) Int64() int64 { return int64(id) }

// String renders the id in the compact hex form used in channel string
// representations and log fields.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 16)
}

// Compare defines the total order used by Channel.Compare.
func (id ID) Compare(other ID) int {
	switch {
	case id < other:
		return -1
	case id > other:
		return 1
	default:
		return 0
	}
}
