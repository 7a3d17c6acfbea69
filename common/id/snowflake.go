package id

import (
	"strconv"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init initializes the Snowflake node with the given node ID.
// Only the first call has an effect.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New generates a new globally unique int64 ID using the Snowflake algorithm.
// Every accepted webhook event gets one; it shows up in logs and dead letters.
func New() int64 {
	return node.Generate().Int64()
}

// String renders an id the way it appears in log lines and dead-letter records.
func String(id int64) string {
	return strconv.FormatInt(id, 10)
}
