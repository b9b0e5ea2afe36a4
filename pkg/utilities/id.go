package utilities

import (
	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeNode returns a generator for nodeID (0..1023).
func NewSnowflakeNode(nodeID int64) (*snowflake.Node, error) {
	return snowflake.NewNode(nodeID)
}
