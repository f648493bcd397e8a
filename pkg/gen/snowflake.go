package gen

import (
	"fmt"

	"encoin-rewards/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gen", fx.Provide(NewSnowflakeNode))

// NewSnowflakeNode builds the id generator for this replica. Every replica
// sharing a database needs its own SNOWFLAKE_NODE.
func NewSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	node, err := snowflake.NewNode(cfg.SnowflakeNode)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Int64("node", cfg.SnowflakeNode), zap.Error(err))
		return nil, fmt.Errorf("snowflake node %d: %w", cfg.SnowflakeNode, err)
	}
	return node, nil
}
