package gatehouse

import (
	"context"
	"slices"

	"github.com/gatehouse-dev/gatehouse/discord"
	"github.com/gatehouse-dev/gatehouse/gatehousejson"
)

type DispatchHandler func(ctx context.Context, shard *Shard, msg *discord.GatewayPayload) error

var dispatchHandlers = make(map[string]DispatchHandler)

func registerDispatchHandler(eventType string, handler DispatchHandler) {
	dispatchHandlers[eventType] = handler
}

// Dispatch routes a gateway dispatch payload to its handler. Events without
// a handler are decoded just enough to log their shape so unhandled types
// remain inspectable without a schema.
func (shard *Shard) Dispatch(ctx context.Context, msg *discord.GatewayPayload) error {
	if slices.Contains(shard.client.configuration.Load().EventBlacklist, msg.Type) {
		return nil
	}

	RecordEvent(shard.client.identifier, msg.Type)

	if handler, ok := dispatchHandlers[msg.Type]; ok {
		return handler(ctx, shard, msg)
	}

	tree, err := gatehousejson.DecodeTree(msg.Data, 0, nil)
	if err != nil {
		shard.logger.Warn("Received unhandled dispatch with undecodable payload",
			"type", msg.Type,
			"error", err)

		return nil
	}

	keys := make([]string, 0)
	if object, ok := tree.(map[string]any); ok {
		for key := range object {
			keys = append(keys, key)
		}

		slices.Sort(keys)
	}

	shard.logger.Debug("Received unhandled dispatch",
		"type", msg.Type,
		"keys", keys)

	return nil
}
