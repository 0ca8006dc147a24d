package tonchain

import (
	"context"

	"spinsettle/internal/config"

	"github.com/xssnick/tonutils-go/liteclient"
	"github.com/xssnick/tonutils-go/ton"
)

var log = config.InitLogger()

// NewAPI connects a liteserver pool for the configured network and pins the
// trusted block from the global config.
func NewAPI(ctx context.Context, cfg config.TonConfig) (*ton.APIClient, error) {
	client := liteclient.NewConnectionPool()
	global, err := liteclient.GetConfigFromUrl(ctx, cfg.GlobalConfigURL())
	if err != nil {
		log.Error("get config err: ", err.Error())
		return nil, err
	}
	if err := client.AddConnectionsFromConfig(ctx, global); err != nil {
		log.Error("Failed to add connections to config server:", err)
		return nil, err
	}
	api := ton.NewAPIClient(client)
	api.SetTrustedBlockFromConfig(global)
	return api, nil
}
