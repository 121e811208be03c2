package app

import (
	"fmt"

	"github.com/mx-space/realtime/internal/config"
	"github.com/mx-space/realtime/internal/pkg/broker"
	"github.com/mx-space/realtime/internal/pkg/broker/membroker"
	"github.com/mx-space/realtime/internal/pkg/broker/natsbroker"
	"github.com/mx-space/realtime/internal/pkg/broker/redisbroker"
)

const clientName = "realtime-gateway"

func newDriver(cfg *config.AppConfig) (broker.Driver, error) {
	switch cfg.Broker.Driver {
	case config.DriverMemory:
		return membroker.New(), nil
	case config.DriverNATS:
		return natsbroker.New(cfg.Broker.URL, cfg.Broker.Exchange, clientName), nil
	case config.DriverRedis:
		return redisbroker.New(cfg.Broker.URL, cfg.Broker.Exchange, cfg.Broker.PingInterval), nil
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.Broker.Driver)
	}
}
