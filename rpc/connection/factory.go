package connection

import (
	"fmt"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/transport"
)

// Factory builds pools and standalone connections on top of a channel factory.
// It holds no global state, create one per application (or per test).
type Factory struct {
	channels transport.IChannelFactory
	defaults common.PoolConfig
}

// NewFactory creates a factory. defaults is used whenever a nil config is passed.
//
// Usage:
//
//	channels := base.NewChannelFactory(
//		serializer.NewBinarySerializer(),
//		tcp.NewTCPClientConnector(),
//		ws.NewWSClientConnector(),
//	)
//	factory := connection.NewFactory(channels, common.DefaultPoolConfig())
//	pool, err := factory.CreatePool("tcp://localhost:8222", connection.KindConventional, nil)
func NewFactory(channels transport.IChannelFactory, defaults common.PoolConfig) *Factory {
	return &Factory{channels: channels, defaults: defaults}
}

// CreatePool parses rawURL and builds a pool of the given kind. The pool is not connected yet.
func (f *Factory) CreatePool(rawURL string, kind Kind, config *common.PoolConfig) (*Pool, error) {
	url, err := transport.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	cfg := f.defaults
	if config != nil {
		cfg = *config
	}
	channelConfig := channelConfigFor(kind, cfg.Channel)

	return newPool(url, kind, cfg, func() (transport.IChannel, error) {
		return f.channels.CreateChannel(url, channelConfig)
	})
}

// CreateConnection builds a conventional connection on its own channel, outside any pool.
// Faults of its channel only mark the connection as disconnected.
func (f *Factory) CreateConnection(rawURL string, config *common.ChannelConfig) (*Connection, error) {
	return f.createConnection(rawURL, KindConventional, config)
}

// CreateAdminConnection is CreateConnection for admin connections
func (f *Factory) CreateAdminConnection(rawURL string, config *common.ChannelConfig) (*Connection, error) {
	return f.createConnection(rawURL, KindAdmin, config)
}

func (f *Factory) createConnection(rawURL string, kind Kind, config *common.ChannelConfig) (*Connection, error) {
	url, err := transport.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	cfg := f.defaults.Channel
	if config != nil {
		cfg = *config
	}
	cfg = channelConfigFor(kind, cfg)

	ch, err := f.channels.CreateChannel(url, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}
	return newConnection(0, kind, ch, nil, cfg)
}
