// Package messenger implements the Facebook Messenger adapter.
package messenger

import (
	"context"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/channels/meta"
	"github.com/nextlevelbuilder/unibox/internal/delivery"
)

// Adapter parses Messenger webhooks and sends replies through the Send API.
type Adapter struct {
	graph *meta.GraphClient
	exec  *delivery.Executor
	token string
}

// New creates a Messenger adapter. token is the page access token; an empty
// token still parses webhooks but every Send returns a ConfigurationError.
func New(graph *meta.GraphClient, exec *delivery.Executor, token string) *Adapter {
	return &Adapter{graph: graph, exec: exec, token: token}
}

func (a *Adapter) Name() bus.Channel { return bus.ChannelMessenger }

// ParseIncoming maps message events and button postbacks.
func (a *Adapter) ParseIncoming(raw []byte) []bus.Message {
	return meta.ParseMessaging(bus.ChannelMessenger, raw, meta.ParseOptions{Postbacks: true, LocalPrefix: "ms"})
}

func (a *Adapter) Send(ctx context.Context, req channels.SendRequest) (*bus.Message, error) {
	return meta.SendMessaging(ctx, a.graph, a.exec, meta.SendOptions{
		Channel:     bus.ChannelMessenger,
		AccessToken: a.token,
		LocalPrefix: "ms",
	}, req)
}
