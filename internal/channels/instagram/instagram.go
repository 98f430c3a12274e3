// Package instagram implements the Instagram messaging adapter.
package instagram

import (
	"context"

	"github.com/nextlevelbuilder/unibox/internal/bus"
	"github.com/nextlevelbuilder/unibox/internal/channels"
	"github.com/nextlevelbuilder/unibox/internal/channels/meta"
	"github.com/nextlevelbuilder/unibox/internal/delivery"
)

// humanAgentTag lets agents answer outside the 24h standard messaging window.
const humanAgentTag = "HUMAN_AGENT"

type Adapter struct {
	graph *meta.GraphClient
	exec  *delivery.Executor
	token string
}

// New creates an Instagram adapter backed by the page access token of the
// linked Facebook page.
func New(graph *meta.GraphClient, exec *delivery.Executor, token string) *Adapter {
	return &Adapter{graph: graph, exec: exec, token: token}
}

func (a *Adapter) Name() bus.Channel { return bus.ChannelInstagram }

func (a *Adapter) ParseIncoming(raw []byte) []bus.Message {
	return meta.ParseMessaging(bus.ChannelInstagram, raw, meta.ParseOptions{LocalPrefix: "ig"})
}

func (a *Adapter) Send(ctx context.Context, req channels.SendRequest) (*bus.Message, error) {
	return meta.SendMessaging(ctx, a.graph, a.exec, meta.SendOptions{
		Channel:     bus.ChannelInstagram,
		AccessToken: a.token,
		LocalPrefix: "ig",
		Tag:         humanAgentTag,
	}, req)
}
