// Package mqclients contains the message queue backends events can be
// published to.
package mqclients

import "context"

// MQClients lists all current mqclients we have available.
var MQClients = []string{}

// Client is a connected message queue backend.
type Client interface {
	String() string
	Channel() string
	Connect(ctx context.Context, clientName string, address, channel string) error
	Publish(ctx context.Context, channelName string, data []byte) error
	Close() error
}
