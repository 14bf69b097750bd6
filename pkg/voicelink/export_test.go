package voicelink

import "github.com/devrev/voicelink/internal/node"

// WithDialer replaces the WebSocket dialer.
func (o Options) WithDialer(d node.Dialer) Options {
	o.dialer = d
	return o
}
