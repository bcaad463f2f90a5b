// Package mqtt connects the cache daemon to an MQTT broker.
//
// The daemon uses the broker for two things: it publishes an event after
// every refresh pass and injection call, and it listens on a command topic
// so other hosts can ask it to rescan its spec sources.
//
//	cdicache ──events──▶ broker ◀──command/refresh── operators, node agents
//
// All topics hang off a configurable prefix (see Topics). The client keeps
// a retained status message on <prefix>/status, with a Last Will so that an
// unexpected disconnect flips it to offline.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().RefreshCommand(), 1,
//	    func(topic string, payload []byte) error {
//	        return cache.Refresh()
//	    })
package mqtt
