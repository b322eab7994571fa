package mqtt

import (
	"strings"

	"github.com/juju/errors"
	"github.com/vaquinet/basestation/internal/node"
)

// Topic layout, prefix is configurable:
//
//	<prefix>/<HEX>/t      trigger, published by base
//	<prefix>/<HEX>/r      report, published by radio bridge
//	<prefix>/<HEX>/hello  discovery, published by radio bridge
//	<prefix>/<HEX>/peer   retained 1/0, bridge keeps peer table in sync
//	<prefix>/base/state   retained online/offline, will=offline
const (
	KindTrigger = "t"
	KindReport  = "r"
	KindHello   = "hello"
	KindPeer    = "peer"

	StateOnline  = "online"
	StateOffline = "offline"
)

type topics struct {
	prefix string
}

func (self topics) node(id node.Id, kind string) string {
	return self.prefix + "/" + id.Hex() + "/" + kind
}
func (self topics) filter(kind string) string { return self.prefix + "/+/" + kind }
func (self topics) state() string             { return self.prefix + "/base/state" }

// parse returns node id and kind of <prefix>/<HEX>/<kind> topic.
func (self topics) parse(topic string) (node.Id, string, error) {
	rest := strings.TrimPrefix(topic, self.prefix+"/")
	if rest == topic {
		return node.Zero, "", errors.NotValidf("topic=%s prefix", topic)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		return node.Zero, "", errors.NotValidf("topic=%s format", topic)
	}
	id, err := node.ParseId(parts[0])
	if err != nil {
		return node.Zero, "", errors.Annotatef(err, "topic=%s", topic)
	}
	return id, parts[1], nil
}
