package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/vaquinet/basestation/helpers"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
	"github.com/vaquinet/basestation/transport"
)

// Simulator plays radio bridge for a set of nodes: announces each node with hello
// and answers every trigger with a report. For bench testing without radio hardware.
type Simulator struct {
	Opt   Options
	Nodes []node.Id
	// Value returns sensor reading, random 0..99 by default
	Value func(id node.Id) int64
	// Delay before answer, longer than poll response timeout simulates slow node
	Delay time.Duration

	log    *log2.Log
	topics topics
	m      paho.Client
}

func (self *Simulator) Start(log *log2.Log) error {
	if self.Opt.BrokerURL == "" {
		return errors.NotValidf("mqtt broker empty")
	}
	if len(self.Nodes) == 0 {
		return errors.NotValidf("simulator nodes empty")
	}
	if self.Opt.Prefix == "" {
		self.Opt.Prefix = "radio"
	}
	if self.Opt.ClientID == "" {
		self.Opt.ClientID = "nodesim"
	}
	if self.Opt.NetworkTimeout == 0 {
		self.Opt.NetworkTimeout = 10 * time.Second
	}
	if self.Value == nil {
		rnd := helpers.RandUnix()
		var mu sync.Mutex
		self.Value = func(node.Id) int64 {
			mu.Lock()
			defer mu.Unlock()
			return rnd.Int63n(100)
		}
	}
	self.log = log
	self.topics = topics{prefix: self.Opt.Prefix}

	mopt := paho.NewClientOptions().
		AddBroker(self.Opt.BrokerURL).
		SetClientID(self.Opt.ClientID).
		SetUsername(self.Opt.Username).
		SetPassword(self.Opt.Password).
		SetCleanSession(true).
		SetConnectTimeout(self.Opt.NetworkTimeout).
		SetWriteTimeout(self.Opt.NetworkTimeout).
		SetAutoReconnect(false)
	self.m = paho.NewClient(mopt)
	if err := self.wait(self.m.Connect(), "connect"); err != nil {
		return err
	}

	filters := make(map[string]byte, len(self.Nodes))
	for _, id := range self.Nodes {
		filters[self.topics.node(id, KindTrigger)] = 0
	}
	if err := self.wait(self.m.SubscribeMultiple(filters, self.onTrigger), "subscribe"); err != nil {
		return err
	}
	for _, id := range self.Nodes {
		if err := self.wait(self.m.Publish(self.topics.node(id, KindHello), 1, false, []byte{}), "hello"); err != nil {
			return errors.Annotatef(err, "node=%s", id)
		}
	}
	self.log.Infof("nodesim broker=%s nodes=%d", self.Opt.BrokerURL, len(self.Nodes))
	return nil
}

func (self *Simulator) Stop() {
	if self.m != nil {
		self.m.Disconnect(uint(self.Opt.NetworkTimeout / time.Millisecond / 10))
	}
}

func (self *Simulator) wait(token paho.Token, what string) error {
	if !token.WaitTimeout(self.Opt.NetworkTimeout) {
		return errors.Timeoutf("nodesim %s", what)
	}
	return errors.Annotatef(token.Error(), "nodesim %s", what)
}

func (self *Simulator) onTrigger(c paho.Client, msg paho.Message) {
	id, kind, err := self.topics.parse(msg.Topic())
	if err != nil || kind != KindTrigger {
		self.log.Debugf("nodesim ignore topic=%s err=%v", msg.Topic(), err)
		return
	}
	if p := msg.Payload(); len(p) == 0 || p[0] != transport.Trigger {
		self.log.Debugf("nodesim node=%s ignore payload=%x", id, p)
		return
	}
	answer := func() {
		payload := fmt.Sprintf(`{"value":%d,"deviceId":"%s"}`, self.Value(id), id.Hex())
		self.log.Debugf("nodesim node=%s report=%s", id, payload)
		c.Publish(self.topics.node(id, KindReport), 0, false, payload)
	}
	if self.Delay > 0 {
		time.AfterFunc(self.Delay, answer)
		return
	}
	// paho handler must not block on publish token
	go answer()
}
