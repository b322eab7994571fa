// Package mqtt talks to radio bridge (ESP-NOW dongle) over MQTT broker.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/vaquinet/basestation/helpers"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
	"github.com/vaquinet/basestation/transport"
)

var ErrNotConnected = errors.New("mqtt not connected")

type Options struct {
	BrokerURL      string
	Prefix         string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	NetworkTimeout time.Duration
	TlsCaFile      string
	PeerLimit      int
	// LibraryLog routes paho package global loggers to Init log
	LibraryLog bool
	LogDebug   bool
}

type Transport struct {
	opt    Options
	log    *log2.Log
	topics topics
	m      paho.Client
	alive  *alive.Alive

	onReport transport.ReportFunc
	onPeer   transport.PeerFunc

	mu    sync.Mutex
	peers map[node.Id]struct{}
}

var _ transport.Transporter = &Transport{}
var _ transport.PeerLimiter = &Transport{}

func New(opt Options) *Transport {
	return &Transport{opt: opt}
}

// Init does not wait for broker, connection is retried in background until Close.
func (self *Transport) Init(ctx context.Context, log *log2.Log, onReport transport.ReportFunc, onPeer transport.PeerFunc) error {
	if self.opt.BrokerURL == "" {
		return errors.NotValidf("mqtt broker empty")
	}
	if onReport == nil {
		return errors.NotValidf("mqtt onReport=nil")
	}
	if self.opt.Prefix == "" {
		self.opt.Prefix = "radio"
	}
	if self.opt.ClientID == "" {
		self.opt.ClientID = "base"
	}
	if self.opt.KeepAlive == 0 {
		self.opt.KeepAlive = 30 * time.Second
	}
	if self.opt.NetworkTimeout == 0 {
		self.opt.NetworkTimeout = 10 * time.Second
	}
	self.log = log
	self.topics = topics{prefix: self.opt.Prefix}
	self.onReport = onReport
	self.onPeer = onPeer
	self.peers = make(map[node.Id]struct{})
	self.alive = alive.NewAlive()
	if self.opt.LibraryLog {
		paho.ERROR = log
		paho.CRITICAL = log
		paho.WARN = log
		if self.opt.LogDebug {
			paho.DEBUG = log
		}
	}

	mopt := paho.NewClientOptions().
		AddBroker(self.opt.BrokerURL).
		SetClientID(self.opt.ClientID).
		SetUsername(self.opt.Username).
		SetPassword(self.opt.Password).
		SetCleanSession(true).
		SetKeepAlive(self.opt.KeepAlive).
		SetPingTimeout(self.opt.NetworkTimeout).
		SetConnectTimeout(self.opt.NetworkTimeout).
		SetWriteTimeout(self.opt.NetworkTimeout).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(time.Minute).
		SetWill(self.topics.state(), StateOffline, 1, true).
		SetOnConnectHandler(self.onConnect).
		SetConnectionLostHandler(self.onConnectionLost)
	if self.opt.TlsCaFile != "" {
		cabytes, err := os.ReadFile(self.opt.TlsCaFile)
		if err != nil {
			return errors.Annotatef(err, "mqtt TLS ca file=%s", self.opt.TlsCaFile)
		}
		tlsconf := &tls.Config{RootCAs: x509.NewCertPool()}
		if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
			return errors.NotValidf("mqtt TLS ca file=%s no certificates", self.opt.TlsCaFile)
		}
		mopt.SetTLSConfig(tlsconf)
	}
	self.m = paho.NewClient(mopt)

	self.alive.Add(1)
	go self.connectLoop()
	return nil
}

func (self *Transport) SendTrigger(id node.Id) error {
	if !self.m.IsConnectionOpen() {
		return transport.SendError(ErrNotConnected, id)
	}
	token := self.m.Publish(self.topics.node(id, KindTrigger), 0, false, []byte{transport.Trigger})
	if !token.WaitTimeout(self.opt.NetworkTimeout) {
		return transport.SendError(errors.Timeoutf("mqtt publish"), id)
	}
	if err := token.Error(); err != nil {
		return transport.SendError(err, id)
	}
	return nil
}

func (self *Transport) PeerLimit() int { return self.opt.PeerLimit }

func (self *Transport) EnsurePeer(id node.Id) error {
	self.mu.Lock()
	_, ok := self.peers[id]
	self.mu.Unlock()
	if ok {
		return nil
	}
	if err := self.publishPeer(id, "1"); err != nil {
		return err
	}
	self.mu.Lock()
	self.peers[id] = struct{}{}
	self.mu.Unlock()
	return nil
}

func (self *Transport) ReleasePeer(id node.Id) {
	self.mu.Lock()
	_, ok := self.peers[id]
	delete(self.peers, id)
	self.mu.Unlock()
	if !ok {
		return
	}
	if err := self.publishPeer(id, "0"); err != nil {
		self.log.Errorf("mqtt release peer node=%s err=%v", id, err)
	}
}

func (self *Transport) Close() error {
	if self.alive == nil {
		return nil
	}
	self.alive.Stop()
	if self.m.IsConnectionOpen() {
		token := self.m.Publish(self.topics.state(), 1, true, StateOffline)
		token.WaitTimeout(self.opt.NetworkTimeout)
	}
	self.m.Disconnect(uint(self.opt.NetworkTimeout / time.Millisecond / 10))
	self.alive.Wait()
	return nil
}

func (self *Transport) publishPeer(id node.Id, v string) error {
	if !self.m.IsConnectionOpen() {
		return errors.Annotatef(ErrNotConnected, "mqtt peer node=%s", id)
	}
	token := self.m.Publish(self.topics.node(id, KindPeer), 1, true, v)
	if !token.WaitTimeout(self.opt.NetworkTimeout) {
		return errors.Timeoutf("mqtt peer node=%s", id)
	}
	return errors.Annotatef(token.Error(), "mqtt peer node=%s", id)
}

// first connect; reconnects after loss are handled by paho AutoReconnect
func (self *Transport) connectLoop() {
	defer self.alive.Done()
	backoff := helpers.Backoff{Min: time.Second, Max: time.Minute, K: 2}
	stopch := self.alive.StopChan()
	for self.alive.IsRunning() {
		token := self.m.Connect()
		select {
		case <-token.Done():
		case <-stopch:
			return
		}
		err := token.Error()
		if err == nil {
			return
		}
		delay := backoff.DelayAfter(false)
		self.log.Errorf("mqtt connect broker=%s err=%v retry after=%v", self.opt.BrokerURL, err, delay)
		select {
		case <-time.After(delay):
		case <-stopch:
			return
		}
	}
}

func (self *Transport) onConnect(c paho.Client) {
	self.log.Infof("mqtt connected broker=%s", self.opt.BrokerURL)
	filters := map[string]byte{
		self.topics.filter(KindReport): 1,
		self.topics.filter(KindHello):  1,
	}
	if token := c.SubscribeMultiple(filters, self.onMessage); token.WaitTimeout(self.opt.NetworkTimeout) && token.Error() != nil {
		self.log.Errorf("mqtt subscribe err=%v", token.Error())
		return
	}
	// peer table on bridge side may be stale after reconnect
	self.mu.Lock()
	self.peers = make(map[node.Id]struct{})
	self.mu.Unlock()
	c.Publish(self.topics.state(), 1, true, StateOnline)
}

func (self *Transport) onConnectionLost(c paho.Client, err error) {
	self.log.Errorf("mqtt connection lost err=%v", err)
}

func (self *Transport) onMessage(c paho.Client, msg paho.Message) {
	id, kind, err := self.topics.parse(msg.Topic())
	if err != nil {
		self.log.Debugf("mqtt ignore message err=%v", err)
		return
	}
	switch kind {
	case KindReport:
		payload := append([]byte(nil), msg.Payload()...)
		self.onReport(id, payload)
	case KindHello:
		if self.onPeer != nil {
			self.onPeer(id)
		}
	default:
		self.log.Debugf("mqtt ignore topic=%s", msg.Topic())
	}
}
