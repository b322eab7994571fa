// Package serial talks to LoRa modem in transparent mode over UART.
// Air is broadcast, so trigger frame carries addressee id.
package serial

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/vaquinet/basestation/helpers"
	"github.com/vaquinet/basestation/internal/ingest"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
	"github.com/vaquinet/basestation/transport"
)

type Transport struct {
	device string
	baud   int
	// test code sets port
	port io.ReadWriteCloser

	log      *log2.Log
	onReport transport.ReportFunc
	onPeer   transport.PeerFunc
	alive    *alive.Alive
	wmu      sync.Mutex
	seen     map[node.Id]struct{}
}

var _ transport.Transporter = &Transport{}

func New(device string, baud int) *Transport {
	return &Transport{device: device, baud: baud}
}

func NewWithPort(port io.ReadWriteCloser) *Transport {
	return &Transport{port: port}
}

func (self *Transport) Init(ctx context.Context, log *log2.Log, onReport transport.ReportFunc, onPeer transport.PeerFunc) error {
	if onReport == nil {
		return errors.NotValidf("serial onReport=nil")
	}
	if self.port == nil { // production path
		f, err := openUart(self.device, self.baud)
		if err != nil {
			return errors.Annotatef(err, "serial device=%s", self.device)
		}
		self.port = f
	}
	self.log = log
	self.onReport = onReport
	self.onPeer = onPeer
	self.seen = make(map[node.Id]struct{})
	self.alive = alive.NewAlive()
	self.alive.Add(1)
	go self.readLoop()
	return nil
}

func (self *Transport) SendTrigger(id node.Id) error {
	var err error
	helpers.WithLock(&self.wmu, func() { err = helpers.WriteAll(self.port, transport.TriggerFrame(id)) })
	if err != nil {
		return transport.SendError(err, id)
	}
	return nil
}

func (self *Transport) Close() error {
	if self.alive == nil {
		return nil
	}
	self.alive.Stop()
	err := self.port.Close()
	self.alive.Wait()
	return errors.Annotate(err, "serial close")
}

// maxPacket bounds one newline terminated packet, longer ones are dropped whole.
const maxPacket = ingest.MaxReportSize * 2

func (self *Transport) readLoop() {
	defer self.alive.Done()
	r := bufio.NewReaderSize(self.port, maxPacket)
	// packet may be split by uart read timeout
	partial := make([]byte, 0, maxPacket)
	skip := false
	for self.alive.IsRunning() {
		line, err := r.ReadSlice('\n')
		switch err {
		case nil:
			if skip {
				// tail of oversized packet
				skip = false
				continue
			}
			if len(partial) != 0 {
				partial = append(partial, line...)
				line = partial
			}
			if len(line) > maxPacket {
				self.log.Debugf("serial drop oversized packet len=%d", len(line))
			} else {
				self.packet(line)
			}
			partial = partial[:0]
		case bufio.ErrBufferFull, io.EOF:
			if !skip {
				partial = append(partial, line...)
				if len(partial) >= maxPacket {
					self.log.Debugf("serial drop oversized packet len>=%d", len(partial))
					skip = true
					partial = partial[:0]
				}
			}
			if err == io.EOF {
				// uart read timeout (VMIN=0) looks like EOF
				time.Sleep(10 * time.Millisecond)
			}
		default:
			if self.alive.IsRunning() {
				self.log.Errorf("serial read err=%v", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (self *Transport) packet(line []byte) {
	line = trimEOL(line)
	if len(line) == 0 {
		return
	}
	id := PacketNode(line)
	if id != node.Zero {
		if _, ok := self.seen[id]; !ok {
			self.seen[id] = struct{}{}
			if self.onPeer != nil {
				self.onPeer(id)
			}
		}
	}
	payload := append([]byte(nil), line...)
	self.onReport(id, payload)
}

// PacketNode finds sender from deviceId field, zero id when it is not a node address.
func PacketNode(b []byte) node.Id {
	var v struct {
		DeviceId string `json:"deviceId"`
	}
	if err := json.Unmarshal(b, &v); err != nil || v.DeviceId == "" {
		return node.Zero
	}
	id, err := node.ParseId(v.DeviceId)
	if err != nil {
		return node.Zero
	}
	return id
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
