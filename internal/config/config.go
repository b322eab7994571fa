// Package config reads gateway configuration: HCL with includes, or YAML.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/vaquinet/basestation/helpers"
	"github.com/vaquinet/basestation/internal/node"
	"github.com/vaquinet/basestation/log2"
	"gopkg.in/yaml.v3"
)

const (
	TransportMqtt   = "mqtt"
	TransportSerial = "serial"
	TransportNoop   = "noop"

	ProberSysinfo = "sysinfo"
	ProberRuntime = "runtime"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []Source `hcl:"include" yaml:"include"`

	LogDebug        bool     `hcl:"log_debug" yaml:"log_debug"`
	TickMs          int      `hcl:"tick_ms" yaml:"tick_ms"`
	StatIntervalSec int      `hcl:"stat_interval_sec" yaml:"stat_interval_sec"`
	Nodes           []string `hcl:"nodes" yaml:"nodes"`

	Registry struct {
		Capacity int `hcl:"capacity" yaml:"capacity"`
	} `hcl:"registry" yaml:"registry"`

	Queue struct {
		Capacity int `hcl:"capacity" yaml:"capacity"`
		Inbox    int `hcl:"inbox" yaml:"inbox"`
	} `hcl:"queue" yaml:"queue"`

	Poll      PollConfig      `hcl:"poll" yaml:"poll"`
	Relay     RelayConfig     `hcl:"relay" yaml:"relay"`
	Guard     GuardConfig     `hcl:"guard" yaml:"guard"`
	Transport TransportConfig `hcl:"transport" yaml:"transport"`
	Led       LedConfig       `hcl:"led" yaml:"led"`
}

type Source struct {
	Name     string `hcl:"name,key" yaml:"name"`
	Optional bool   `hcl:"optional" yaml:"optional"`
}

type PollConfig struct {
	TriggerIntervalMs int  `hcl:"trigger_interval_ms" yaml:"trigger_interval_ms"`
	ResponseTimeoutMs int  `hcl:"response_timeout_ms" yaml:"response_timeout_ms"`
	Burst             bool `hcl:"burst" yaml:"burst"`
}

type RelayConfig struct {
	URL             string `hcl:"url" yaml:"url"`
	IntervalMs      int    `hcl:"interval_ms" yaml:"interval_ms"`
	TimeoutSec      int    `hcl:"timeout_sec" yaml:"timeout_sec"`
	TlsCaFile       string `hcl:"tls_ca_file" yaml:"tls_ca_file"`
	Insecure        bool   `hcl:"insecure" yaml:"insecure"`
	RetainOnFailure bool   `hcl:"retain_on_failure" yaml:"retain_on_failure"`
	MaxAttempts     int    `hcl:"max_attempts" yaml:"max_attempts"`
	RetryMinMs      int    `hcl:"retry_min_ms" yaml:"retry_min_ms"`
	RetryMaxSec     int    `hcl:"retry_max_sec" yaml:"retry_max_sec"`
}

type GuardConfig struct {
	IntervalSec int    `hcl:"interval_sec" yaml:"interval_sec"`
	LowWaterKb  int    `hcl:"low_water_kb" yaml:"low_water_kb"`
	HeapLimitMb int    `hcl:"heap_limit_mb" yaml:"heap_limit_mb"`
	Prober      string `hcl:"prober" yaml:"prober"`
	Reseed      *bool  `hcl:"reseed" yaml:"reseed"`
}

type TransportConfig struct {
	Kind   string       `hcl:"kind" yaml:"kind"`
	Mqtt   MqttConfig   `hcl:"mqtt" yaml:"mqtt"`
	Serial SerialConfig `hcl:"serial" yaml:"serial"`
}

type MqttConfig struct {
	Broker            string `hcl:"broker" yaml:"broker"`
	Prefix            string `hcl:"prefix" yaml:"prefix"`
	ClientID          string `hcl:"client_id" yaml:"client_id"`
	Username          string `hcl:"username" yaml:"username"`
	Password          string `hcl:"password" yaml:"password"`
	KeepaliveSec      int    `hcl:"keepalive_sec" yaml:"keepalive_sec"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec" yaml:"network_timeout_sec"`
	TlsCaFile         string `hcl:"tls_ca_file" yaml:"tls_ca_file"`
	PeerLimit         int    `hcl:"peer_limit" yaml:"peer_limit"`
	LogDebug          bool   `hcl:"log_debug" yaml:"log_debug"`
}

type SerialConfig struct {
	Device string `hcl:"device" yaml:"device"`
	Baud   int    `hcl:"baud" yaml:"baud"`
}

type LedConfig struct {
	Enable  bool   `hcl:"enable" yaml:"enable"`
	Chip    string `hcl:"chip" yaml:"chip"`
	Pin     int    `hcl:"pin" yaml:"pin"`
	PulseMs int    `hcl:"pulse_ms" yaml:"pulse_ms"`
}

func (c *Config) TickInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.TickMs, 50*time.Millisecond)
}
func (c *Config) StatInterval() time.Duration {
	return helpers.IntSecondDefault(c.StatIntervalSec, 60*time.Second)
}

// NodeIds parses static node list, all errors are reported together.
func (c *Config) NodeIds() ([]node.Id, error) {
	ids := make([]node.Id, 0, len(c.Nodes))
	errs := make([]error, 0)
	for _, s := range c.Nodes {
		id, err := node.ParseId(s)
		if err != nil {
			errs = append(errs, errors.Annotate(err, "config nodes"))
			continue
		}
		ids = append(ids, id)
	}
	return ids, helpers.FoldErrors(errs)
}

func (c *PollConfig) TriggerInterval() time.Duration {
	return helpers.IntMillisecondDefault(c.TriggerIntervalMs, 5*time.Second)
}
func (c *PollConfig) ResponseTimeout() time.Duration {
	return helpers.IntMillisecondDefault(c.ResponseTimeoutMs, 500*time.Millisecond)
}

// Interval 0 means relay on every tick.
func (c *RelayConfig) Interval() time.Duration {
	if c.IntervalMs <= 0 {
		return 0
	}
	return time.Duration(c.IntervalMs) * time.Millisecond
}
func (c *RelayConfig) Timeout() time.Duration {
	return helpers.IntSecondDefault(c.TimeoutSec, 15*time.Second)
}
func (c *RelayConfig) RetryMin() time.Duration {
	return helpers.IntMillisecondDefault(c.RetryMinMs, time.Second)
}
func (c *RelayConfig) RetryMax() time.Duration {
	return helpers.IntSecondDefault(c.RetryMaxSec, 60*time.Second)
}

func (c *GuardConfig) Interval() time.Duration {
	return helpers.IntSecondDefault(c.IntervalSec, 60*time.Second)
}
func (c *GuardConfig) LowWater() uint64 {
	if c.LowWaterKb <= 0 {
		return 20 << 10
	}
	return uint64(c.LowWaterKb) << 10
}
func (c *GuardConfig) HeapLimit() uint64 { return uint64(c.HeapLimitMb) << 20 }
func (c *GuardConfig) ReseedEnabled() bool {
	return c.Reseed == nil || *c.Reseed
}

func (c *MqttConfig) BrokerURL() string {
	if c.Broker == "" {
		return "tcp://127.0.0.1:1883"
	}
	return c.Broker
}
func (c *MqttConfig) TopicPrefix() string {
	if c.Prefix == "" {
		return "radio"
	}
	return strings.Trim(c.Prefix, "/")
}
func (c *MqttConfig) Client() string {
	if c.ClientID == "" {
		return "base"
	}
	return c.ClientID
}
func (c *MqttConfig) Keepalive() time.Duration {
	return helpers.IntSecondDefault(c.KeepaliveSec, 30*time.Second)
}
func (c *MqttConfig) NetworkTimeout() time.Duration {
	return helpers.IntSecondDefault(c.NetworkTimeoutSec, 10*time.Second)
}

func (c *SerialConfig) BaudRate() int {
	if c.Baud <= 0 {
		return 115200
	}
	return c.Baud
}

func (c *LedConfig) ChipPath() string {
	if c.Chip == "" {
		return "/dev/gpiochip0"
	}
	return c.Chip
}
func (c *LedConfig) Pulse() time.Duration {
	return helpers.IntMillisecondDefault(c.PulseMs, 100*time.Millisecond)
}

// Validate checks semantic constraints after all sources are merged.
func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if _, err := c.NodeIds(); err != nil {
		errs = append(errs, err)
	}
	if c.Registry.Capacity < 0 {
		errs = append(errs, errors.NotValidf("config registry.capacity=%d", c.Registry.Capacity))
	}
	if c.Queue.Capacity < 0 || c.Queue.Inbox < 0 {
		errs = append(errs, errors.NotValidf("config queue capacity=%d inbox=%d", c.Queue.Capacity, c.Queue.Inbox))
	}
	if c.Relay.URL == "" {
		errs = append(errs, errors.NotValidf("config relay.url empty"))
	} else if !strings.HasPrefix(c.Relay.URL, "http://") && !strings.HasPrefix(c.Relay.URL, "https://") {
		errs = append(errs, errors.NotValidf("config relay.url=%s scheme", c.Relay.URL))
	}
	if c.Relay.MaxAttempts < 0 {
		errs = append(errs, errors.NotValidf("config relay.max_attempts=%d", c.Relay.MaxAttempts))
	}
	switch c.Guard.Prober {
	case "", ProberSysinfo:
	case ProberRuntime:
		if c.Guard.HeapLimitMb <= 0 {
			errs = append(errs, errors.NotValidf("config guard.prober=runtime requires heap_limit_mb"))
		}
	default:
		errs = append(errs, errors.NotValidf("config guard.prober=%s", c.Guard.Prober))
	}
	switch c.Transport.Kind {
	case "", TransportMqtt:
		if c.Transport.Mqtt.PeerLimit < 0 {
			errs = append(errs, errors.NotValidf("config transport.mqtt.peer_limit=%d", c.Transport.Mqtt.PeerLimit))
		}
	case TransportSerial:
		if c.Transport.Serial.Device == "" {
			errs = append(errs, errors.NotValidf("config transport.serial.device empty"))
		}
	case TransportNoop:
	default:
		errs = append(errs, errors.NotValidf("config transport.kind=%s", c.Transport.Kind))
	}
	if c.Led.Enable && c.Led.Pin < 0 {
		errs = append(errs, errors.NotValidf("config led.pin=%d", c.Led.Pin))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) TransportKind() string {
	if c.Transport.Kind == "" {
		return TransportMqtt
	}
	return c.Transport.Kind
}

func (c *Config) read(log *log2.Log, fs FullReader, source Source, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	switch strings.ToLower(filepath.Ext(norm)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bs, c)
	default:
		err = hcl.Unmarshal(bs, c)
	}
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s", source.Name)
		*errs = append(*errs, err)
		return
	}

	var includes []Source
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig merges sources in order, later values overwrite earlier.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		panic("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, Source{Name: name}, &errs)
	}
	if len(errs) == 0 {
		if err := c.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func (c *Config) String() string {
	return fmt.Sprintf("transport=%s relay=%s nodes=%d registry=%d queue=%d",
		c.TransportKind(), c.Relay.URL, len(c.Nodes), c.Registry.Capacity, c.Queue.Capacity)
}
