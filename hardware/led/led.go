// Package led blinks activity LED on a GPIO character device line.
// Nil *Led is valid and does nothing.
package led

import (
	"time"

	"github.com/juju/errors"
	gpio "github.com/temoto/gpio-cdev-go"
)

const consumer = "basestation-led"

type Led struct {
	chip  gpio.Chiper // only for resource cleanup
	lines gpio.Lineser
	set   gpio.LineSetFunc
	pulse time.Duration
	on    bool
	until time.Time
}

func Open(chipPath string, pin int, pulse time.Duration) (*Led, error) {
	chip, err := gpio.Open(chipPath, consumer)
	if err != nil {
		return nil, errors.Annotatef(err, "led gpio open chip=%s", chipPath)
	}
	self, err := New(chip, pin, pulse)
	if err != nil {
		chip.Close()
		return nil, err
	}
	return self, nil
}

// New takes ownership of chip.
func New(chip gpio.Chiper, pin int, pulse time.Duration) (*Led, error) {
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, consumer, uint32(pin))
	if err != nil {
		return nil, errors.Annotatef(err, "led gpio open line=%d", pin)
	}
	self := &Led{
		chip:  chip,
		lines: lines,
		set:   lines.SetFunc(uint32(pin)),
		pulse: pulse,
	}
	return self, self.write(false)
}

// Pulse turns LED on until now+pulse. Called on each trigger sent.
func (self *Led) Pulse(now time.Time) error {
	if self == nil {
		return nil
	}
	self.until = now.Add(self.pulse)
	if self.on {
		return nil
	}
	return self.write(true)
}

// Tick turns LED off after pulse expired.
func (self *Led) Tick(now time.Time) error {
	if self == nil || !self.on || now.Before(self.until) {
		return nil
	}
	return self.write(false)
}

func (self *Led) On() bool { return self != nil && self.on }

func (self *Led) Close() error {
	if self == nil {
		return nil
	}
	_ = self.write(false)
	err1 := self.lines.Close()
	err2 := self.chip.Close()
	if err1 != nil {
		return errors.Annotate(err1, "led lines close")
	}
	return errors.Annotate(err2, "led chip close")
}

func (self *Led) write(on bool) error {
	var v byte
	if on {
		v = 1
	}
	self.set(v)
	if err := self.lines.Flush(); err != nil {
		return errors.Annotate(err, "led gpio flush")
	}
	self.on = on
	return nil
}
