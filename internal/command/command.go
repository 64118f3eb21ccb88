// Package command turns inbound MQTT control messages into typed commands
// and hands them to the scheduler through a bounded queue.
package command

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	bridgeerrors "ez1-mqtt-bridge/internal/errors"
	"ez1-mqtt-bridge/internal/logger"
)

// DefaultQueueSize bounds the number of commands waiting for the scheduler
const DefaultQueueSize = 16

// ErrQueueFull is returned when the scheduler has not drained the queue
var ErrQueueFull = errors.New("command: queue full")

// Kind identifies a device write
type Kind int

const (
	SetPower Kind = iota + 1
	SetMaxPower
)

func (k Kind) String() string {
	switch k {
	case SetPower:
		return "set_power"
	case SetMaxPower:
		return "set_max_power"
	default:
		return "unknown"
	}
}

// Command is one validated device write
type Command struct {
	Kind  Kind
	On    bool
	Watts int
	// Topic the command arrived on
	Topic string
}

func (c Command) String() string {
	switch c.Kind {
	case SetPower:
		return fmt.Sprintf("%s(%v)", c.Kind, c.On)
	case SetMaxPower:
		return fmt.Sprintf("%s(%d)", c.Kind, c.Watts)
	}
	return c.Kind.String()
}

// Bridge validates inbound payloads on the MQTT delivery goroutine and queues
// them for the scheduler. It never touches the device.
type Bridge struct {
	queue    chan Command
	minPower int
	maxPower int
	log      logger.ILogger
}

// NewBridge creates a bridge with a queue of size commands. minPower and
// maxPower bound SetMaxPower; a zero maxPower disables the range check.
func NewBridge(size, minPower, maxPower int, log logger.ILogger) *Bridge {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = logger.NewStandardLogger()
	}
	return &Bridge{
		queue:    make(chan Command, size),
		minPower: minPower,
		maxPower: maxPower,
		log:      log,
	}
}

// Commands is the receive side consumed by the scheduler
func (b *Bridge) Commands() <-chan Command {
	return b.queue
}

// Submit enqueues cmd without blocking the caller
func (b *Bridge) Submit(cmd Command) error {
	select {
	case b.queue <- cmd:
		b.log.LogDebug("Queued command %s from %s", cmd, cmd.Topic)
		return nil
	default:
		return fmt.Errorf("%w: dropping %s", ErrQueueFull, cmd)
	}
}

// HandlePower is the message handler for the power switch command topic
func (b *Bridge) HandlePower(topic string, payload []byte) error {
	on, err := ParsePower(string(payload))
	if err != nil {
		return err
	}
	return b.Submit(Command{Kind: SetPower, On: on, Topic: topic})
}

// HandleMaxPower is the message handler for the output limit command topic
func (b *Bridge) HandleMaxPower(topic string, payload []byte) error {
	watts, err := ParseMaxPower(string(payload), b.minPower, b.maxPower)
	if err != nil {
		return err
	}
	return b.Submit(Command{Kind: SetMaxPower, Watts: watts, Topic: topic})
}

// ParsePower maps 1/on/true and 0/off/false (any case) to a switch state
func ParsePower(payload string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(payload)) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	}
	return false, bridgeerrors.NewValidationError("power status", "1/on/true or 0/off/false", payload)
}

// ParseMaxPower parses an output limit in W. Home Assistant number entities
// may send "600.0", so integral floats are accepted.
func ParseMaxPower(payload string, minPower, maxPower int) (int, error) {
	s := strings.TrimSpace(payload)

	watts, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			return 0, bridgeerrors.NewValidationError("max power", "integer watts", payload)
		}
		watts = int(f)
	}

	if maxPower > 0 && (watts < minPower || watts > maxPower) {
		return 0, bridgeerrors.NewValidationError("max power",
			fmt.Sprintf("%d..%d W", minPower, maxPower), watts)
	}
	return watts, nil
}
