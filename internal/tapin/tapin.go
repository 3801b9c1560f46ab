// Package tapin turns MIDI note presses into bus tap-tempo taps.
package tapin

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"golang.org/x/time/rate"

	"lightd/internal/bus"
	logx "lightd/pkg/logx"
)

// AnyChannel accepts the note on every MIDI channel.
const AnyChannel = -1

// MinTapGap drops contact bounce; no human taps faster than this.
const MinTapGap = 60 * time.Millisecond

type Config struct {
	Port    string // case-insensitive substring of the input port name
	Note    uint8
	Channel int
	Bus     bus.ID
}

// Tapper receives taps. *bus.Registry implements it.
type Tapper interface {
	Tap(id bus.ID, at time.Time) bool
}

type Listener struct {
	cfg    Config
	tapper Tapper
	log    logx.Logger

	mu      sync.Mutex
	limiter *rate.Limiter
	stop    func()
	taps    uint64
}

func New(cfg Config, tapper Tapper, log logx.Logger) *Listener {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Listener{
		cfg:     cfg,
		tapper:  tapper,
		log:     log.With(logx.String("comp", "tapin")),
		limiter: rate.NewLimiter(rate.Every(MinTapGap), 1),
	}
}

// Handle processes one message received at the given time and reports
// whether it produced a tap.
func (l *Listener) Handle(msg midi.Message, at time.Time) bool {
	var ch, key, vel uint8
	if !msg.GetNoteStart(&ch, &key, &vel) {
		return false
	}
	if key != l.cfg.Note || (l.cfg.Channel != AnyChannel && int(ch) != l.cfg.Channel) {
		return false
	}
	l.mu.Lock()
	ok := l.limiter.AllowN(at, 1)
	if ok {
		l.taps++
	}
	l.mu.Unlock()
	if !ok {
		l.log.Debug("tap debounced", logx.Int("note", int(key)))
		return false
	}
	return l.tapper.Tap(l.cfg.Bus, at)
}

func (l *Listener) Taps() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.taps
}

// FindInPort returns the first input port whose name contains substr.
func FindInPort(substr string) (drivers.In, error) {
	lower := strings.ToLower(substr)
	for _, port := range midi.GetInPorts() {
		if strings.Contains(strings.ToLower(port.String()), lower) {
			return port, nil
		}
	}
	return nil, fmt.Errorf("no MIDI input port matching %q", substr)
}

// Start opens the configured port and listens until Stop. A driver must be
// linked into the binary.
func (l *Listener) Start(ctx context.Context) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return nil
	}
	port, err := FindInPort(l.cfg.Port)
	if err != nil {
		return err
	}
	stop, err := midi.ListenTo(port, func(msg midi.Message, _ int32) {
		l.Handle(msg, time.Now())
	}, midi.HandleError(func(err error) {
		l.log.Warn("midi listener error", logx.String("port", port.String()), logx.Err(err))
	}))
	if err != nil {
		return fmt.Errorf("listen %s: %w", port.String(), err)
	}
	l.stop = stop
	l.log.Info("listening for taps", logx.String("port", port.String()), logx.Int("note", int(l.cfg.Note)), logx.Uint32("bus", uint32(l.cfg.Bus)))
	return nil
}

func (l *Listener) Stop() {
	l.mu.Lock()
	stop := l.stop
	l.stop = nil
	l.mu.Unlock()
	if stop != nil {
		stop()
	}
}
