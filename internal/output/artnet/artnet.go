// Package artnet sends universes as ArtDMX packets over UDP.
package artnet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"

	logx "lightd/pkg/logx"
)

const (
	Name = "artnet"
	Port = 6454

	opDMX   = 0x5000
	opSync  = 0x5200
	version = 14

	headerLen = 18
)

var id = []byte("Art-Net\x00")

type Config struct {
	// Target is a unicast or broadcast IPv4 address. Empty means
	// 255.255.255.255.
	Target string `json:"target"`
	Port   int    `json:"port"`
	// BaseUniverse is the 15-bit port address of line 0.
	BaseUniverse int  `json:"base_universe"`
	Lines        int  `json:"lines"`
	Sync         bool `json:"sync"`
}

type line struct {
	open bool
	seq  uint8
}

type Adapter struct {
	cfg  Config
	log  logx.Logger
	dst  *net.UDPAddr
	mu   sync.Mutex
	conn *net.UDPConn
	ls   []line
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Lines <= 0 {
		cfg.Lines = 4
	}
	if cfg.Port <= 0 {
		cfg.Port = Port
	}
	if cfg.BaseUniverse < 0 || cfg.BaseUniverse+cfg.Lines-1 > 0x7FFF {
		return nil, fmt.Errorf("artnet: base universe %d out of range", cfg.BaseUniverse)
	}
	ip := net.IPv4bcast
	if cfg.Target != "" {
		ip = net.ParseIP(cfg.Target)
		if ip == nil || ip.To4() == nil {
			return nil, fmt.Errorf("artnet: invalid target %q", cfg.Target)
		}
	}
	return &Adapter{
		cfg: cfg,
		log: log.With(logx.String("comp", "artnet")),
		dst: &net.UDPAddr{IP: ip, Port: cfg.Port},
		ls:  make([]line, cfg.Lines),
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Outputs() []string {
	out := make([]string, len(a.ls))
	for i := range out {
		out[i] = fmt.Sprintf("%s universe %d", a.dst.IP, a.cfg.BaseUniverse+i)
	}
	return out
}

// Open starts the line. The UDP socket is shared by every line and is
// created on first use; Go enables SO_BROADCAST on datagram sockets.
func (a *Adapter) Open(l int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l < 0 || l >= len(a.ls) {
		return fmt.Errorf("artnet line %d out of range", l)
	}
	if a.conn == nil {
		c, err := net.ListenUDP("udp4", nil)
		if err != nil {
			return fmt.Errorf("artnet listen: %w", err)
		}
		a.conn = c
		a.log.Info("sending Art-Net", logx.String("target", a.dst.String()))
	}
	a.ls[l] = line{open: true, seq: 1}
	return nil
}

func (a *Adapter) Close(l int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l < 0 || l >= len(a.ls) {
		return fmt.Errorf("artnet line %d out of range", l)
	}
	a.ls[l].open = false
	for _, x := range a.ls {
		if x.open {
			return nil
		}
	}
	if a.conn == nil {
		return nil
	}
	err := a.conn.Close()
	a.conn = nil
	return err
}

func (a *Adapter) Write(l int, frame []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if l < 0 || l >= len(a.ls) {
		return fmt.Errorf("artnet line %d out of range", l)
	}
	if !a.ls[l].open || a.conn == nil {
		return fmt.Errorf("artnet line %d is closed", l)
	}
	seq := a.ls[l].seq
	// 0 disables sequencing on receivers.
	if a.ls[l].seq++; a.ls[l].seq == 0 {
		a.ls[l].seq = 1
	}
	pkt, err := BuildDMX(seq, uint16(a.cfg.BaseUniverse+l), frame)
	if err != nil {
		return err
	}
	if _, err := a.conn.WriteToUDP(pkt, a.dst); err != nil {
		return fmt.Errorf("artnet send: %w", err)
	}
	if a.cfg.Sync {
		if _, err := a.conn.WriteToUDP(BuildSync(), a.dst); err != nil {
			return fmt.Errorf("artnet sync: %w", err)
		}
	}
	return nil
}

// BuildDMX encodes one ArtDMX packet. The payload is padded to an even
// length of at least 2 bytes.
func BuildDMX(seq uint8, portAddress uint16, data []byte) ([]byte, error) {
	if len(data) > 512 {
		return nil, errors.New("artnet: dmx payload longer than 512")
	}
	n := len(data)
	if n < 2 {
		n = 2
	}
	if n%2 == 1 {
		n++
	}
	pkt := make([]byte, headerLen+n)
	copy(pkt, id)
	binary.LittleEndian.PutUint16(pkt[8:], opDMX)
	binary.BigEndian.PutUint16(pkt[10:], version)
	pkt[12] = seq
	pkt[13] = 0 // physical
	pkt[14] = byte(portAddress & 0xFF)
	pkt[15] = byte((portAddress >> 8) & 0x7F)
	binary.BigEndian.PutUint16(pkt[16:], uint16(n))
	copy(pkt[headerLen:], data)
	return pkt, nil
}

// BuildSync encodes an ArtSync packet.
func BuildSync() []byte {
	pkt := make([]byte, 14)
	copy(pkt, id)
	binary.LittleEndian.PutUint16(pkt[8:], opSync)
	binary.BigEndian.PutUint16(pkt[10:], version)
	return pkt
}
