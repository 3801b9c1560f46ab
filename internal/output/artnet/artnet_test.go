package artnet

import (
	"bytes"
	"net"
	"testing"
	"time"

	logx "lightd/pkg/logx"
)

func TestBuildDMXLayout(t *testing.T) {
	t.Parallel()
	pkt, err := BuildDMX(7, 0x0123, []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		'A', 'r', 't', '-', 'N', 'e', 't', 0,
		0x00, 0x50, // opcode
		0x00, 14, // protocol
		7, 0, // sequence, physical
		0x23, 0x01, // SubUni, Net
		0x00, 0x04, // length, padded to even
		1, 2, 3, 0,
	}
	if !bytes.Equal(pkt, want) {
		t.Fatalf("packet = % x\nwant     % x", pkt, want)
	}
}

func TestBuildDMXBounds(t *testing.T) {
	t.Parallel()
	if _, err := BuildDMX(1, 0, make([]byte, 513)); err == nil {
		t.Fatal("oversized payload accepted")
	}
	pkt, err := BuildDMX(1, 0x7FFF|0x8000, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(pkt) != headerLen+2 {
		t.Fatalf("empty payload len = %d", len(pkt))
	}
	if pkt[15] != 0x7F {
		t.Fatalf("net byte = %#x, top bit must be masked", pkt[15])
	}
}

func TestBuildSync(t *testing.T) {
	t.Parallel()
	want := []byte("Art-Net\x00\x00\x52\x00\x0e\x00\x00")
	if got := BuildSync(); !bytes.Equal(got, want) {
		t.Fatalf("sync = % x", got)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()
	cases := []Config{
		{Target: "not-an-ip"},
		{Target: "::1"},
		{BaseUniverse: 0x7FFF, Lines: 2},
		{BaseUniverse: -1},
	}
	for _, c := range cases {
		if _, err := New(c, logx.Nop()); err == nil {
			t.Fatalf("config %+v accepted", c)
		}
	}
}

func TestAdapterSendsSequencedFrames(t *testing.T) {
	t.Parallel()
	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("udp unavailable: %v", err)
	}
	defer rx.Close()
	port := rx.LocalAddr().(*net.UDPAddr).Port

	a, err := New(Config{Target: "127.0.0.1", Port: port, BaseUniverse: 3, Lines: 2}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if len(a.Outputs()) != 2 {
		t.Fatalf("Outputs = %v", a.Outputs())
	}
	if err := a.Write(1, []byte{1, 2}); err == nil {
		t.Fatal("write to closed line succeeded")
	}
	if err := a.Open(1); err != nil {
		t.Fatal(err)
	}
	defer a.Close(1)

	frame := make([]byte, 512)
	frame[0] = 200
	for i := 0; i < 2; i++ {
		if err := a.Write(1, frame); err != nil {
			t.Fatal(err)
		}
	}

	buf := make([]byte, 1024)
	for want := uint8(1); want <= 2; want++ {
		_ = rx.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := rx.ReadFromUDP(buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if n != headerLen+512 {
			t.Fatalf("packet len = %d", n)
		}
		if buf[12] != want {
			t.Fatalf("seq = %d, want %d", buf[12], want)
		}
		if buf[14] != 4 || buf[18] != 200 {
			t.Fatalf("universe %d first value %d", buf[14], buf[18])
		}
	}
}
