package capture

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type recordingFilter struct {
	exprs []string
}

func (f *recordingFilter) SetBPFFilter(expr string) error {
	f.exprs = append(f.exprs, expr)
	return nil
}

func tcpPacket(t *testing.T, srcPort, dstPort uint16, seq uint32, payload []byte) gopacket.Packet {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IP{127, 0, 0, 1},
		DstIP:    net.IP{127, 0, 0, 1},
	}
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(srcPort),
		DstPort: layers.TCPPort(dstPort),
		Seq:     seq,
		ACK:     true,
		PSH:     true,
		Window:  1024,
	}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatalf("checksum layer: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return gopacket.NewPacket(buf.Bytes(), layers.LayerTypeEthernet, gopacket.Default)
}

func TestPcapSourceDetectsPortThenForwards(t *testing.T) {
	src := NewPcapSource(PcapConfig{AutoDetectPort: true, DetectionThreshold: 2})
	var detected uint16
	src.OnPortDetected = func(p uint16) { detected = p }

	filter := &recordingFilter{}
	var out []Packet
	emit := func(p Packet) { out = append(out, p) }

	beat := []byte{0x06, 0x00, 0x36}
	src.process(tcpPacket(t, 7777, 50000, 1, beat), filter, emit)
	src.process(tcpPacket(t, 7777, 50000, 4, beat), filter, emit)

	if detected != 7777 {
		t.Fatalf("detected port = %d", detected)
	}
	if len(filter.exprs) != 1 || filter.exprs[0] != "tcp src port 7777" {
		t.Fatalf("filters applied = %v", filter.exprs)
	}
	if len(out) != 0 {
		t.Fatalf("packets forwarded during detection: %d", len(out))
	}

	src.process(tcpPacket(t, 9999, 50000, 10, []byte{0x01}), filter, emit)
	src.process(tcpPacket(t, 7777, 50000, 7, []byte{0xAB, 0xCD}), filter, emit)

	if len(out) != 1 {
		t.Fatalf("forwarded %d packets, want 1", len(out))
	}
	p := out[0]
	if p.StreamKey != "Client:50000" || p.Seq != 7 || len(p.Payload) != 2 || p.Ordered {
		t.Fatalf("packet = %+v", p)
	}

	st := src.Stats()
	if st.GamePort != 7777 || st.Filtered != 1 || st.Payloads != 1 || st.Received != 4 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestPcapSourceFixedPort(t *testing.T) {
	src := NewPcapSource(PcapConfig{GamePort: 2106})
	var out []Packet
	src.process(tcpPacket(t, 2106, 40000, 1, []byte{0x01}), nil, func(p Packet) { out = append(out, p) })
	if len(out) != 1 || out[0].StreamKey != "Client:40000" {
		t.Fatalf("fixed port packets = %+v", out)
	}
}

func TestClientStreamKey(t *testing.T) {
	if got := ClientStreamKey(50000); got != "Client:50000" {
		t.Fatalf("ClientStreamKey = %q", got)
	}
}
