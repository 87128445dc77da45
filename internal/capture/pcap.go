package capture

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/util"
)

// StatsInterval is how often capture statistics are logged.
const StatsInterval = 5 * time.Second

// PcapConfig configures a live or offline pcap source.
type PcapConfig struct {
	Device             string
	File               string
	Snaplen            int
	Promiscuous        bool
	BPF                string
	AutoDetectPort     bool
	DetectionThreshold int
	GamePort           uint16
}

// CaptureStats counts what the source has seen.
type CaptureStats struct {
	Received    uint64 `json:"received"`
	Payloads    uint64 `json:"payloads"`
	Filtered    uint64 `json:"filtered"`
	DriverDrops uint64 `json:"driver_drops"`
	GamePort    uint16 `json:"game_port"`
}

type filterSetter interface {
	SetBPFFilter(expr string) error
}

// PcapSource reads TCP segments through libpcap.
type PcapSource struct {
	cfg      PcapConfig
	detector *PortDetector
	logger   zerolog.Logger

	// OnPortDetected is called once the game port is locked.
	OnPortDetected func(port uint16)

	received    atomic.Uint64
	payloads    atomic.Uint64
	filtered    atomic.Uint64
	driverDrops atomic.Uint64
}

// NewPcapSource creates a pcap source.
func NewPcapSource(cfg PcapConfig) *PcapSource {
	if cfg.Snaplen <= 0 {
		cfg.Snaplen = 65535
	}
	if cfg.BPF == "" {
		cfg.BPF = "tcp"
	}
	s := &PcapSource{
		cfg:      cfg,
		detector: NewPortDetector(cfg.DetectionThreshold),
		logger:   util.ComponentLogger("pcap"),
	}
	if cfg.GamePort != 0 {
		s.detector.Lock(cfg.GamePort)
	}
	return s
}

// Name implements Source.
func (s *PcapSource) Name() string {
	if s.cfg.File != "" {
		return "pcap-file:" + s.cfg.File
	}
	return "pcap:" + s.cfg.Device
}

// Stats returns capture counters.
func (s *PcapSource) Stats() CaptureStats {
	return CaptureStats{
		Received:    s.received.Load(),
		Payloads:    s.payloads.Load(),
		Filtered:    s.filtered.Load(),
		DriverDrops: s.driverDrops.Load(),
		GamePort:    s.detector.Port(),
	}
}

func (s *PcapSource) open() (*pcap.Handle, error) {
	if s.cfg.File != "" {
		handle, err := pcap.OpenOffline(s.cfg.File)
		if err != nil {
			return nil, fmt.Errorf("failed to open pcap file %s: %w", s.cfg.File, err)
		}
		return handle, nil
	}

	device := s.cfg.Device
	if device == "" {
		found, err := FindLoopbackDevice()
		if err != nil {
			return nil, err
		}
		device = found
	}

	handle, err := pcap.OpenLive(device, int32(s.cfg.Snaplen), s.cfg.Promiscuous, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", device, err)
	}
	s.cfg.Device = device
	return handle, nil
}

// FindLoopbackDevice returns the first capture device that looks like loopback.
func FindLoopbackDevice() (string, error) {
	devices, err := pcap.FindAllDevs()
	if err != nil {
		return "", fmt.Errorf("failed to list capture devices: %w", err)
	}
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Description), "loopback") ||
			strings.Contains(strings.ToLower(d.Name), "loopback") || d.Name == "lo" {
			return d.Name, nil
		}
	}
	return "", fmt.Errorf("no loopback capture device found among %d devices", len(devices))
}

// Run implements Source. It returns nil when the context is cancelled or
// an offline file is exhausted.
func (s *PcapSource) Run(ctx context.Context, out func(Packet)) error {
	handle, err := s.open()
	if err != nil {
		return err
	}
	defer handle.Close()

	filter := s.cfg.BPF
	if port := s.detector.Port(); port != 0 {
		filter = GameFilter(port)
	}
	if err := handle.SetBPFFilter(filter); err != nil {
		return fmt.Errorf("failed to set bpf filter %q: %w", filter, err)
	}

	s.logger.Info().
		Str("source", s.Name()).
		Str("filter", filter).
		Bool("auto_detect", s.cfg.AutoDetectPort).
		Msg("capture started, waiting for game stream")

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := packetSource.Packets()

	ticker := time.NewTicker(StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("capture stopped")
			return nil
		case <-ticker.C:
			s.logStats(handle)
		case pkt, ok := <-packets:
			if !ok {
				s.logger.Info().Uint64("received", s.received.Load()).Msg("capture input exhausted")
				return nil
			}
			s.process(pkt, handle, out)
		}
	}
}

func (s *PcapSource) process(pkt gopacket.Packet, filter filterSetter, out func(Packet)) {
	s.received.Add(1)

	tcpLayer := pkt.Layer(layers.LayerTypeTCP)
	if tcpLayer == nil {
		return
	}
	tcp, ok := tcpLayer.(*layers.TCP)
	if !ok || len(tcp.Payload) == 0 {
		return
	}

	srcPort := uint16(tcp.SrcPort)
	port := s.detector.Port()

	if port == 0 && s.cfg.AutoDetectPort {
		detected, locked := s.detector.Observe(srcPort, tcp.Payload)
		if !locked {
			return
		}
		s.applyGameFilter(detected, filter)
		return
	}

	if port != 0 && srcPort != port {
		s.filtered.Add(1)
		return
	}

	s.payloads.Add(1)
	out(Packet{
		StreamKey: ClientStreamKey(uint16(tcp.DstPort)),
		Seq:       tcp.Seq,
		SYN:       tcp.SYN,
		FIN:       tcp.FIN,
		Payload:   tcp.Payload,
		Timestamp: pkt.Metadata().Timestamp,
	})
}

func (s *PcapSource) applyGameFilter(port uint16, filter filterSetter) {
	expr := GameFilter(port)
	if filter != nil {
		if err := filter.SetBPFFilter(expr); err != nil {
			s.logger.Error().Err(err).Str("filter", expr).Msg("failed to apply game filter")
		}
	}
	s.logger.Info().
		Uint16("port", port).
		Str("filter", expr).
		Msg("game stream found")

	if s.OnPortDetected != nil {
		s.OnPortDetected(port)
	}
}

func (s *PcapSource) logStats(handle *pcap.Handle) {
	stats, err := handle.Stats()
	if err != nil {
		return
	}
	s.driverDrops.Store(uint64(stats.PacketsDropped))
	s.logger.Info().
		Int("recv", stats.PacketsReceived).
		Int("driver_drops", stats.PacketsDropped).
		Int("if_drops", stats.PacketsIfDropped).
		Uint64("payloads", s.payloads.Load()).
		Msg("capture stats")
}
