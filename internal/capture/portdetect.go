package capture

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/util"
)

// HeartbeatPattern is the keep-alive byte sequence the game server sends.
var HeartbeatPattern = []byte{0x06, 0x00, 0x36}

// DefaultDetectionThreshold is the number of heartbeat hits that locks a port.
const DefaultDetectionThreshold = 5

// PortDetector finds the game server port by counting heartbeat patterns
// per source port.
type PortDetector struct {
	mu        sync.Mutex
	threshold int
	hits      map[uint16]int
	port      uint16
	logger    zerolog.Logger
}

// NewPortDetector returns a detector that locks after threshold hits.
func NewPortDetector(threshold int) *PortDetector {
	if threshold <= 0 {
		threshold = DefaultDetectionThreshold
	}
	return &PortDetector{
		threshold: threshold,
		hits:      make(map[uint16]int),
		logger:    util.ComponentLogger("portdetect"),
	}
}

// Observe inspects one payload from srcPort. It returns the detected port
// and true on the call that reaches the threshold.
func (d *PortDetector) Observe(srcPort uint16, payload []byte) (uint16, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != 0 || len(payload) < len(HeartbeatPattern) {
		return 0, false
	}
	if !bytes.Contains(payload, HeartbeatPattern) {
		return 0, false
	}

	d.hits[srcPort]++
	hits := d.hits[srcPort]
	if hits == 1 || hits == d.threshold {
		d.logger.Debug().
			Uint16("port", srcPort).
			Int("hits", hits).
			Int("threshold", d.threshold).
			Msg("heartbeat pattern seen")
	}

	if hits < d.threshold {
		return 0, false
	}

	d.port = srcPort
	d.hits = make(map[uint16]int)
	return srcPort, true
}

// Port returns the detected port, or 0.
func (d *PortDetector) Port() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port
}

// Lock fixes the port without detection.
func (d *PortDetector) Lock(port uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.port = port
	d.hits = make(map[uint16]int)
}

// Reset forgets the detected port and all candidates.
func (d *PortDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.port = 0
	d.hits = make(map[uint16]int)
}

// GameFilter is the BPF expression that narrows capture to the game port.
func GameFilter(port uint16) string {
	return fmt.Sprintf("tcp src port %d", port)
}
