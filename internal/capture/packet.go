// Package capture produces ordered TCP payloads from live devices, pcap
// files and text replays.
package capture

import (
	"context"
	"fmt"
	"time"
)

// Packet is one TCP segment worth of payload for a logical stream.
type Packet struct {
	StreamKey string
	Seq       uint32
	SYN       bool
	FIN       bool
	Payload   []byte
	Timestamp time.Time

	// Ordered marks payloads that are already in stream order, such as
	// replayed captures. The sequencer is bypassed for them.
	Ordered bool
}

// Source delivers packets until the context is cancelled or input ends.
type Source interface {
	Name() string
	Run(ctx context.Context, out func(Packet)) error
}

// ClientStreamKey names the stream for traffic delivered to a local client port.
func ClientStreamKey(dstPort uint16) string {
	return fmt.Sprintf("Client:%d", dstPort)
}
