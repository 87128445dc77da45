package protocol

import (
	"sort"
	"sync"
)

type streamFramer struct {
	mu     sync.Mutex
	framer *Framer
}

// StreamBuffers holds one Framer per stream key. Calls for the same stream
// are serialized; different streams proceed independently.
type StreamBuffers struct {
	mu       sync.RWMutex
	streams  map[string]*streamFramer
	observer FramerObserver
}

// NewStreamBuffers creates an empty registry. observer may be nil.
func NewStreamBuffers(observer FramerObserver) *StreamBuffers {
	return &StreamBuffers{
		streams:  make(map[string]*streamFramer),
		observer: observer,
	}
}

func (s *StreamBuffers) get(key string) *streamFramer {
	s.mu.RLock()
	sf, ok := s.streams[key]
	s.mu.RUnlock()
	if ok {
		return sf
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sf, ok = s.streams[key]; ok {
		return sf
	}
	sf = &streamFramer{framer: NewFramer(key, s.observer)}
	s.streams[key] = sf
	return sf
}

// Process appends data to the stream's framer and emits complete frames in
// stream order. emit runs under the stream lock.
func (s *StreamBuffers) Process(key string, data []byte, emit func(Frame)) {
	if len(data) == 0 {
		return
	}
	sf := s.get(key)
	sf.mu.Lock()
	defer sf.mu.Unlock()
	sf.framer.Append(data, emit)
}

// Clear resets every stream framer and forgets all streams.
func (s *StreamBuffers) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sf := range s.streams {
		sf.mu.Lock()
		sf.framer.Clear()
		sf.mu.Unlock()
	}
	s.streams = make(map[string]*streamFramer)
}

// ClearStream resets a single stream.
func (s *StreamBuffers) ClearStream(key string) {
	s.mu.Lock()
	sf, ok := s.streams[key]
	delete(s.streams, key)
	s.mu.Unlock()
	if ok {
		sf.mu.Lock()
		sf.framer.Clear()
		sf.mu.Unlock()
	}
}

// ActiveStreams returns the number of known streams.
func (s *StreamBuffers) ActiveStreams() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

// StreamInfo is a point-in-time view of one stream framer.
type StreamInfo struct {
	Key      string      `json:"key"`
	Synced   bool        `json:"synced"`
	Buffered int         `json:"buffered"`
	Stats    FramerStats `json:"stats"`
}

// Snapshot returns per-stream framer state sorted by key.
func (s *StreamBuffers) Snapshot() []StreamInfo {
	s.mu.RLock()
	list := make([]*streamFramer, 0, len(s.streams))
	for _, sf := range s.streams {
		list = append(list, sf)
	}
	s.mu.RUnlock()

	infos := make([]StreamInfo, 0, len(list))
	for _, sf := range list {
		sf.mu.Lock()
		infos = append(infos, StreamInfo{
			Key:      sf.framer.key,
			Synced:   sf.framer.Synced(),
			Buffered: sf.framer.Buffered(),
			Stats:    sf.framer.Stats(),
		})
		sf.mu.Unlock()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}
