package capture

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"github.com/aionmeter/aionmeter/internal/util"
)

// ErrReplayLine is wrapped by ParseReplayLine failures.
var ErrReplayLine = errors.New("invalid replay line")

// ReplayTimeLayout is the timestamp layout written by Recorder.
const ReplayTimeLayout = time.RFC3339Nano

var replayTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.0000000",
}

// ReplayConfig configures a text replay source.
type ReplayConfig struct {
	File     string
	Realtime bool
	Speed    float64
}

// ReplaySource plays back TIMESTAMP|STREAMKEY|HEX lines.
type ReplaySource struct {
	cfg    ReplayConfig
	logger zerolog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewReplaySource creates a replay source. A non-positive speed means 1.
func NewReplaySource(cfg ReplayConfig) *ReplaySource {
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	return &ReplaySource{
		cfg:    cfg,
		logger: util.ComponentLogger("replay"),
		sleep:  sleepContext,
	}
}

// Name implements Source.
func (r *ReplaySource) Name() string {
	return "replay:" + r.cfg.File
}

// Run implements Source.
func (r *ReplaySource) Run(ctx context.Context, out func(Packet)) error {
	f, err := os.Open(r.cfg.File)
	if err != nil {
		return fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	var in io.Reader = f
	if strings.HasSuffix(r.cfg.File, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to open zstd stream: %w", err)
		}
		defer dec.Close()
		in = dec
	}

	n, err := r.play(ctx, in, out)
	r.logger.Info().Str("file", r.cfg.File).Int("packets", n).Msg("replay finished")
	return err
}

func (r *ReplaySource) play(ctx context.Context, in io.Reader, out func(Packet)) (int, error) {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var prev time.Time
	count := 0
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		if err := ctx.Err(); err != nil {
			return count, nil
		}

		pkt, ok, err := ParseReplayLine(scanner.Text())
		if err != nil {
			r.logger.Debug().Err(err).Int("line", lineNo).Msg("skipping replay line")
			continue
		}
		if !ok {
			continue
		}

		if r.cfg.Realtime && !prev.IsZero() {
			if delay := pkt.Timestamp.Sub(prev); delay > 0 {
				if err := r.sleep(ctx, time.Duration(float64(delay)/r.cfg.Speed)); err != nil {
					return count, nil
				}
			}
		}
		prev = pkt.Timestamp

		out(pkt)
		count++
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("failed to read replay: %w", err)
	}
	return count, nil
}

// ParseReplayLine parses one replay line. Blank and comment lines return ok=false.
func ParseReplayLine(line string) (Packet, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Packet{}, false, nil
	}

	parts := strings.Split(line, "|")
	if len(parts) != 3 {
		return Packet{}, false, fmt.Errorf("%w: expected 3 fields, got %d", ErrReplayLine, len(parts))
	}

	ts, err := parseReplayTime(parts[0])
	if err != nil {
		return Packet{}, false, err
	}

	payload, err := hex.DecodeString(strings.ReplaceAll(parts[2], "-", ""))
	if err != nil {
		return Packet{}, false, fmt.Errorf("%w: bad hex: %v", ErrReplayLine, err)
	}

	return Packet{
		StreamKey: parts[1],
		Payload:   payload,
		Timestamp: ts,
		Ordered:   true,
	}, true, nil
}

func parseReplayTime(s string) (time.Time, error) {
	for _, layout := range replayTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrReplayLine, s)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder writes in-order stream payloads in the replay line format.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
	zw   *zstd.Encoder
	w    *bufio.Writer
}

// NewRecorder creates path, compressing with zstd when it ends in .zst.
func NewRecorder(path string) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	r := &Recorder{file: f}
	var dst io.Writer = f
	if strings.HasSuffix(path, ".zst") {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		r.zw = zw
		dst = zw
	}
	r.w = bufio.NewWriter(dst)
	fmt.Fprintf(r.w, "# aionmeter recording %s\n", time.Now().UTC().Format(ReplayTimeLayout))
	return r, nil
}

// Write appends one line.
func (r *Recorder) Write(ts time.Time, streamKey string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := fmt.Fprintf(r.w, "%s|%s|%s\n", ts.UTC().Format(ReplayTimeLayout), streamKey, strings.ToUpper(hex.EncodeToString(payload)))
	return err
}

// Close flushes and closes the recording.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.w.Flush(); err != nil {
		r.file.Close()
		return fmt.Errorf("failed to flush recording: %w", err)
	}
	if r.zw != nil {
		if err := r.zw.Close(); err != nil {
			r.file.Close()
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	return r.file.Close()
}
