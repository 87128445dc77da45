package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aionmeter/aionmeter/internal/cli"
	"github.com/aionmeter/aionmeter/internal/protocol"
	"github.com/aionmeter/aionmeter/internal/util"
)

// parseHexFrame accepts plain, spaced or dash separated hex.
func parseHexFrame(s string) ([]byte, error) {
	clean := strings.NewReplacer(" ", "", "-", "", ":", "", "\n", "", "\t", "").Replace(s)
	clean = strings.TrimPrefix(strings.ToLower(clean), "0x")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex frame: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	return data, nil
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <hex>",
		Short: "Decode one damage frame and show where every field sits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := util.InitLogger(util.LogConfig{Level: "warn", Console: true}); err != nil {
				return err
			}

			frame, err := parseHexFrame(strings.Join(args, ""))
			if err != nil {
				return err
			}

			decoder := protocol.NewDecoder(protocol.DecoderOptions{Diagnostics: true})
			kind := protocol.Classify(frame)
			fmt.Printf("frame: %d bytes, kind %s\n\n", len(frame), kind)

			switch kind {
			case protocol.FrameDirectDamage:
				return decodeOne(decoder, frame)
			case protocol.FrameBatchDamage:
				batch := protocol.ExtractBatch(frame)
				fmt.Printf("batch: %d sub-frames, %d remainders\n\n", len(batch.Frames), len(batch.Remainders))
				for i, sub := range batch.Frames {
					fmt.Printf("sub-frame %d: %s\n", i, protocol.HexDump(sub))
					if err := decodeOne(decoder, sub); err != nil {
						fmt.Printf("  %v\n", err)
					}
					fmt.Println()
				}
				for i, rem := range batch.Remainders {
					fmt.Printf("remainder %d: %s\n", i, protocol.HexDump(rem))
				}
				return nil
			default:
				return fmt.Errorf("frame kind %s carries no damage", kind)
			}
		},
	}
}

func decodeOne(decoder *protocol.Decoder, frame []byte) error {
	rec, err := decoder.DecodeDirect(frame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			return fmt.Errorf("decode failed at %s (offset %d): %w", de.Field, de.Offset, err)
		}
		return fmt.Errorf("decode failed: %w", err)
	}
	cli.RenderDecode(os.Stdout, frame, rec)
	return nil
}
