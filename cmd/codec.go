package cmd

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/avereha/podcomm/pkg/basal"
	"github.com/avereha/podcomm/pkg/config"
	"github.com/avereha/podcomm/pkg/crc"
	"github.com/avereha/podcomm/pkg/message"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
)

var (
	decodeWrapped   string
	basalGeneration string
)

var decodeCmd = &cobra.Command{
	Use:   "decode <hex>",
	Short: "Decode a pod message",
	Long: `Decode a hex encoded pod message (address, header, blocks and CRC) and dump
the decoded blocks.

With --wrapped the hex is first unwrapped from the command or response
envelope used on the websocket link.`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

var crcCmd = &cobra.Command{
	Use:   "crc <hex>",
	Short: "Compute the pod CRC-16 and CRC-16/XMODEM of some bytes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := parseHex(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pod:    0x%04x\nxmodem: 0x%04x\n", crc.Checksum(data), crc.XModem(data))
		return nil
	},
}

var basalCmd = &cobra.Command{
	Use:   "basal [HH:MM=rate...]",
	Short: "Show the delivery table and rate entries of a basal schedule",
	Long: `Show how a basal schedule is sent to the pod: the per segment delivery table
with its checksum and the pulse rate entries.

Entries are given as HH:MM=rate (U/h). Without arguments the basal section of
the configuration is used.`,
	RunE: runBasal,
}

func init() {
	rootCmd.AddCommand(decodeCmd, crcCmd, basalCmd)
	decodeCmd.Flags().StringVar(&decodeWrapped, "wrapped", "", "Unwrap the envelope first: command or response")
	basalCmd.Flags().StringVar(&basalGeneration, "generation", "", "Pod generation (defaults to the configured one)")
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	ret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return ret, nil
}

func runDecode(cmd *cobra.Command, args []string) error {
	data, err := parseHex(args[0])
	if err != nil {
		return err
	}
	switch decodeWrapped {
	case "":
	case "command":
		data, err = message.UnwrapCommand(data)
	case "response":
		data, err = message.UnwrapResponse(data)
	default:
		return fmt.Errorf("unknown envelope %q, want command or response", decodeWrapped)
	}
	if err != nil {
		return err
	}
	msg, err := message.Unmarshal(data)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "address 0x%08x seq %d followOn %t\n", msg.Address, msg.Sequence, msg.FollowOn)
	for _, b := range msg.Blocks {
		fmt.Fprintf(out, "%s\n%s", b.GetType(), spew.Sdump(b))
	}
	return nil
}

func runBasal(cmd *cobra.Command, args []string) error {
	c := *cfg
	if len(args) > 0 {
		c.Basal = nil
		for _, a := range args {
			start, rate, ok := strings.Cut(a, "=")
			if !ok {
				return fmt.Errorf("entry %q: want HH:MM=rate", a)
			}
			r, err := strconv.ParseFloat(rate, 64)
			if err != nil {
				return fmt.Errorf("entry %q: %w", a, err)
			}
			c.Basal = append(c.Basal, config.BasalConfig{Start: start, Rate: r})
		}
	}
	if basalGeneration != "" {
		c.Generation = basalGeneration
	}
	gen, err := c.PodGeneration()
	if err != nil {
		return err
	}
	schedule, err := c.Schedule()
	if err != nil {
		return err
	}

	table, err := basal.NewDeliveryTable(schedule, gen)
	if err != nil {
		return err
	}
	enc, err := table.Marshal()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "daily total %.2f U, %d pulses, checksum 0x%04x\n", schedule.DailyTotal(), table.TotalPulses(), table.Checksum())
	fmt.Fprintf(out, "table %x\n", enc)
	for _, e := range table.Entries {
		fmt.Fprintf(out, "  %2d segments x %3d pulses alternate=%t\n", e.Segments, e.Pulses, e.AlternateSegmentPulse)
	}
	fmt.Fprintln(out, "rate entries")
	for _, r := range basal.NewScheduleRateEntries(schedule, gen) {
		fmt.Fprintf(out, "  %x  %.2f U/h for %s\n", r.Marshal(), r.Rate(), r.Duration())
	}
	return nil
}
