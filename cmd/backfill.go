package cmd

import (
	"fmt"

	"github.com/avereha/podcomm/pkg/backfill"

	"github.com/spf13/cobra"
)

var (
	backfillRx         string
	backfillIdentifier uint8
)

var backfillCmd = &cobra.Command{
	Use:   "backfill [fragment hex...]",
	Short: "Reassemble and decode a glucose backfill",
	Long: `Reassemble the fragments of a CGM glucose backfill in the order given, check
them against the backfill response and print the readings.

--rx is the 20 byte backfill response; it selects the identifier and the start
time and is used to verify the buffer length and CRC. Without it fragments for
--identifier are collected and times are offsets from 0.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillCmd.Flags().StringVar(&backfillRx, "rx", "", "Backfill response message (hex)")
	backfillCmd.Flags().Uint8Var(&backfillIdentifier, "identifier", 0, "Backfill identifier when --rx is not given")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	var rx *backfill.RxMessage
	id, start := backfillIdentifier, uint32(0)
	if backfillRx != "" {
		data, err := parseHex(backfillRx)
		if err != nil {
			return err
		}
		if rx, err = backfill.UnmarshalRxMessage(data); err != nil {
			return err
		}
		id, start = rx.Identifier, rx.StartTime
		fmt.Fprintf(out, "status %s, backfill status %d, identifier %d, %d-%d, %d bytes, crc 0x%04x\n",
			rx.Status, rx.BackfillStatus, rx.Identifier, rx.StartTime, rx.EndTime, rx.BufferLength, rx.BufferCRC)
	}

	buf := backfill.NewFrameBuffer(id)
	for _, a := range args {
		frag, err := parseHex(a)
		if err != nil {
			return err
		}
		buf.Append(frag)
	}
	fmt.Fprintf(out, "collected %d bytes, crc 0x%04x\n", buf.Count(), buf.CRC16())
	if rx != nil {
		if err := buf.Verify(rx); err != nil {
			return err
		}
	}
	for _, r := range buf.Readings(start) {
		flag := ""
		if r.DisplayOnly {
			flag = " (display only)"
		}
		fmt.Fprintf(out, "%10d  %3d mg/dL  state %d  trend %+d%s\n", r.Timestamp, r.Glucose, r.State, r.Trend, flag)
	}
	return nil
}
