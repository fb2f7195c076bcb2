package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/avereha/podcomm/pkg/alert"
	"github.com/avereha/podcomm/pkg/command"
	"github.com/avereha/podcomm/pkg/pod"
	"github.com/avereha/podcomm/pkg/response"
	"github.com/avereha/podcomm/pkg/transport"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	setupAddress      uint32
	setupSeed         uint16
	setupLowReservoir float64
	setupPoll         time.Duration
	setupForce        bool

	statusDetailed bool
)

const (
	faultConfigTab5Sub16 = 0
	faultConfigTab5Sub17 = 2

	activationTimeout = 5 * time.Minute
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Pair and activate a new pod",
	Long: `Pair and activate a new pod: assign its address, set it up, configure faults
and the low reservoir alert, prime, program the configured basal schedule and
insert the cannula. The state is written to state_file.`,
	Args: cobra.NoArgs,
	RunE: runSetup,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read the pod status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *pod.Session) error {
			if statusDetailed {
				d, err := s.GetDetailedStatus(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "fault %s, minutes active %d\n", d.FaultCode, d.MinutesActive)
			} else if _, err := s.GetStatus(ctx); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), s.State())
			return nil
		})
	},
}

var bolusCmd = &cobra.Command{
	Use:   "bolus <units>",
	Short: "Deliver a bolus",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		units, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *pod.Session) error {
			if _, err := s.Bolus(ctx, units); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), s.State())
			return nil
		})
	},
}

var tempBasalCmd = &cobra.Command{
	Use:   "temp-basal <rate> <duration>",
	Short: "Set a temp basal",
	Long: `Set a temp basal of rate U/h for duration (a Go duration such as 30m or 2h30m,
in 30 minute steps).`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return err
		}
		return withSession(cmd, func(ctx context.Context, s *pod.Session) error {
			if _, err := s.SetTempBasal(ctx, rate, d); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), s.State())
			return nil
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:       "cancel <bolus|temp-basal|basal|all>...",
	Short:     "Cancel deliveries",
	Args:      cobra.MinimumNArgs(1),
	ValidArgs: []string{"bolus", "temp-basal", "basal", "all"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var what command.DeliveryType
		for _, a := range args {
			switch a {
			case "bolus":
				what |= command.CancelBolus
			case "temp-basal":
				what |= command.CancelTempBasal
			case "basal":
				what |= command.CancelBasal
			case "all":
				what |= command.CancelAll
			default:
				return fmt.Errorf("unknown delivery %q", a)
			}
		}
		return withSession(cmd, func(ctx context.Context, s *pod.Session) error {
			if _, err := s.CancelDelivery(ctx, what, alert.BeepBeeeep); err != nil {
				return err
			}
			printState(cmd.OutOrStdout(), s.State())
			return nil
		})
	},
}

var deactivateCmd = &cobra.Command{
	Use:   "deactivate",
	Short: "Deactivate the pod and forget its state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(ctx context.Context, s *pod.Session) error {
			if _, err := s.Deactivate(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "pod deactivated")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(setupCmd, statusCmd, bolusCmd, tempBasalCmd, cancelCmd, deactivateCmd)

	setupCmd.Flags().Uint32Var(&setupAddress, "address", 0, "Pod address (random when 0)")
	setupCmd.Flags().Uint16Var(&setupSeed, "seed", 0, "Nonce seed (random when 0)")
	setupCmd.Flags().Float64Var(&setupLowReservoir, "low-reservoir", 10, "Low reservoir alert level in units, 0 to disable")
	setupCmd.Flags().DurationVar(&setupPoll, "poll", 5*time.Second, "Status poll interval while priming and inserting")
	setupCmd.Flags().BoolVar(&setupForce, "force", false, "Overwrite an existing state file")

	statusCmd.Flags().BoolVarP(&statusDetailed, "detailed", "d", false, "Read the detailed status")
}

func dial(ctx context.Context) (*transport.WebSocket, error) {
	opts := []transport.Option{transport.WithTimeout(cfg.Timeout())}
	sealer, err := cfg.Sealer()
	if err != nil {
		return nil, err
	}
	if sealer != nil {
		opts = append(opts, transport.WithSealer(sealer))
	}
	return transport.Dial(ctx, cfg.Transport.URL, opts...)
}

// withSession loads the saved pod state and runs f on a session over a fresh
// connection.
func withSession(cmd *cobra.Command, f func(ctx context.Context, s *pod.Session) error) error {
	state, err := pod.LoadState(cfg.StateFile)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: no state in %s, run setup first", pod.ErrNoPod, cfg.StateFile)
	}
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	ws, err := dial(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	return f(ctx, pod.NewSession(ws, state))
}

func runSetup(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(cfg.StateFile); err == nil && !setupForce {
		return fmt.Errorf("%s exists, deactivate the current pod or use --force", cfg.StateFile)
	}
	gen, err := cfg.PodGeneration()
	if err != nil {
		return err
	}
	ins, err := cfg.Insulin()
	if err != nil {
		return err
	}
	schedule, err := cfg.Schedule()
	if err != nil {
		return err
	}
	address, seed := setupAddress, setupSeed
	if address == 0 {
		// keep clear of the broadcast address
		address = 0x1f000000 | uint32(rand.Int63n(1<<24))
	}
	if seed == 0 {
		seed = uint16(rand.Int63n(1<<16-1) + 1)
	}

	ctx := cmd.Context()
	ws, err := dial(ctx)
	if err != nil {
		return err
	}
	defer ws.Close()
	s := pod.NewSession(ws, pod.NewState(cfg.StateFile, address, gen, ins))
	out := cmd.OutOrStdout()

	v, err := s.AssignAddress(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "pod lot %d tid %d firmware %s/%s\n", v.Lot, v.TID, v.PMVersion, v.PIVersion)
	if _, err := s.SetupPod(ctx, seed); err != nil {
		return err
	}
	if _, err := s.ConfigureFaults(ctx, faultConfigTab5Sub16, faultConfigTab5Sub17); err != nil {
		return err
	}
	if setupLowReservoir > 0 {
		low := alert.Configuration{
			Slot:       alert.SlotLowReservoir,
			Active:     true,
			Trigger:    alert.UnitsRemaining{Units: setupLowReservoir},
			BeepRepeat: alert.RepeatEvery1MinuteFor3MinutesAndRepeatEvery60Minutes,
			BeepType:   alert.BeepBipBeeepBipBeeepBipBeeep,
		}
		if _, err := s.ConfigureAlerts(ctx, []alert.Configuration{low}); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, "priming")
	if _, err := s.Prime(ctx); err != nil {
		return err
	}
	if err := waitForProgress(ctx, s, response.PodProgressPrimingCompleted); err != nil {
		return err
	}

	fmt.Fprintln(out, "inserting cannula")
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if _, err := s.InsertCannula(ctx, schedule, now.Sub(midnight)); err != nil {
		return err
	}
	if err := waitForProgress(ctx, s, response.PodProgressRunningAbove50U); err != nil {
		return err
	}
	printState(out, s.State())
	return nil
}

// waitForProgress polls the status until the pod reaches want or faults.
func waitForProgress(ctx context.Context, s *pod.Session, want response.PodProgress) error {
	ctx, cancel := context.WithTimeout(ctx, activationTimeout)
	defer cancel()
	t := time.NewTicker(setupPoll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", want, ctx.Err())
		case <-t.C:
		}
		st, err := s.GetStatus(ctx)
		if err != nil {
			return err
		}
		log.Debugf("progress %s", st.PodProgress)
		if st.PodProgress.Faulted() {
			return pod.ErrPodFaulted
		}
		if st.PodProgress >= want {
			return nil
		}
	}
}

func printState(out io.Writer, st *pod.PodState) {
	if st == nil {
		return
	}
	fmt.Fprintf(out, "address 0x%08x, %s, %s\n", st.Address, st.PodProgress, st.DeliveryStatus)
	fmt.Fprintf(out, "reservoir %.2f U, delivered %.2f U, active %s, alerts %s\n",
		st.Reservoir, st.Delivered, time.Duration(st.MinutesActive)*time.Minute, st.ActiveAlertSlots)
	if st.Fault != nil {
		fmt.Fprintf(out, "fault %s at %s\n", st.Fault.Code, st.Fault.ReportedAt.Format(time.RFC3339))
	}
	for _, d := range []*pod.UnfinalizedDose{st.UnfinalizedBolus, st.UnfinalizedTempBasal} {
		if d != nil {
			fmt.Fprintf(out, "  %s\n", d)
		}
	}
}
