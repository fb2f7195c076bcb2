package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/avereha/podcomm/pkg/api"
	"github.com/avereha/podcomm/pkg/simulator"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated pod behind the websocket api",
	Long: `Run a simulated pod. Controllers connect to /pod and exchange wrapped pod
messages, sealed when the transport section sets a session key. Web clients
connect to /ws to watch the pod state and change it (reservoir, alerts, faults,
activation time, dropped replies).

The simulator section of the configuration sets the listen address, the pod's
lot, TID, nonce seed and the initial reservoir.`,
	Args: cobra.NoArgs,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	gen, err := cfg.PodGeneration()
	if err != nil {
		return err
	}
	sealer, err := cfg.Sealer()
	if err != nil {
		return err
	}
	sc := cfg.Simulator
	pod := simulator.New(sc.Lot, sc.TID, sc.Seed, gen)
	pod.SetReservoir(sc.Reservoir)
	log.Infof("simulating %s pod lot %d tid %d", gen, sc.Lot, sc.TID)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return api.New(pod, sealer).ListenAndServe(ctx, sc.Listen)
}
