package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/energy-stats-indexer/internal/livestate"
	"github.com/weiihann/energy-stats-indexer/internal/logger"
	"github.com/weiihann/energy-stats-indexer/pkg/client"
	"github.com/weiihann/energy-stats-indexer/pkg/rpc"
)

var (
	_ livestate.StatsFetcher = (*client.Client)(nil)
	_ livestate.Quoter       = (*rpc.Client)(nil)
)

var (
	watchAPIURL   string
	watchContract string
	watchAddress  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the live energy estimate of one address",
	Long: `Bind an address against a running stats API and the pending-units quote RPC.
The projected estimate is refreshed every POLL_INTERVAL_SECONDS. Type "h" and
press enter after submitting a harvest to apply it optimistically until the
next full fetch reconciles it.`,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.GetLogger("watch-cmd")

		config := loadConfig()
		if config.QuoteRPCURL == "" {
			log.Error("QUOTE_RPC_URL is required to watch an address")
			os.Exit(1)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		quoter, err := rpc.NewClient(ctx, config.QuoteRPCURL)
		if err != nil {
			log.Error("Failed to create RPC client", "error", err, "rpc_url", config.QuoteRPCURL)
			os.Exit(1)
		}
		defer quoter.Close()

		api := client.New(watchAPIURL, 30*time.Second)

		live := livestate.New(livestate.Config{
			ContractID:     watchContract,
			PollInterval:   config.PollIntervalDuration(),
			ReconcileDelay: config.ReconcileDelayDuration(),
			MinutesPerUnit: config.MinutesPerUnit,
		}, api, quoter, livestate.WithOnChange(func(s livestate.Snapshot) {
			log.Info("Estimate updated",
				"state", s.State,
				"pending_units", s.PendingUnits,
				"projected", fmt.Sprintf("%.2f", s.Projected),
				"tap_marker", fmt.Sprintf("%.2f", s.TapMarker),
				"total_energy", s.Stats.TotalEnergyHarvested,
				"rate", s.Stats.EstimatedEnergyRate)
		}))
		defer live.Close()

		live.Bind(ctx, watchAddress)

		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if strings.TrimSpace(scanner.Text()) != "h" {
					continue
				}
				if err := live.Harvest(); err != nil {
					if errors.Is(err, livestate.ErrNotReady) {
						log.Warn("Estimate is not ready yet, harvest ignored")
						continue
					}
					log.Error("Harvest failed", "error", err)
				}
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info("Received shutdown signal, stopping watch...")
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchAPIURL, "api", "http://localhost:8080", "Base URL of the stats API")
	watchCmd.Flags().StringVar(&watchContract, "contract", "", "Contract identifier")
	watchCmd.Flags().StringVar(&watchAddress, "address", "", "Address to follow")
	watchCmd.MarkFlagRequired("contract")
	watchCmd.MarkFlagRequired("address")
	rootCmd.AddCommand(watchCmd)
}
