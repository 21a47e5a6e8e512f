package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/daryltucker/mimic-runner/internal/metrics"
	"github.com/daryltucker/mimic-runner/internal/output"
	"github.com/daryltucker/mimic-runner/internal/relay"
)

const relayShutdownGrace = 5 * time.Second

var relayListen string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Serve the credential-forwarding relay",
	Long: `Serves POST /api/relay/{openai,anthropic,deepseek}. Clients send their key in
the x-user-api-key header; the relay re-issues the request with the
provider's native authentication and streams the response back.
Also serves /healthz and /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := cfg.Relay.Listen
		if relayListen != "" {
			addr = relayListen
		}

		srv := relay.New(relay.Options{
			Upstreams: cfg.Relay.Upstreams,
			Metrics:   metrics.New(nil),
		})

		errc := make(chan error, 1)
		go func() { errc <- srv.Start(addr) }()

		select {
		case err := <-errc:
			return err
		case <-cmd.Context().Done():
		}

		output.Logger.Info("Relay shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), relayShutdownGrace)
		defer cancel()
		return errors.Join(srv.Shutdown(ctx), <-errc)
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
	relayCmd.Flags().StringVar(&relayListen, "listen", "", "Listen address (default from config, :8787)")
}
