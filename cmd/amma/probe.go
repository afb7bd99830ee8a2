package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/amma-stories/amma/internal/healthrpc"
)

func newProbeCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check a running server's gRPC health endpoint",
		Long: `Query grpc.health.v1.Health on a running server and exit non-zero unless
the story agent reports SERVING. Suitable for container health checks.

Examples:
  amma probe --addr localhost:50051`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			status, err := healthrpc.Probe(ctx, addr)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status.String())
			if status != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", healthrpc.ServiceName, status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "gRPC health endpoint address")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "probe timeout")
	return cmd
}
