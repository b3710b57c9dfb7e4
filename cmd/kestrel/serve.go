package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/kestrel/pkg/api/httpgw"
	"github.com/cuemby/kestrel/pkg/api/rpcgw"
	"github.com/cuemby/kestrel/pkg/config"
	"github.com/cuemby/kestrel/pkg/kernel"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kestrel kernel and its gateways",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Starting kestrel kernel...")
		fmt.Printf("  Data directory: %s\n", cfg.DataDir)
		fmt.Printf("  Max tenants:    %d\n", cfg.MaxTenants)

		k, err := kernel.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to start kernel: %w", err)
		}
		fmt.Println("✓ Kernel started")

		httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
		http := httpgw.New(k)
		go func() {
			if err := http.Start(httpAddr); err != nil {
				fmt.Fprintf(os.Stderr, "http gateway error: %v\n", err)
			}
		}()
		fmt.Printf("✓ HTTP gateway listening on %s\n", httpAddr)

		rpcAddr := fmt.Sprintf(":%d", cfg.ListenPort)
		rpc, err := rpcgw.New(k)
		if err != nil {
			return fmt.Errorf("failed to start rpc gateway: %w", err)
		}
		go func() {
			if err := rpc.Start(rpcAddr); err != nil {
				fmt.Fprintf(os.Stderr, "rpc gateway error: %v\n", err)
			}
		}()
		fmt.Printf("✓ RPC gateway listening on %s\n", rpcAddr)

		fmt.Printf("✓ Metrics endpoint: http://127.0.0.1%s/v1/metrics\n", httpAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		fmt.Println("\nShutting down...")
		rpc.Stop()
		_ = http.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := k.Shutdown(ctx, 5*time.Second); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		fmt.Println("✓ Kernel stopped")
		return nil
	},
}
