package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/kestrel/pkg/client"
	"github.com/cuemby/kestrel/pkg/types"
	"github.com/spf13/cobra"
)

func newClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("gateway")
	tenant, _ := cmd.Flags().GetString("tenant")
	if tenant == "" {
		return nil, fmt.Errorf("a tenant is required: pass --tenant or set KESTREL_TENANT")
	}
	return client.New(addr, tenant), nil
}

var deployCmd = &cobra.Command{
	Use:   "deploy NAME FILE",
	Short: "Deploy a service from a JS source file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		name, path := args[0], args[1]
		code, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read source file: %w", err)
		}
		if err := c.Deploy(context.Background(), name, string(code), "js"); err != nil {
			return fmt.Errorf("deploy failed: %w", err)
		}
		fmt.Printf("✓ Deployed %s\n", name)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status NAME",
	Short: "Show the live status of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		status, err := c.Status(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("status failed: %w", err)
		}
		fmt.Printf("Alive:      %v\n", status.Alive)
		fmt.Printf("Namespace:  %s\n", status.Namespace)
		fmt.Printf("Memory:     %d bytes\n", status.Memory)
		fmt.Printf("Queue len:  %d\n", status.QueueLen)
		fmt.Printf("Reductions: %d\n", status.Reductions)
		return nil
	},
}

var killCmd = &cobra.Command{
	Use:   "kill NAME",
	Short: "Stop and unregister a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.Kill(context.Background(), args[0]); err != nil {
			return fmt.Errorf("kill failed: %w", err)
		}
		fmt.Printf("✓ Killed %s\n", args[0])
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List services running for the current tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		refs, err := c.List(context.Background())
		if err != nil {
			return fmt.Errorf("list failed: %w", err)
		}
		for _, ref := range refs {
			fmt.Println(ref.String())
		}
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream events for the current tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		subject, _ := cmd.Flags().GetString("subject")
		return c.WatchEvents(context.Background(), subject, func(e *types.Event) {
			fmt.Printf("[%s] %s %s\n", e.WallClock.Format("15:04:05"), e.EventType, e.Subject)
		})
	},
}

func init() {
	watchCmd.Flags().String("subject", "", "Restrict the stream to one subject")
}
