package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage tenant secrets",
}

var secretSetCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Store an encrypted secret",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		key, err := masterKey(cmd)
		if err != nil {
			return err
		}
		if err := c.SetSecret(context.Background(), args[0], args[1], key); err != nil {
			return fmt.Errorf("set secret failed: %w", err)
		}
		fmt.Printf("✓ Stored secret %s\n", args[0])
		return nil
	},
}

var secretGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Retrieve and decrypt a secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		key, err := masterKey(cmd)
		if err != nil {
			return err
		}
		value, err := c.GetSecret(context.Background(), args[0], key)
		if err != nil {
			return fmt.Errorf("get secret failed: %w", err)
		}
		fmt.Println(value)
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Revoke a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteSecret(context.Background(), args[0]); err != nil {
			return fmt.Errorf("delete secret failed: %w", err)
		}
		fmt.Printf("✓ Deleted secret %s\n", args[0])
		return nil
	},
}

var secretListCmd = &cobra.Command{
	Use:   "list",
	Short: "List secret names for the current tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		names, err := c.ListSecrets(context.Background())
		if err != nil {
			return fmt.Errorf("list secrets failed: %w", err)
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func masterKey(cmd *cobra.Command) ([]byte, error) {
	hexKey, _ := cmd.Flags().GetString("master-key")
	if hexKey == "" {
		return nil, fmt.Errorf("--master-key (hex-encoded) is required")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("--master-key must be hex-encoded: %w", err)
	}
	return key, nil
}

func init() {
	secretCmd.PersistentFlags().String("master-key", "", "Hex-encoded vault master key")
	secretCmd.AddCommand(secretSetCmd)
	secretCmd.AddCommand(secretGetCmd)
	secretCmd.AddCommand(secretDeleteCmd)
	secretCmd.AddCommand(secretListCmd)
}
