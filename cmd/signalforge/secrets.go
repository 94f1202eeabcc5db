package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalforge/signalforge/internal/model"
	"github.com/signalforge/signalforge/internal/secrets"
)

var secretsAccount string

var secretsCmd = &cobra.Command{
	Use:   "secrets",
	Short: "Manage credentials stored in the OS keyring",
}

var setTelegramCmd = &cobra.Command{
	Use:   "set-telegram",
	Short: "Store the Telegram bot token in the OS keyring",
	Long: `Reads the bot token from stdin and stores it in the OS keyring under --account.
Point notification.telegram.keyring_account at the same account to use it.`,
	Args: cobra.NoArgs,
	RunE: runSetTelegram,
}

func init() {
	setTelegramCmd.Flags().StringVar(&secretsAccount, "account", "default", "keyring account to store the token under")
	secretsCmd.AddCommand(setTelegramCmd)
	rootCmd.AddCommand(secretsCmd)
}

func runSetTelegram(cmd *cobra.Command, args []string) error {
	fmt.Fprint(cmd.ErrOrStderr(), "Telegram bot token: ")
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(line)
	if token == "" {
		return &model.ConfigurationError{Field: "token", Reason: "bot token is empty"}
	}
	if err := secrets.SetTelegramToken(secretsAccount, token); err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\nStored Telegram bot token for account %q.\n", secretsAccount)
	fmt.Fprintf(cmd.OutOrStdout(), "Set notification.telegram.keyring_account: %s to use it.\n", secretsAccount)
	return nil
}
