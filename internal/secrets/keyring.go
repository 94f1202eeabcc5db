package secrets

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name SignalForge secrets are stored under.
const KeyringService = "signalforge"

// TelegramToken reads the bot token stored for account in the OS keyring.
func TelegramToken(account string) (string, error) {
	if strings.TrimSpace(account) == "" {
		return "", errors.New("keyring account name is empty")
	}
	return keyring.Get(KeyringService, account)
}

// SetTelegramToken stores the bot token for account in the OS keyring.
func SetTelegramToken(account, token string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	return keyring.Set(KeyringService, account, token)
}
