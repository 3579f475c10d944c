// Package keychain stores the bot token in the OS keychain.
package keychain

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

const (
	serviceName  = "teleflow"
	tokenAccount = "bot_token"
)

// Get retrieves a secret from the system keychain.
func Get(account string) (string, error) {
	return keyring.Get(serviceName, account)
}

// Set stores a secret in the system keychain.
func Set(account, value string) error {
	return keyring.Set(serviceName, account, value)
}

// BotToken returns configured when non-empty, else the token stored in the
// keychain.
func BotToken(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	token, err := Get(tokenAccount)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("no bot token: set TELEFLOW_BOT_TOKEN or store one with --store-token")
	}
	if err != nil {
		return "", fmt.Errorf("read bot token from keychain: %w", err)
	}
	return token, nil
}

// StoreBotToken saves token for later runs.
func StoreBotToken(token string) error {
	if token == "" {
		return fmt.Errorf("empty bot token")
	}
	return Set(tokenAccount, token)
}
