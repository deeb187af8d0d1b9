package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	// KeyringService is the service name in the OS keychain
	KeyringService = "cysecmato"

	// KeyringLLMKeyItem holds the API key of the classification LLM provider
	KeyringLLMKeyItem = "llm-api-key"

	// KeyringEmbeddingKeyItem holds the API key of the embedding provider
	KeyringEmbeddingKeyItem = "embedding-api-key"

	// KeyringNeo4jPasswordItem holds the graph store password
	KeyringNeo4jPasswordItem = "neo4j-password"
)

// KeyringManager handles secure credential storage in OS keychain
type KeyringManager struct {
	logger *slog.Logger
}

// NewKeyringManager creates a new keyring manager
func NewKeyringManager() *KeyringManager {
	return &KeyringManager{
		logger: slog.Default().With("component", "keyring"),
	}
}

// Set stores a secret in the OS keychain
// - macOS: Keychain Access.app -> "cysecmato"
// - Windows: Credential Manager -> "cysecmato"
// - Linux: Secret Service (requires libsecret)
func (km *KeyringManager) Set(item, secret string) error {
	if secret == "" {
		return fmt.Errorf("%s cannot be empty", item)
	}

	if err := keyring.Set(KeyringService, item, secret); err != nil {
		km.logger.Error("failed to save secret to keychain", "item", item, "error", err)
		return fmt.Errorf("failed to save to OS keychain: %w", err)
	}

	km.logger.Info("secret saved to keychain", "service", KeyringService, "item", item)
	return nil
}

// Get retrieves a secret from the OS keychain; a missing entry is not an error
func (km *KeyringManager) Get(item string) (string, error) {
	secret, err := keyring.Get(KeyringService, item)
	if err == keyring.ErrNotFound {
		return "", nil
	}
	if err != nil {
		km.logger.Error("failed to get secret from keychain", "item", item, "error", err)
		return "", fmt.Errorf("failed to read from OS keychain: %w", err)
	}

	km.logger.Debug("secret retrieved from keychain", "item", item)
	return secret, nil
}

// Delete removes a secret from the OS keychain
func (km *KeyringManager) Delete(item string) error {
	err := keyring.Delete(KeyringService, item)
	if err == keyring.ErrNotFound {
		return nil
	}
	if err != nil {
		km.logger.Error("failed to delete secret from keychain", "item", item, "error", err)
		return fmt.Errorf("failed to delete from OS keychain: %w", err)
	}

	km.logger.Info("secret deleted from keychain", "item", item)
	return nil
}

// IsAvailable checks if OS keychain is available
// Returns false on headless systems (CI/CD) where keychain isn't available
func (km *KeyringManager) IsAvailable() bool {
	_, err := keyring.Get(KeyringService, "test-availability")
	if err == keyring.ErrNotFound {
		return true
	}
	if err != nil {
		km.logger.Debug("keychain not available", "error", err)
		return false
	}
	return true
}

// KeySourceInfo describes where a credential is coming from
type KeySourceInfo struct {
	Source string // "env", "keychain", "config", "none"
	Secure bool
}

// Source determines where the secret for item is resolved from
func (km *KeyringManager) Source(item, configValue string, envNames ...string) KeySourceInfo {
	for _, name := range envNames {
		if os.Getenv(name) != "" {
			return KeySourceInfo{Source: "env", Secure: true}
		}
	}
	if secret, _ := km.Get(item); secret != "" {
		return KeySourceInfo{Source: "keychain", Secure: true}
	}
	if configValue != "" {
		return KeySourceInfo{Source: "config", Secure: false}
	}
	return KeySourceInfo{Source: "none"}
}

// MaskAPIKey masks an API key for display: "sk-proj...abc1"
func MaskAPIKey(apiKey string) string {
	if apiKey == "" {
		return "(not set)"
	}
	if len(apiKey) < 12 {
		return "***"
	}
	return fmt.Sprintf("%s...%s", apiKey[:7], apiKey[len(apiKey)-4:])
}
