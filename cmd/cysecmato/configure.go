package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/cysecmato/cysecmato/internal/config"
	"github.com/cysecmato/cysecmato/internal/errors"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Interactive setup of providers and secrets (with OS keychain support)",
	Long: `Walk through the provider configuration and store secrets in the OS keychain.

This will configure:
1. LLM provider, model and API key
2. Embedding provider, model and API key
3. Neo4j password

Secrets are never written to the config file.`,
	RunE: runConfigure,
}

var configureClear bool

func runConfigure(cmd *cobra.Command, args []string) error {
	if configureClear {
		return clearSecrets(config.NewKeyringManager())
	}

	prompter := config.NewPrompter()
	if !config.DetectMode().AllowsInteractivePrompts() {
		return errors.ConfigErrorf("configure needs an interactive terminal; in CI provide %s", config.ModeCI.ConfigSource())
	}

	configPath := cfgFile
	if configPath == "" {
		homeDir, _ := os.UserHomeDir()
		configPath = filepath.Join(homeDir, ".cysecmato", "config.yaml")
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		loaded = config.Default()
	}

	km := config.NewKeyringManager()
	keychain := km.IsAvailable()
	if !keychain {
		fmt.Println("OS keychain not available (headless system or Linux without libsecret).")
		fmt.Println("Secrets must come from environment variables, see .env.example.")
		fmt.Println()
	}

	fmt.Println("Step 1/3: LLM")
	if answer, err := prompter.Line(fmt.Sprintf("Provider [openai|gemini|ollama] (%s): ", loaded.LLM.Provider)); err == nil && answer != "" {
		loaded.LLM.Provider = answer
	}
	if answer, err := prompter.Line(fmt.Sprintf("Model (%s): ", loaded.LLM.Model)); err == nil && answer != "" {
		loaded.LLM.Model = answer
	}
	if keychain {
		if err := storeSecret(prompter, km, "LLM API key", config.KeyringLLMKeyItem, loaded.LLM.APIKey); err != nil {
			return err
		}
		loaded.LLM.UseKeychain = true
	}
	fmt.Println()

	fmt.Println("Step 2/3: Embeddings")
	if answer, err := prompter.Line(fmt.Sprintf("Provider [openai|gemini|ollama] (%s): ", loaded.Embedding.Provider)); err == nil && answer != "" {
		loaded.Embedding.Provider = answer
	}
	if answer, err := prompter.Line(fmt.Sprintf("Model (%s): ", loaded.Embedding.Model)); err == nil && answer != "" {
		loaded.Embedding.Model = answer
	}
	if keychain && loaded.Embedding.Provider != "ollama" {
		if err := storeSecret(prompter, km, "Embedding API key", config.KeyringEmbeddingKeyItem, loaded.Embedding.APIKey); err != nil {
			return err
		}
	}
	fmt.Println()

	fmt.Println("Step 3/3: Neo4j")
	if answer, err := prompter.Line(fmt.Sprintf("URI (%s): ", loaded.Neo4j.URI)); err == nil && answer != "" {
		loaded.Neo4j.URI = answer
	}
	if keychain {
		if err := storeSecret(prompter, km, "Neo4j password", config.KeyringNeo4jPasswordItem, loaded.Neo4j.Password); err != nil {
			return err
		}
	}
	fmt.Println()

	if err := loaded.Save(configPath); err != nil {
		return err
	}
	fmt.Printf("Configuration saved to %s\n", configPath)
	if keychain {
		fmt.Printf("Secrets stored in %s\n", keychainLocation())
	}
	return nil
}

// storeSecret shows where a secret currently comes from and replaces it on request
func storeSecret(p *config.Prompter, km *config.KeyringManager, label, item, current string) error {
	source := km.Source(item, current)
	if source.Source != "none" {
		fmt.Printf("%s currently from %s\n", label, source.Source)
		keep, err := p.Confirm("Replace it?")
		if err != nil || !keep {
			return nil
		}
	}
	secret, err := p.Secret(label + ": ")
	if err != nil {
		return err
	}
	if secret == "" {
		fmt.Printf("No %s entered, skipping\n", label)
		return nil
	}
	if err := km.Set(item, secret); err != nil {
		return errors.ConfigErrorf("store %s in keychain: %v", label, err)
	}
	fmt.Printf("%s stored (%s)\n", label, config.MaskAPIKey(secret))
	return nil
}

func keychainLocation() string {
	switch runtime.GOOS {
	case "darwin":
		return "Keychain Access.app, service \"" + config.KeyringService + "\""
	case "windows":
		return "Credential Manager, service \"" + config.KeyringService + "\""
	default:
		return "Secret Service (libsecret), service \"" + config.KeyringService + "\""
	}
}

// clearSecrets removes every secret configure may have stored
func clearSecrets(km *config.KeyringManager) error {
	if !km.IsAvailable() {
		return errors.ConfigErrorf("OS keychain not available, nothing to clear")
	}
	for _, item := range []string{config.KeyringLLMKeyItem, config.KeyringEmbeddingKeyItem, config.KeyringNeo4jPasswordItem} {
		if err := km.Delete(item); err != nil {
			logger.WithError(err).Debugf("No %s in keychain", item)
			continue
		}
		logger.Infof("Removed %s from keychain", item)
	}
	return nil
}

func init() {
	configureCmd.Flags().BoolVar(&configureClear, "clear", false, "remove the stored secrets from the OS keychain and exit")
}
