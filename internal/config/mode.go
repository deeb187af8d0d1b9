package config

import (
	"os"
	"strings"
)

// DeploymentMode represents the execution context
type DeploymentMode string

const (
	// ModeInteractive is an operator at a terminal; prompts and keychain writes are allowed
	ModeInteractive DeploymentMode = "interactive"

	// ModeCI is a pipeline or scheduled job
	// - credentials from environment variables only
	// - no prompts; destructive commands need --yes
	ModeCI DeploymentMode = "ci"
)

// DetectMode determines the execution context. CYSECMATO_MODE overrides detection.
func DetectMode() DeploymentMode {
	if mode := os.Getenv("CYSECMATO_MODE"); mode != "" {
		switch strings.ToLower(mode) {
		case "ci", "batch", "headless":
			return ModeCI
		case "interactive", "tty":
			return ModeInteractive
		}
	}
	if isCI() {
		return ModeCI
	}
	return ModeInteractive
}

// isCI detects if running in a CI/CD environment
func isCI() bool {
	ciEnvVars := []string{
		"CI",
		"CONTINUOUS_INTEGRATION",
		"GITHUB_ACTIONS",
		"GITLAB_CI",
		"JENKINS_URL",
		"BUILDKITE",
		"TF_BUILD",
	}
	for _, envVar := range ciEnvVars {
		if os.Getenv(envVar) != "" {
			return true
		}
	}
	return false
}

func (m DeploymentMode) String() string {
	return string(m)
}

// AllowsInteractivePrompts returns true if interactive prompts are allowed
func (m DeploymentMode) AllowsInteractivePrompts() bool {
	return m == ModeInteractive
}

// ConfigSource returns where credentials should come from
func (m DeploymentMode) ConfigSource() string {
	switch m {
	case ModeCI:
		return "environment variables only"
	default:
		return "environment variables, keychain, or config file"
	}
}
