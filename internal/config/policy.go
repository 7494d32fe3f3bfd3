package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"bencheth/internal/ethereum"

	"gopkg.in/yaml.v3"
)

// RetryPolicyYAML is the on-disk shape of RETRY_POLICY_FILE.
// Omitted fields keep the value they had before the file was applied.
type RetryPolicyYAML struct {
	RateLimitRetries *int          `yaml:"rate_limit_retries"`
	TimeoutRetries   *int          `yaml:"timeout_retries"`
	InitialBackoff   time.Duration `yaml:"initial_backoff"`
	MaxBackoff       time.Duration `yaml:"max_backoff"`
}

// LoadRetryPolicyFromYAML applies the YAML file at filePath on top of base.
// A missing file leaves base untouched.
func LoadRetryPolicyFromYAML(filePath string, base ethereum.RetryPolicy) (ethereum.RetryPolicy, error) {
	data, err := os.ReadFile(filePath)
	if errors.Is(err, os.ErrNotExist) {
		return base, nil
	}
	if err != nil {
		return base, fmt.Errorf("failed to read retry policy file: %w", err)
	}

	var file RetryPolicyYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return base, fmt.Errorf("failed to parse retry policy file: %w", err)
	}

	policy := base
	if file.RateLimitRetries != nil {
		if *file.RateLimitRetries < 0 {
			return base, fmt.Errorf("rate_limit_retries must not be negative")
		}
		policy.RateLimitRetries = *file.RateLimitRetries
	}
	if file.TimeoutRetries != nil {
		if *file.TimeoutRetries < 0 {
			return base, fmt.Errorf("timeout_retries must not be negative")
		}
		policy.TimeoutRetries = *file.TimeoutRetries
	}
	if file.InitialBackoff > 0 {
		policy.InitialBackoff = file.InitialBackoff
	}
	if file.MaxBackoff > 0 {
		policy.MaxBackoff = file.MaxBackoff
	}

	return policy, nil
}
