// Package secrets loads credentials from a Vault KV engine into the process
// environment before configuration is read.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/zatekoja/careflow/pkg/retry"
)

// VaultConfig describes where database and cache credentials live
type VaultConfig struct {
	Enabled     bool
	Addr        string
	Token       string
	Namespace   string
	Mount       string
	Path        string
	KVVersion   int
	Timeout     time.Duration
	Overwrite   bool
	MaxAttempts int
}

// VaultResult reports what was applied
type VaultResult struct {
	Enabled bool
	Path    string
	Loaded  int
	Skipped int
}

// statusError is returned for non-2xx Vault responses. Server errors are
// retried, client errors are not.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("vault returned %d: %s", e.code, e.body)
}

// LoadVaultConfig reads VAULT_* settings from the environment
func LoadVaultConfig() VaultConfig {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("VAULT_ENABLED", false)
	v.SetDefault("VAULT_MOUNT", "secret")
	v.SetDefault("VAULT_PATH", "careflow")
	v.SetDefault("VAULT_KV_VERSION", 2)
	v.SetDefault("VAULT_TIMEOUT", 5*time.Second)
	v.SetDefault("VAULT_MAX_ATTEMPTS", 3)

	return VaultConfig{
		Enabled:     v.GetBool("VAULT_ENABLED"),
		Addr:        v.GetString("VAULT_ADDR"),
		Token:       v.GetString("VAULT_TOKEN"),
		Namespace:   v.GetString("VAULT_NAMESPACE"),
		Mount:       v.GetString("VAULT_MOUNT"),
		Path:        v.GetString("VAULT_PATH"),
		KVVersion:   v.GetInt("VAULT_KV_VERSION"),
		Timeout:     v.GetDuration("VAULT_TIMEOUT"),
		Overwrite:   v.GetBool("VAULT_OVERWRITE"),
		MaxAttempts: v.GetInt("VAULT_MAX_ATTEMPTS"),
	}
}

// Apply fetches the configured secret and exports each key as an
// environment variable. Existing variables win unless Overwrite is set.
func Apply(ctx context.Context, cfg VaultConfig) (VaultResult, error) {
	result := VaultResult{Enabled: cfg.Enabled, Path: cfg.Path}
	if !cfg.Enabled {
		return result, nil
	}

	data, err := Fetch(ctx, cfg)
	if err != nil {
		return result, err
	}

	for key, value := range data {
		if !cfg.Overwrite && os.Getenv(key) != "" {
			result.Skipped++
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return result, fmt.Errorf("set %s: %w", key, err)
		}
		result.Loaded++
	}

	log.Info().
		Str("path", cfg.Path).
		Int("loaded", result.Loaded).
		Int("skipped", result.Skipped).
		Msg("applied vault secrets")
	return result, nil
}

// Fetch reads one KV secret and flattens its values to strings
func Fetch(ctx context.Context, cfg VaultConfig) (map[string]string, error) {
	if cfg.Addr == "" || cfg.Token == "" || cfg.Path == "" {
		return nil, errors.New("vault configuration incomplete (VAULT_ADDR, VAULT_TOKEN, VAULT_PATH)")
	}
	url, err := secretURL(cfg.Addr, cfg.Mount, cfg.Path, cfg.KVVersion)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: cfg.Timeout}
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.MaxAttempts
	if retryCfg.MaxAttempts < 1 {
		retryCfg.MaxAttempts = 1
	}
	retryCfg.MaxTotalTimeout = 0
	retryCfg.Retryable = func(err error) bool {
		var se *statusError
		if errors.As(err, &se) {
			return se.code >= http.StatusInternalServerError
		}
		return true
	}

	var payload map[string]interface{}
	err = retry.DoWithLog(ctx, retryCfg, "vault", func() error {
		p, getErr := get(ctx, client, url, cfg)
		if getErr != nil {
			return getErr
		}
		payload = p
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		log.Warn().Err(err).Int("attempt", attempt).Dur("next_delay", nextDelay).Msg("vault fetch failed, retrying")
	})
	if err != nil {
		return nil, err
	}

	raw, err := secretData(payload, cfg.KVVersion)
	if err != nil {
		return nil, err
	}
	data := make(map[string]string, len(raw))
	for key, value := range raw {
		data[key] = stringify(value)
	}
	return data, nil
}

func get(ctx context.Context, client *http.Client, url string, cfg VaultConfig) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Vault-Token", cfg.Token)
	if cfg.Namespace != "" {
		req.Header.Set("X-Vault-Namespace", cfg.Namespace)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode vault response: %w", err)
	}
	return payload, nil
}

func secretURL(addr, mount, path string, kvVersion int) (string, error) {
	addr = strings.TrimRight(addr, "/")
	mount = strings.Trim(mount, "/")
	path = strings.TrimLeft(path, "/")
	if addr == "" || mount == "" || path == "" {
		return "", errors.New("vault address, mount, and path must be set")
	}
	if kvVersion == 1 {
		return fmt.Sprintf("%s/v1/%s/%s", addr, mount, path), nil
	}
	return fmt.Sprintf("%s/v1/%s/data/%s", addr, mount, path), nil
}

// KV v2 nests the secret under data.data
func secretData(payload map[string]interface{}, kvVersion int) (map[string]interface{}, error) {
	data, ok := payload["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("vault response missing data for KV v%d", kvVersion)
	}
	if kvVersion == 1 {
		return data, nil
	}
	inner, ok := data["data"].(map[string]interface{})
	if !ok {
		return nil, errors.New("vault response missing data for KV v2")
	}
	return inner, nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}
