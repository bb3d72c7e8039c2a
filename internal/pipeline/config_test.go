package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"pagebundle/internal/fetcher"
	"pagebundle/internal/sanitize"
	"pagebundle/internal/transmit"

	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	config := DefaultConfig()
	config.TargetURL = "https://shop.example.com/product-x"
	return config
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	table := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "missing target", modify: func(c *Config) { c.TargetURL = "" }},
		{name: "relative target", modify: func(c *Config) { c.TargetURL = "/product-x" }},
		{name: "ftp target", modify: func(c *Config) { c.TargetURL = "ftp://example.com/x" }},
		{name: "bad webhook", modify: func(c *Config) { c.WebhookURL = "hook" }},
		{name: "bad proxy", modify: func(c *Config) { c.Proxy = "::" }},
		{name: "no user agent", modify: func(c *Config) { c.Headers = map[string]string{"Accept": "*/*"} }},
		{name: "empty user agent", modify: func(c *Config) { c.Headers = map[string]string{"User-Agent": " "} }},
		{name: "unknown mode", modify: func(c *Config) { c.Mode = "tar" }},
		{name: "unknown delivery", modify: func(c *Config) { c.Delivery = "xml" }},
		{name: "unknown scope", modify: func(c *Config) { c.Scope = "pdf" }},
		{name: "no workers", modify: func(c *Config) { c.ImageWorkers = 0 }},
		{name: "no timeout", modify: func(c *Config) { c.RunTimeoutSeconds = 0 }},
		{name: "no output dir", modify: func(c *Config) { c.OutputDir = "" }},
	}

	for _, test := range table {
		t.Run(test.name, func(t *testing.T) {
			config := validConfig()
			test.modify(&config)
			require.Error(t, config.Validate())
		})
	}
}

func TestValidateUserAgentCaseInsensitive(t *testing.T) {
	config := validConfig()
	config.Headers = map[string]string{"user-agent": "curl"}
	require.NoError(t, config.Validate())
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFile)

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), config)

	require.NoError(t, os.WriteFile(path, []byte(`{
		target_url: "https://shop.example.com/product-x",
		headers: {"Accept-Language": "nl"},
		image_workers: 8,
		scope: "markdown",
	}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pagebundle.local.json5"), []byte(`{
		webhook_url: "https://hooks.example.com/x",
	}`), 0644))

	config, err = LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "https://shop.example.com/product-x", config.TargetURL)
	require.Equal(t, "https://hooks.example.com/x", config.WebhookURL)
	require.Equal(t, 8, config.ImageWorkers)
	require.Equal(t, sanitize.ScopeMarkdown, config.Scope)
	require.Equal(t, transmit.ModeZip, config.Mode)
	require.Equal(t, fetcher.DefaultUserAgent, config.Headers["User-Agent"])
	require.Equal(t, "nl", config.Headers["Accept-Language"])
	require.NoError(t, config.Validate())
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TARGET_URL":  "https://a.example.com/",
		"OUTPUT_DIR":  "/tmp/out",
		"WEBHOOK_URL": "",
	}
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}

	config := validConfig()
	config.WebhookURL = "https://hooks.example.com/x"
	config.ApplyEnv(lookup)
	require.Equal(t, "https://a.example.com/", config.TargetURL)
	require.Equal(t, "/tmp/out", config.OutputDir)
	require.Equal(t, "https://hooks.example.com/x", config.WebhookURL)
}
