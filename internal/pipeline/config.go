package pipeline

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"pagebundle/internal/bundle"
	"pagebundle/internal/fetcher"
	"pagebundle/internal/images"
	"pagebundle/internal/sanitize"
	"pagebundle/internal/transmit"
	"pagebundle/pkg/configutil"
)

const DefaultConfigFile = "pagebundle.json5"

// Config is everything a run needs, nothing is read from globals.
type Config struct {
	TargetURL  string `json:"target_url"`
	WebhookURL string `json:"webhook_url"`
	// OutputDir is where the image folder, archive and backup are written.
	OutputDir string `json:"output_dir"`

	Headers          map[string]string `json:"headers"`
	Cookies          map[string]string `json:"cookies"`
	Proxy            string            `json:"proxy"`
	CloudflareBypass bool              `json:"cloudflare_bypass"`
	MaxBodyBytes     int64             `json:"max_body_bytes"`

	FetchTimeoutSeconds    int `json:"fetch_timeout_seconds"`
	TransmitTimeoutSeconds int `json:"transmit_timeout_seconds"`
	RunTimeoutSeconds      int `json:"run_timeout_seconds"`
	ImageWorkers           int `json:"image_workers"`

	Mode     transmit.Mode     `json:"mode"`
	Delivery transmit.Delivery `json:"delivery"`
	Scope    sanitize.Scope    `json:"scope"`

	// BackupFile is the name of the json backup inside OutputDir, empty
	// disables it.
	BackupFile string `json:"backup_file"`
	// ReportFile is the name of the standalone html page inside OutputDir,
	// empty disables it.
	ReportFile string `json:"report_file"`
	// DumpHTTPDir receives a text dump of every http exchange when set.
	DumpHTTPDir string `json:"dump_http_dir"`
}

func DefaultConfig() Config {
	return Config{
		OutputDir: ".",
		Headers: map[string]string{
			"User-Agent": fetcher.DefaultUserAgent,
		},
		MaxBodyBytes:           32 << 20,
		FetchTimeoutSeconds:    30,
		TransmitTimeoutSeconds: 30,
		RunTimeoutSeconds:      300,
		ImageWorkers:           images.DefaultWorkers,
		Mode:                   transmit.ModeZip,
		Delivery:               transmit.DeliveryFields,
		Scope:                  sanitize.ScopeHTML,
		BackupFile:             bundle.DefaultBackupFile,
	}
}

// LoadConfig reads path (json5, with an optional `.local` override next to
// it) over the defaults. A missing file leaves the defaults as they are.
func LoadConfig(path string) (Config, error) {
	config, err := configutil.ReadConfigOver(path, DefaultConfig())
	if err != nil {
		return config, fmt.Errorf("read config %s: %w", path, err)
	}
	return config, nil
}

// ApplyEnv overrides the target, webhook and output dir from the
// TARGET_URL, WEBHOOK_URL and OUTPUT_DIR variables when they are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("TARGET_URL"); ok && v != "" {
		c.TargetURL = v
	}
	if v, ok := lookup("WEBHOOK_URL"); ok && v != "" {
		c.WebhookURL = v
	}
	if v, ok := lookup("OUTPUT_DIR"); ok && v != "" {
		c.OutputDir = v
	}
}

func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func (c Config) TransmitTimeout() time.Duration {
	return time.Duration(c.TransmitTimeoutSeconds) * time.Second
}

func (c Config) RunTimeout() time.Duration {
	return time.Duration(c.RunTimeoutSeconds) * time.Second
}

func (c Config) hasUserAgent() bool {
	for k, v := range c.Headers {
		if strings.EqualFold(k, "User-Agent") && strings.TrimSpace(v) != "" {
			return true
		}
	}
	return false
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: %q is not an absolute http(s) url", name, raw)
	}
	return nil
}

// Validate returns every problem with the config at once.
func (c Config) Validate() error {
	var errs []error
	if c.TargetURL == "" {
		errs = append(errs, errors.New("target url is required"))
	} else if err := validateHTTPURL("target url", c.TargetURL); err != nil {
		errs = append(errs, err)
	}
	if c.WebhookURL != "" {
		if err := validateHTTPURL("webhook url", c.WebhookURL); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Proxy != "" {
		if err := validateHTTPURL("proxy", c.Proxy); err != nil {
			errs = append(errs, err)
		}
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output dir is required"))
	}
	if !c.hasUserAgent() {
		errs = append(errs, errors.New("headers must include a User-Agent"))
	}
	if !c.Mode.Valid() {
		errs = append(errs, fmt.Errorf("unknown output mode %q", c.Mode))
	}
	if !c.Delivery.Valid() {
		errs = append(errs, fmt.Errorf("unknown delivery mode %q", c.Delivery))
	}
	if !c.Scope.Valid() {
		errs = append(errs, fmt.Errorf("unknown content scope %q", c.Scope))
	}
	if c.ImageWorkers <= 0 {
		errs = append(errs, fmt.Errorf("image workers must be positive, got %d", c.ImageWorkers))
	}
	if c.FetchTimeoutSeconds <= 0 || c.TransmitTimeoutSeconds <= 0 || c.RunTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, errors.New("max body bytes cannot be negative"))
	}
	return errors.Join(errs...)
}
