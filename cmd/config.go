package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sw33tLie/airscope/internal/utils"
	"github.com/sw33tLie/airscope/pkg/audit"
	"github.com/sw33tLie/airscope/pkg/browser"
	"github.com/sw33tLie/airscope/pkg/gate"
	"github.com/sw33tLie/airscope/pkg/report"
	"github.com/sw33tLie/airscope/pkg/scoring"
	"github.com/sw33tLie/airscope/pkg/storage"
)

// flagKeys maps command-line flags to config keys. Several commands share
// these flags, so they are bound right before a command runs rather than in
// init (viper keeps only the last binding per key).
var flagKeys = map[string]string{
	"timeout":              "timeout",
	"max-pages":            "max_pages",
	"concurrency":          "concurrency",
	"scoring":              "scoring",
	"bots":                 "bots",
	"render":               "render",
	"render-remote":        "render_remote",
	"render-wait":          "render_wait",
	"site-timeout":         "site_timeout",
	"user-agent":           "user_agent",
	"regression-threshold": "regression_threshold",
	"require-bot-access":   "require_bot_access",
	"require-llms-txt":     "require_llms_txt",
}

func addAuditFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("timeout", 0, "Per-request timeout (default 15s)")
	cmd.Flags().Duration("site-timeout", 0, "Overall time budget for a site audit (default 90s)")
	cmd.Flags().Int("max-pages", 0, "Maximum number of pages to audit (default 10)")
	cmd.Flags().Int("concurrency", 0, "Number of pages audited concurrently (default 5)")
	cmd.Flags().String("scoring", "", "Scoring version: "+strings.Join(scoring.Versions(), ", ")+" (default v2)")
	cmd.Flags().StringSlice("bots", nil, "Comma-separated AI bot user agents checked against robots.txt (default: built-in list)")
	cmd.Flags().Bool("render", false, "Render pages with headless Chrome before scoring")
	cmd.Flags().String("render-remote", "", "Use an already running Chrome (e.g. http://localhost:9222) instead of starting one")
	cmd.Flags().Duration("render-wait", 0, "Extra time to let client-side rendering settle (with --render)")
	cmd.Flags().String("user-agent", "", "User-Agent header for all requests")
}

func addGateFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("threshold", nil, "Minimum score per pillar, e.g. content=20,overall=60 (overrides thresholds.* in config)")
	cmd.Flags().Float64("regression-threshold", 0, "Points a score may drop below the baseline before failing (default 5)")
	cmd.Flags().Bool("require-bot-access", false, "Fail if robots.txt blocks any checked AI bot")
	cmd.Flags().Bool("require-llms-txt", false, "Fail if no llms.txt is found")
}

// bindFlags binds the flags cmd actually defines to their config keys.
func bindFlags(cmd *cobra.Command, _ []string) error {
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok && err == nil {
			err = viper.BindPFlag(key, f)
		}
	})
	return err
}

// configError marks invalid configuration so it is never silently
// replaced by a default.
func configError(format string, args ...interface{}) error {
	return fmt.Errorf("invalid configuration: "+format, args...)
}

// newEngine builds an audit engine from flags, config file and environment.
// The returned cleanup closes the browser when --render is used.
func newEngine() (*audit.Engine, func(), error) {
	timeout, err := durationValue(viper.Get("timeout"))
	if err != nil || timeout < 0 {
		return nil, nil, configError("timeout %v", viper.Get("timeout"))
	}
	siteTimeout, err := durationValue(viper.Get("site_timeout"))
	if err != nil || siteTimeout < 0 {
		return nil, nil, configError("site_timeout %v", viper.Get("site_timeout"))
	}
	maxPages, err := cast.ToIntE(viper.Get("max_pages"))
	if err != nil || maxPages < 0 {
		return nil, nil, configError("max_pages %v", viper.Get("max_pages"))
	}
	concurrency, err := cast.ToIntE(viper.Get("concurrency"))
	if err != nil || concurrency < 0 {
		return nil, nil, configError("concurrency %v", viper.Get("concurrency"))
	}
	version, err := scoring.Lookup(viper.GetString("scoring"))
	if err != nil {
		return nil, nil, configError("%v", err)
	}

	opts := audit.Options{
		Scoring:     version,
		Bots:        utils.SplitList(viper.GetStringSlice("bots")),
		Concurrency: concurrency,
		MaxPages:    maxPages,
		Timeout:     timeout,
		SiteTimeout: siteTimeout,
		UserAgent:   viper.GetString("user_agent"),
		Proxy:       viper.GetString("proxy"),
		Log:         utils.Log,
	}

	cleanup := func() {}
	if viper.GetBool("render") {
		wait, err := durationValue(viper.Get("render_wait"))
		if err != nil {
			return nil, nil, configError("render_wait %v", viper.Get("render_wait"))
		}
		r, err := browser.New(browser.Options{
			RemoteURL: viper.GetString("render_remote"),
			UserAgent: opts.UserAgent,
			Timeout:   timeout,
			Wait:      wait,
		})
		if err != nil {
			return nil, nil, err
		}
		opts.Renderer = r
		cleanup = func() { r.Close() }
	}

	e, err := audit.New(opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return e, cleanup, nil
}

// openDB opens (creating if needed) the baseline database at dbPath, or at
// the default location when dbPath is empty.
func openDB(dbPath string) (*storage.DB, error) {
	path, err := utils.GetAbsDBPath(dbPath)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}
	return db, nil
}

// durationValue accepts Go durations ("15s") and bare numbers, which are
// taken as seconds.
func durationValue(raw interface{}) (time.Duration, error) {
	switch v := raw.(type) {
	case int, int64, float64:
		return time.Duration(cast.ToFloat64(v) * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
	}
	return cast.ToDurationE(raw)
}

// gateThresholds reads the thresholds and checks them against the pillars of
// the configured scoring version, so typos fail before any request is made.
func gateThresholds(cmd *cobra.Command) (gate.Thresholds, error) {
	t, err := thresholdsFromConfig(cmd)
	if err != nil {
		return t, err
	}
	version, err := scoring.Lookup(viper.GetString("scoring"))
	if err != nil {
		return t, configError("%v", err)
	}
	if err := t.Validate(version.Names()); err != nil {
		return t, configError("%v", err)
	}
	return t, nil
}

// thresholdsFromConfig reads thresholds.<pillar> / thresholds.overall from
// config, then applies --threshold overrides.
func thresholdsFromConfig(cmd *cobra.Command) (gate.Thresholds, error) {
	t := gate.DefaultThresholds()

	rt, err := cast.ToFloat64E(viper.Get("regression_threshold"))
	if err != nil {
		return t, configError("regression_threshold %v", viper.Get("regression_threshold"))
	}
	t.RegressionThreshold = rt
	t.RequireBotAccess = viper.GetBool("require_bot_access")
	t.RequireInstructionsFile = viper.GetBool("require_llms_txt")

	set := func(name string, raw interface{}) error {
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return configError("threshold for %s: %v", name, raw)
		}
		if name == report.Overall {
			t.OverallMinimum = &v
			return nil
		}
		if t.PillarMinimums == nil {
			t.PillarMinimums = make(map[string]float64)
		}
		t.PillarMinimums[name] = v
		return nil
	}

	for name, raw := range viper.GetStringMap("thresholds") {
		if err := set(strings.ToLower(name), raw); err != nil {
			return t, err
		}
	}
	if cmd.Flags().Lookup("threshold") != nil {
		overrides, _ := cmd.Flags().GetStringSlice("threshold")
		for _, kv := range utils.SplitList(overrides) {
			name, value, ok := strings.Cut(kv, "=")
			if !ok {
				return t, configError("--threshold %q: want pillar=score", kv)
			}
			if err := set(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
				return t, err
			}
		}
	}
	return t, nil
}
