package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sw33tLie/airscope/internal/utils"
	"github.com/sw33tLie/airscope/pkg/discovery"
	"github.com/sw33tLie/airscope/pkg/robots"
	"github.com/sw33tLie/airscope/pkg/whttp"
)

// discoverCmd implements: airscope discover <url>
// It previews which pages a site audit would sample, without scoring them.
var discoverCmd = &cobra.Command{
	Use:     "discover <url>",
	Short:   "List the pages a site audit would sample",
	Args:    cobra.ExactArgs(1),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		timeout, err := durationValue(viper.Get("timeout"))
		if err != nil {
			return configError("timeout %v", viper.Get("timeout"))
		}

		client, err := whttp.NewClient(whttp.Options{
			Timeout:   timeout,
			UserAgent: viper.GetString("user_agent"),
			Proxy:     viper.GetString("proxy"),
			Log:       utils.Log,
		})
		if err != nil {
			return err
		}
		memo := whttp.NewMemo(client)
		d := discovery.Discoverer{Fetcher: memo, Robots: robots.NewCache(memo), Log: utils.Log}

		res := d.Discover(context.Background(), args[0], viper.GetInt("max_pages"), "")
		if format == "json" {
			return printJSON(os.Stdout, res)
		}

		fmt.Printf("Discovered %d candidates via %s, sampled %d:\n", res.Found, res.Method, len(res.URLs))
		for _, u := range res.URLs {
			fmt.Printf("  %s\n", u)
		}
		printErrors(os.Stdout, res.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().Duration("timeout", 0, "Per-request timeout (default 15s)")
	discoverCmd.Flags().Int("max-pages", 0, "Maximum number of pages to sample (default 10)")
	discoverCmd.Flags().String("user-agent", "", "User-Agent header for all requests")
	discoverCmd.Flags().StringP("format", "f", "text", "Output format: text or json")
}
