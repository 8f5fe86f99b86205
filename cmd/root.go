package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/sw33tLie/airscope/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

const (
	LOGO = `	       _
	  __ _(_)_ __ ___  ___ ___  _ __   ___
	 / _' | | '__/ __|/ __/ _ \| '_ \ / _ \
	| (_| | | |  \__ \ (_| (_) | |_) |  __/
	 \__,_|_|_|  |___/\___\___/| .__/ \___|
	                           |_|

`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "airscope",
	Short: "Audit how ready a website is for AI crawlers and LLM agents.",
	Long: LOGO + `airscope scores a page or a whole site from 0 to 100 across content quality,
crawler permissions, structured data, llms.txt and agent readiness, and can
gate CI pipelines on thresholds and regressions against a saved baseline.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.airscope.yaml, then $HOME/.airscope.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("proxy", "", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "Set log level. Available: debug, info, warn, error, fatal")

	viper.BindPFlag("proxy", rootCmd.PersistentFlags().Lookup("proxy"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath(home)
		viper.SetConfigName(".airscope")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("airscope")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// Defaults mirror the flag defaults so config-only runs behave the same.
	viper.SetDefault("timeout", "15s")
	viper.SetDefault("site_timeout", "90s")
	viper.SetDefault("max_pages", 10)
	viper.SetDefault("concurrency", 5)
	viper.SetDefault("scoring", "v2")
	viper.SetDefault("bots", []string{})
	viper.SetDefault("render", false)
	viper.SetDefault("render_remote", "")
	viper.SetDefault("render_wait", "0s")
	viper.SetDefault("user_agent", "")
	viper.SetDefault("regression_threshold", 5.0)
	viper.SetDefault("require_bot_access", false)
	viper.SetDefault("require_llms_txt", false)

	// Init log library
	levelString, _ := rootCmd.PersistentFlags().GetString("loglevel")
	utils.SetLogLevel(levelString)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			utils.Log.Errorf("Could not read config file: %v", err)
			os.Exit(1)
		}
	} else {
		utils.Log.Debugf("Using config file %s", viper.ConfigFileUsed())
	}
}
