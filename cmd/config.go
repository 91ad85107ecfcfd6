package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/boardsync/internal/config"
	"github.com/marcus/boardsync/internal/output"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage boardsync configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value (an empty value clears it)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]
		err := config.Update(func(c *config.Config) error {
			return c.Set(key, val)
		})
		if errors.Is(err, config.ErrUnknownKey) {
			output.Error("unknown config key: %s", key)
			output.Info("Valid keys: %s", strings.Join(config.Keys(), ", "))
			return err
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if key == "api_key" && val != "" {
			val = maskSecret(val)
		}
		output.Success("%s = %s", key, val)
		if env := config.EnvVar(key); os.Getenv(env) != "" {
			output.Warning("%s is set and overrides the stored value", env)
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Show effective config values",
	Long: `Show the effective value of one key, or of every key when none is given.
Values come from flags, BOARDSYNC_* environment variables, .env, and the
config file, in that order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := config.Keys()
		if len(args) == 1 {
			keys = args
		}
		for _, key := range keys {
			val, err := cfg.Get(key)
			if err != nil {
				output.Error("%v", err)
				output.Info("Valid keys: %s", strings.Join(config.Keys(), ", "))
				return err
			}
			if key == "api_key" && val != "" {
				val = maskSecret(val)
			}
			if len(args) == 1 {
				output.Info("%s", val)
				continue
			}
			output.Info("%-24s %s", key, val)
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.Path()
		if err != nil {
			return err
		}
		output.Info("%s", path)
		return nil
	},
}

// maskSecret keeps the last four characters of s.
func maskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}
