package main

import (
	"github.com/spf13/cobra"

	"github.com/FakeKuryr/pfwd/internal/config"
)

var (
	flagConfigPath string
	flagForward    []string
	flagLogLevel   string
	flagLogFormat  string
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pfwd",
		Short: "Supervised multi-protocol port forwarder",
		Long: "pfwd bridges external TCP/UDP clients into services reachable from\n" +
			"distinct Linux network namespaces, or proxies them directly, under a\n" +
			"single supervised process.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&flagConfigPath, "config", "f", "", "path to the YAML configuration file")
	root.PersistentFlags().StringArrayVar(&flagForward, "forward", nil, "repeatable key=value[,key=value] forward entry, merged on top of the config file (CLI wins)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "overrides defaults.log_level from the config file")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "overrides defaults.log_format (text or json)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newValidateCmd())

	return root
}

// loadAndMerge loads the config file (if any), merges --forward flags on
// top of its forward list (CLI wins field by field, matched by label), and
// applies --log-level/--log-format overrides. It does not validate.
func loadAndMerge() (config.File, error) {
	file, err := loadFile(flagConfigPath)
	if err != nil {
		return config.File{}, err
	}

	if flagLogLevel != "" {
		file.Defaults.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		file.Defaults.LogFormat = flagLogFormat
	}

	cli := make([]config.RawForward, 0, len(flagForward))
	for _, f := range flagForward {
		raw, err := parseForwardFlag(f)
		if err != nil {
			return config.File{}, err
		}
		cli = append(cli, raw)
	}

	file.Forward = mergeForwards(file.Forward, cli)
	return file, nil
}
