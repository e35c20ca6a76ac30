package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	// built-in example plugins
	_ "github.com/go-lynx/plughost/examples/plugins/greeter"
	_ "github.com/go-lynx/plughost/examples/plugins/hello"
)

// release is set with -ldflags "-X main.release=x.y.z"
var release = "dev"

var rootCmd = &cobra.Command{
	Use:     "plughost",
	Short:   "plughost: a dynamic plugin host",
	Long:    `plughost loads plugin modules into per-plugin component contexts and starts the application one of them registers.`,
	Version: release,
	// running the host is the default action
	Args:         cobra.ArbitraryArgs,
	RunE:         runHost,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.confPath, "conf", "c", "", "config file or directory, eg: --conf configs/plughost.yaml")
	pf.StringVar(&flags.pluginsDir, "plugins-dir", "", "folder scanned for plugin modules")
	pf.StringVar(&flags.pluginList, "plugin-list", "", "plugin list file (.txt or .yaml), preferred over the folder")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level: debug|info|warn|error")

	rootCmd.AddCommand(cmdRun, cmdList)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
