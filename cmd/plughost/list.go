package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/go-lynx/plughost/boot"
	"github.com/go-lynx/plughost/loader"
	"github.com/go-lynx/plughost/plugins"
)

var cmdList = &cobra.Command{
	Use:     "list",
	Short:   "List the plugin modules the host would load",
	Long:    `Resolve the configured plugin list or folder and print the modules in load order, marking the ones linked into the binary.`,
	Aliases: []string{"ls"},
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := boot.NewApplication(flags.options(nil))
		if err := app.LoadBootstrapConfig(); err != nil {
			return err
		}
		paths, err := app.DiscoverPlugins()
		printPlugins(cmd.OutOrStdout(), paths, loader.Builtin().Names())
		return err
	},
}

func printPlugins(w io.Writer, paths []string, builtin []string) {
	if len(paths) == 0 {
		fmt.Fprintln(w, color.YellowString("No plugin modules found."))
		return
	}
	linked := make(map[string]bool, len(builtin))
	for _, name := range builtin {
		linked[name] = true
	}

	fmt.Fprintf(w, "%s\n", color.CyanString("Plugins (%d):", len(paths)))
	fmt.Fprintln(w, strings.Repeat("=", 50))
	for i, path := range paths {
		id := plugins.NewPluginID(path)
		var status string
		switch {
		case linked[id.Name()]:
			status = color.GreenString("built-in")
		case fileExists(path):
			status = color.GreenString("module")
		default:
			status = color.RedString("missing")
		}
		fmt.Fprintf(w, "  %2d. %-24s %s  %s\n", i+1, id.Name(), status, color.HiBlackString(path))
	}
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
