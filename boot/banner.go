package boot

import (
	_ "embed"
	"fmt"
	"io"
	"os"
)

// LocalBannerPath replaces the built-in banner when the file exists.
const LocalBannerPath = "configs/banner.txt"

//go:embed banner.txt
var defaultBanner []byte

// printBanner writes the startup banner to w unless the configuration
// closes it or the host runs unattended.
func (app *Application) printBanner(w io.Writer) error {
	if app.opts.Unattended || app.bc.Plughost.Application.CloseBanner {
		return nil
	}
	data, err := os.ReadFile(LocalBannerPath)
	if err != nil {
		data = defaultBanner
	}
	if _, err := fmt.Fprintf(w, "%s\n  %s %s\n\n", data, app.GetName(), app.GetVersion()); err != nil {
		return fmt.Errorf("failed to display banner: %w", err)
	}
	return nil
}
