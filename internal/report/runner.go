package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/whatdid/whatdid/internal/logging"
	"github.com/whatdid/whatdid/pkg/models"
)

// rulerWidth is the width of the separator between connector groups.
const rulerWidth = 79

// Runner executes configured connectors sequentially and renders their
// sections. A failing connector is reported under its own header and the
// run continues with the remaining ones.
type Runner struct {
	Connectors []Connector
	Options    models.RenderOptions
	Out        io.Writer
}

// Run fetches and prints all reports for the user and window. Output
// follows config section order regardless of how long each fetch takes.
func (r *Runner) Run(ctx context.Context, user User, window DateWindow) error {
	fmt.Fprintf(r.Out, "Status report for %s (%s to %s).\n",
		user, window.SinceDate(), window.UntilDate())

	var failed int
	for _, connector := range r.Connectors {
		fmt.Fprintln(r.Out, strings.Repeat("~", rulerWidth))
		fmt.Fprintf(r.Out, "[%s]\n", connector.Name())

		sections, err := connector.Fetch(ctx, user, window)
		if err != nil {
			failed++
			logging.Error("connector failed",
				"section", connector.Name(), "error", err)
			fmt.Fprintf(r.Out, "* Error: %v\n", err)
			continue
		}
		for _, section := range sections {
			r.printSection(section)
		}
	}

	if failed == len(r.Connectors) && failed > 0 {
		return fmt.Errorf("all %d report sections failed", failed)
	}
	return nil
}

func (r *Runner) printSection(section Section) {
	items := models.Dedupe(section.Items)
	fmt.Fprintf(r.Out, "* %s: %d\n", section.Title, len(items))
	for _, item := range items {
		fmt.Fprintf(r.Out, "    %s\n", item.Render(r.Options))
	}
}
