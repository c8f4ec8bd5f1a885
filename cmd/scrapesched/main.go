// Command scrapesched runs the scheduled extraction engine and manages its jobs.
package main

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	return &exitError{code: exitInvalidConfig, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scrapesched",
		Short: "scrapesched - scheduled web content extraction",
		Long: `scrapesched - scheduled web content extraction.

Jobs fire on cron, interval or one-shot schedules. Each fire becomes a task in
a durable queue; workers lease tasks, extract the target pages and store one
record per task.

Configuration is read from the environment. Run "scrapesched config" to see
the effective values.

Examples:
  scrapesched serve
  scrapesched schedule --name news --url https://example.com --schedule hourly
  scrapesched schedule --file jobs.yaml
  scrapesched jobs
  scrapesched export --format csv`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServeCmd(),
		newWorkerCmd(),
		newValidateCmd(),
		newConfigCmd(),
		newVersionCmd(),
		newScheduleCmd(),
		newJobStateCmd("disable", "Disable a job"),
		newJobStateCmd("enable", "Enable a job"),
		newDeleteCmd(),
		newRunCmd(),
		newJobsCmd(),
		newStatsCmd(),
		newExportCmd(),
	)
	return root
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
