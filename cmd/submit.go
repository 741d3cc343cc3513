package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"testfleet/internal/catalog"
	"testfleet/internal/cli"
	"testfleet/internal/model"
	"testfleet/internal/report"
	"testfleet/internal/submission"
)

var (
	submitFlags   cli.CommandFlags
	submitWait    bool
	submitTimeout time.Duration
	submitPoll    = 2 * time.Second
)

func newSubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit FILE",
		Short: "Queue a test description",
		Long: `Validates a test description, packs the files its steps reference into a
suite package and queues the test in the catalog. Relative file paths are
resolved against the directory of the description.

With --wait the command blocks until the report has been delivered and
exits non-zero if the test failed.`,
		Args: cobra.ExactArgs(1),
		RunE: runSubmit,
	}
	cli.RegisterCommonFlags(cmd, &submitFlags)
	cmd.Flags().BoolVar(&submitWait, "wait", false, "Wait for the test report")
	cmd.Flags().DurationVar(&submitTimeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
	return cmd
}

func runSubmit(cmd *cobra.Command, args []string) error {
	repo, cfg, err := openCatalog(submitFlags.ConfigPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	id, err := submission.New(repo, cfg.Controller.PackageDir).SubmitFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Queued test %d", id)))
	if !submitWait {
		return nil
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if submitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, submitTimeout)
		defer cancel()
	}

	var test model.Test
	err = cli.Progress(cmd.ErrOrStderr(), submitFlags.Quiet, fmt.Sprintf("Waiting for test %d...", id), func() error {
		var werr error
		test, werr = waitForCompletion(ctx, repo, id)
		return werr
	})
	if err != nil {
		return err
	}

	dir := test.ReportPath
	if dir == "" {
		dir = cfg.Reports.Directory
	}
	files, result := findReport(dir, id)
	for _, f := range files {
		fmt.Fprintln(out, "Report: "+f)
	}
	switch result {
	case model.ResultFailed:
		return fmt.Errorf("test %d failed", id)
	case model.ResultPassed:
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Test %d passed", id)))
	default:
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("Test %d finished; no YAML report found in %s", id, dir)))
	}
	return nil
}

// waitForCompletion polls the catalog until the test is stopped.
func waitForCompletion(ctx context.Context, repo catalog.Repository, id int) (model.Test, error) {
	ticker := time.NewTicker(submitPoll)
	defer ticker.Stop()
	for {
		test, err := repo.Test(ctx, id)
		if err != nil {
			return test, err
		}
		if !test.FinishedAt.IsZero() {
			return test, nil
		}
		select {
		case <-ctx.Done():
			return test, fmt.Errorf("gave up waiting for test %d: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// findReport returns the delivered report files of a test and the result
// recorded in its YAML rendering, if any.
func findReport(dir string, id int) ([]string, model.TestResult) {
	matches, _ := filepath.Glob(filepath.Join(dir, fmt.Sprintf("test-%d-*", id)))
	var files []string
	var result model.TestResult
	for _, m := range matches {
		if strings.HasSuffix(m, ".tmp") {
			continue
		}
		files = append(files, m)
		if filepath.Ext(m) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		var r report.Report
		if yaml.Unmarshal(data, &r) == nil {
			result = r.Result
		}
	}
	return files, result
}

func init() {
	rootCmd.AddCommand(newSubmitCmd())
}
