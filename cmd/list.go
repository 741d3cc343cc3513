package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"testfleet/internal/cli"
	fstrings "testfleet/pkg/strings"
)

var listFlags cli.CommandFlags

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List submitted tests and their state",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	cli.RegisterCommonFlags(cmd, &listFlags)
	return cmd
}

func runList(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(listFlags.OutputFormat)
	if err != nil {
		return err
	}
	repo, _, err := openCatalog(listFlags.ConfigPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	tests, err := repo.Tests(cmd.Context())
	if err != nil {
		return err
	}

	t := cli.Table{
		Headers: []string{"id", "product", "owner", "environments", "state", "submitted", "finished"},
		Raw:     tests,
	}
	for _, test := range tests {
		t.Rows = append(t.Rows, []string{
			strconv.Itoa(test.ID),
			fstrings.TruncateCell(test.ProductName+" "+test.ProductVersion, fstrings.DefaultCellMaxLen),
			fstrings.TruncateCell(test.Owner, fstrings.DefaultCellMaxLen),
			strconv.Itoa(len(test.Environments)),
			cli.StateCell(testState(test)),
			formatTime(test.SubmittedAt),
			formatTime(test.FinishedAt),
		})
	}
	return cli.Render(cmd.OutOrStdout(), format, listFlags.NoHeaders, t)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func init() {
	rootCmd.AddCommand(newListCmd())
}
