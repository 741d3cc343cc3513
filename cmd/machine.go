package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"testfleet/internal/cli"
	"testfleet/internal/config"
	"testfleet/internal/model"
	fstrings "testfleet/pkg/strings"
)

var machineFlags cli.CommandFlags

func newMachineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "machine",
		Short: "Manage the machine catalog",
	}
	cli.RegisterCommonFlags(cmd, &machineFlags)

	var save bool
	add := &cobra.Command{
		Use:   "add FILE...",
		Short: "Add or replace machines described in YAML files",
		Long: `Adds the machines described in each file to the catalog. A file may hold a
single machine, a list of machines or several YAML documents. Machines that
already exist are replaced but keep their active flag.

With --save the descriptions are also written to <config-path>/machines so
the controller restores them on its next start.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMachineAdd(cmd, args, save)
		},
	}
	add.Flags().BoolVar(&save, "save", false, "Also store the descriptions in the configuration directory")

	list := &cobra.Command{
		Use:   "list",
		Short: "List catalog machines",
		Args:  cobra.NoArgs,
		RunE:  runMachineList,
	}

	release := &cobra.Command{
		Use:   "release ID...",
		Short: "Mark machines as free again",
		Long: `Clears the active flag of machines. Use this for environments left running
by the on-failure shutdown policy once you are done inspecting them.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runMachineRelease,
	}

	cmd.AddCommand(add, list, release)
	return cmd
}

func runMachineAdd(cmd *cobra.Command, files []string, save bool) error {
	repo, _, err := openCatalog(machineFlags.ConfigPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	var store *config.MachineStore
	if save {
		store = config.NewMachineStore(machineFlags.ConfigPath)
	}

	for _, f := range files {
		machines, err := config.ParseMachinesFile(f)
		if err != nil {
			return err
		}
		for _, m := range machines {
			if err := repo.PutMachine(cmd.Context(), m); err != nil {
				return fmt.Errorf("failed to store machine %s: %w", m.ID, err)
			}
			if store != nil {
				if err := store.Save(m); err != nil {
					return err
				}
			}
			if !machineFlags.Quiet {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Added machine "+m.ID))
			}
		}
	}
	return nil
}

func runMachineList(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(machineFlags.OutputFormat)
	if err != nil {
		return err
	}
	repo, _, err := openCatalog(machineFlags.ConfigPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	machines, err := repo.Machines(cmd.Context())
	if err != nil {
		return err
	}

	t := cli.Table{
		Headers: []string{"id", "kind", "network name", "os", "applications", "state"},
		Raw:     machines,
	}
	for _, m := range machines {
		state := "available"
		if m.IsActive {
			state = "active"
		}
		t.Rows = append(t.Rows, []string{
			m.ID,
			machineKind(m),
			m.NetworkName,
			m.OperatingSystem.String(),
			fstrings.TruncateCell(applications(m.Applications), fstrings.DefaultCellMaxLen),
			cli.StateCell(state),
		})
	}
	return cli.Render(cmd.OutOrStdout(), format, machineFlags.NoHeaders, t)
}

func runMachineRelease(cmd *cobra.Command, ids []string) error {
	repo, _, err := openCatalog(machineFlags.ConfigPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	for _, id := range ids {
		if _, err := repo.Machine(cmd.Context(), id); err != nil {
			return err
		}
		if err := repo.MarkMachineInactive(cmd.Context(), id); err != nil {
			return fmt.Errorf("failed to release machine %s: %w", id, err)
		}
		if !machineFlags.Quiet {
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Released machine "+id))
		}
	}
	return nil
}

func machineKind(m model.MachineDescription) string {
	if m.Hyperv != nil {
		return fmt.Sprintf("%s (on %s)", m.Kind, m.Hyperv.HostID)
	}
	return string(m.Kind)
}

func applications(apps []model.Application) string {
	parts := make([]string, 0, len(apps))
	for _, a := range apps {
		parts = append(parts, a.Name+" "+a.Version)
	}
	return strings.Join(parts, ", ")
}

func init() {
	rootCmd.AddCommand(newMachineCmd())
}
