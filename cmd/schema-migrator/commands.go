package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	migrator "github.com/PrimeRin/schema-migrator"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func parseTarget(s string) (migrator.ID, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return migrator.ParseID(s)
}

func newMigrateCommand(e *env) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations in ID order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, closeFn, err := e.manager()
			if err != nil {
				return err
			}
			defer closeFn()

			var applied int
			if to == "" {
				applied, err = manager.Run(e.ctx)
			} else {
				target, perr := migrator.ParseID(to)
				if perr != nil {
					return perr
				}
				applied, err = manager.RunTo(e.ctx, target)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", applied)
			return err
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "apply pending migrations up to and including this ID")
	return cmd
}

func newRollbackCommand(e *env) *cobra.Command {
	var steps int

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert the most recently applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, closeFn, err := e.manager()
			if err != nil {
				return err
			}
			defer closeFn()

			reverted, err := manager.Rollback(e.ctx, steps)
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %d migration(s)\n", reverted)
			return err
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to revert")
	return cmd
}

func newDownCommand(e *env) *cobra.Command {
	var to string

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Revert every applied migration newer than --to",
		Long: `Revert every applied migration with an ID above --to, newest first.
Use --to 0 to revert everything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := parseTarget(to)
			if err != nil {
				return err
			}

			manager, closeFn, err := e.manager()
			if err != nil {
				return err
			}
			defer closeFn()

			reverted, err := manager.Downgrade(e.ctx, target)
			fmt.Fprintf(cmd.OutOrStdout(), "reverted %d migration(s)\n", reverted)
			return err
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "keep migrations up to and including this ID")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newStatusCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List migrations and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, closeFn, err := e.manager()
			if err != nil {
				return err
			}
			defer closeFn()

			statuses, err := manager.Status(e.ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATE\tAPPLIED AT\tDESCRIPTION")
			for _, status := range statuses {
				state := string(status.State)
				if status.Modified {
					state += " (modified)"
				}
				appliedAt := "-"
				if !status.AppliedAt.IsZero() {
					appliedAt = status.AppliedAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", status.ID, state, appliedAt, status.Description)
			}
			return w.Flush()
		},
	}
}

func newCheckCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Fail unless every migration is applied and unchanged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, closeFn, err := e.manager()
			if err != nil {
				return err
			}
			defer closeFn()

			if err := manager.Check(e.ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
			return nil
		},
	}
}

func newPlanCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the SQL pending migrations would execute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, closeFn, err := e.manager()
			if err != nil {
				return err
			}
			defer closeFn()

			planned, err := manager.Plan(e.ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(planned) == 0 {
				fmt.Fprintln(out, "-- no pending migrations")
				return nil
			}
			for _, p := range planned {
				fmt.Fprintf(out, "-- %s %s\n", p.Unit.ID, p.Unit.Description)
				for _, statement := range p.Statements {
					fmt.Fprintln(out, strings.TrimSpace(statement)+";")
				}
			}
			return nil
		},
	}
}

func newSchemaCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Dump the schema produced by the applied migrations as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, closeFn, err := e.manager()
			if err != nil {
				return err
			}
			defer closeFn()

			snapshot, err := manager.Snapshot(e.ctx)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(snapshot); err != nil {
				return fmt.Errorf("encode schema: %w", err)
			}
			return enc.Close()
		},
	}
}

func newVersionCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the ID of the newest applied migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, closeFn, err := e.manager()
			if err != nil {
				return err
			}
			defer closeFn()

			version, err := manager.Version(e.ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
