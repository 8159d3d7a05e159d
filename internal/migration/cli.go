package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI prints schema and checkpoint-table state for the migrate subcommands.
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI creates a CLI writing to stdout
func NewCLI(migrator Migrator) *CLI {
	return &CLI{migrator: migrator, output: os.Stdout}
}

// SetOutput redirects CLI output
func (c *CLI) SetOutput(w io.Writer) {
	c.output = w
}

// RunUp creates or upgrades the checkpoints table.
func (c *CLI) RunUp(ctx context.Context) error {
	fmt.Fprintf(c.output, "Applying %s schema...\n", CheckpointsTable)
	if err := c.migrator.Up(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return c.printVersionLine(ctx, "Schema ready")
}

// RunDown rolls back the last schema migration. Rolling back the first one
// drops every stored thread.
func (c *CLI) RunDown(ctx context.Context) error {
	fmt.Fprintln(c.output, "Rolling back last migration...")
	if err := c.migrator.Down(ctx); err != nil {
		return fmt.Errorf("rollback failed: %w", err)
	}
	return c.printVersionLine(ctx, "Rollback complete")
}

// RunForce marks version as applied without running it.
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.migrator.Force(ctx, version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	fmt.Fprintf(c.output, "Schema version forced to %d\n", version)
	return nil
}

// RunVersion prints the applied schema version.
func (c *CLI) RunVersion(ctx context.Context) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}
	fmt.Fprintf(c.output, "Current version: %d%s\n", version, dirtyMark(dirty))
	return nil
}

// RunStatus lists every embedded migration, then the checkpoints table.
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, statusLabel(s))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.output, "\nTotal: %d, Applied: %d, Pending: %d\n",
		info.TotalMigrations, info.AppliedMigrations, info.PendingMigrations)
	fmt.Fprintln(c.output, tableLine(info))
	return nil
}

// RunInfo prints a summary of the schema and the stored threads.
func (c *CLI) RunInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Schema version:\t%d%s\n", info.CurrentVersion, dirtyMark(info.Dirty))
	fmt.Fprintf(w, "Migrations:\t%d applied, %d pending\n", info.AppliedMigrations, info.PendingMigrations)
	if info.CheckpointsReady {
		fmt.Fprintf(w, "Stored threads:\t%d\n", info.Threads)
		fmt.Fprintf(w, "Highest version:\t%d\n", info.MaxVersion)
	} else {
		fmt.Fprintf(w, "Stored threads:\t-\t(%s table missing, run migrate up)\n", CheckpointsTable)
	}
	return w.Flush()
}

func (c *CLI) printVersionLine(ctx context.Context, prefix string) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.output, "%s. Current version: %d\n", prefix, info.CurrentVersion)
	fmt.Fprintln(c.output, tableLine(info))
	return nil
}

func tableLine(info *MigrationInfo) string {
	if !info.CheckpointsReady {
		return fmt.Sprintf("Table %s: not created", CheckpointsTable)
	}
	return fmt.Sprintf("Table %s: %d stored threads, highest version %d",
		CheckpointsTable, info.Threads, info.MaxVersion)
}

func statusLabel(s MigrationStatus) string {
	switch {
	case s.Dirty:
		return "Dirty"
	case s.Applied:
		return "Applied"
	default:
		return "Pending"
	}
}

func dirtyMark(dirty bool) string {
	if dirty {
		return " (dirty)"
	}
	return ""
}
