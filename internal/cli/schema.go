package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SchemaResult is the output of init, check and drop.
type SchemaResult struct {
	Schema   string `json:"schema"`
	Dialect  string `json:"dialect"`
	Current  int    `json:"current_version,omitempty"`
	Expected int    `json:"expected_version,omitempty"`
	Match    bool   `json:"match"`
	Action   string `json:"action"`
}

func (r SchemaResult) String() string {
	switch r.Action {
	case "dropped":
		return fmt.Sprintf("Dropped store tables in %s (%s)", r.Schema, r.Dialect)
	case "created":
		return fmt.Sprintf("Schema ready in %s (%s), version %d", r.Schema, r.Dialect, r.Current)
	}
	status := "compatible"
	if !r.Match {
		status = "INCOMPATIBLE"
	}
	return fmt.Sprintf("Schema %s (%s): version %d, expected %d, %s", r.Schema, r.Dialect, r.Current, r.Expected, status)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	var printOnly bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or upgrade the store schema",
		Long: `Create the store tables, or upgrade a legacy layout in place.

Running init on an up-to-date store is a no-op.

Examples:
  sqlstream init --db ./streams.db
  sqlstream init --dialect postgres --db postgres://localhost/app --schema orders
  sqlstream init --db ./streams.db --print`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			if printOnly {
				fmt.Fprint(cmd.OutOrStdout(), sess.store.GetSchemaCreationScript())
				return nil
			}

			ctx := commandContext(cmd)
			if err := sess.store.CreateSchema(ctx); err != nil {
				return sess.out.Fail("failed to create schema", err)
			}
			res, err := sess.store.CheckSchema(ctx)
			if err != nil {
				return sess.out.Fail("failed to check schema", err)
			}
			return sess.out.Success(SchemaResult{
				Schema:   sess.store.Schema(),
				Dialect:  string(sess.store.Dialect()),
				Current:  res.Current,
				Expected: res.Expected,
				Match:    res.IsMatch(),
				Action:   "created",
			})
		},
	}

	cmd.Flags().BoolVar(&printOnly, "print", false, "print the schema DDL instead of running it")
	return cmd
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Compare the durable schema version with this build",
		Long: `Report the schema version recorded in the store and the version this
build expects. Exits with status 1 when they differ.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := rootOpts.openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			res, err := sess.store.CheckSchema(commandContext(cmd))
			if err != nil {
				return sess.out.Fail("failed to check schema", err)
			}
			result := SchemaResult{
				Schema:   sess.store.Schema(),
				Dialect:  string(sess.store.Dialect()),
				Current:  res.Current,
				Expected: res.Expected,
				Match:    res.IsMatch(),
				Action:   "checked",
			}
			if err := sess.out.Success(result); err != nil {
				return err
			}
			if !result.Match {
				// The result above already says why.
				return &ExitError{
					Code:     ExitFailure,
					Message:  fmt.Sprintf("schema version %d, expected %d", res.Current, res.Expected),
					Reported: true,
				}
			}
			return nil
		},
	}
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every store table (destroys all messages)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return rootOpts.formatter(cmd).Reject("refusing to drop without --yes", nil)
			}
			sess, err := rootOpts.openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.close()

			if err := sess.store.DropAll(commandContext(cmd)); err != nil {
				return sess.out.Fail("failed to drop schema", err)
			}
			return sess.out.Success(SchemaResult{
				Schema:  sess.store.Schema(),
				Dialect: string(sess.store.Dialect()),
				Action:  "dropped",
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping all data")
	return cmd
}
