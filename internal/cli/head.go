package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlstream/internal/store"
)

// NewHeadCommand creates the head command.
func NewHeadCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "head [stream]",
		Short: "Show the store head, or a stream's head version and position",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key store.StreamKey
			if len(args) == 1 {
				var err error
				if key, err = store.ResolveStreamKey(args[0]); err != nil {
					return rootOpts.formatter(cmd).Reject("invalid stream id", err)
				}
			}

			sess, err := rootOpts.openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.close()
			ctx := commandContext(cmd)

			if len(args) == 0 {
				pos, err := sess.store.ReadHeadPosition(ctx)
				if err != nil {
					return sess.out.Fail("failed to read head", err)
				}
				return sess.out.Success(newHeadView("", nil, pos))
			}

			version, err := sess.store.ReadStreamHeadVersion(ctx, key)
			if err != nil {
				return sess.out.Fail("failed to read stream head", err)
			}
			pos, err := sess.store.ReadStreamHeadPosition(ctx, key)
			if err != nil {
				return sess.out.Fail("failed to read stream head", err)
			}
			return sess.out.Success(newHeadView(key.DisplayID, &version, pos))
		},
	}
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	var before string

	cmd := &cobra.Command{
		Use:   "count <stream>",
		Short: "Count the messages of a stream",
		Long: `Count the messages of a stream, optionally only those created before a
cutoff (RFC 3339).

Examples:
  sqlstream count orders-1
  sqlstream count orders-1 --before 2024-06-01T00:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := store.ResolveStreamKey(args[0])
			if err != nil {
				return rootOpts.formatter(cmd).Reject("invalid stream id", err)
			}
			var cutoff *time.Time
			if before != "" {
				t, err := time.Parse(time.RFC3339Nano, before)
				if err != nil {
					return rootOpts.formatter(cmd).Reject(fmt.Sprintf("invalid --before %q", before), err)
				}
				t = t.UTC()
				cutoff = &t
			}

			sess, err := rootOpts.openSession(cmd)
			if err != nil {
				return err
			}
			defer sess.close()
			ctx := commandContext(cmd)

			var n int
			if cutoff != nil {
				n, err = sess.store.CountMessagesBefore(ctx, key, *cutoff)
			} else {
				n, err = sess.store.CountMessages(ctx, key)
			}
			if err != nil {
				return sess.out.Fail("failed to count messages", err)
			}
			return sess.out.Success(CountView{StreamID: key.DisplayID, Before: cutoff, Count: n})
		},
	}

	cmd.Flags().StringVar(&before, "before", "", "only count messages created before this RFC 3339 time")
	return cmd
}
