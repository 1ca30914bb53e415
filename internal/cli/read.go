package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sqlstream/internal/store"
)

// ReadOptions holds flags for the read command.
type ReadOptions struct {
	*RootOptions
	From      string
	Max       int
	Backwards bool
}

// NewReadCommand creates the read command.
func NewReadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "read [stream]",
		Short: "Read one page of messages from the store or a stream",
		Long: `Read one page of messages. Without a stream, reads across every stream
by position; with a stream, reads that stream by version.

--from is a position (store reads) or a version (stream reads). Forwards it
defaults to the start; backwards it defaults to the head ("end").

Examples:
  sqlstream read --max 50
  sqlstream read --backwards
  sqlstream read orders-1 --from 3
  sqlstream read orders-1 --backwards --from end --format json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stream := ""
			if len(args) == 1 {
				stream = args[0]
			}
			return runRead(cmd, opts, stream)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "start position/version (number or \"end\")")
	cmd.Flags().IntVar(&opts.Max, "max", 100, "maximum number of messages")
	cmd.Flags().BoolVar(&opts.Backwards, "backwards", false, "read towards the start")

	return cmd
}

func runRead(cmd *cobra.Command, opts *ReadOptions, stream string) error {
	if opts.Max <= 0 {
		return opts.formatter(cmd).Reject("--max must be positive", nil)
	}
	from, fromEnd, err := parseFrom(opts.From, opts.Backwards)
	if err != nil {
		return opts.formatter(cmd).Reject("invalid --from", err)
	}
	var key store.StreamKey
	if stream != "" {
		if key, err = store.ResolveStreamKey(stream); err != nil {
			return opts.formatter(cmd).Reject("invalid stream id", err)
		}
		if from > math.MaxInt32 {
			return opts.formatter(cmd).Reject(fmt.Sprintf("--from %d exceeds the version range", from), nil)
		}
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.close()
	ctx := commandContext(cmd)

	var view PageView
	switch {
	case stream == "":
		var page store.AllPage
		if opts.Backwards {
			start := store.PositionEnd
			if !fromEnd {
				start = store.PositionAt(from)
			}
			page, err = sess.store.ReadAllBackwards(ctx, start, opts.Max)
		} else {
			page, err = sess.store.ReadAllForwards(ctx, from, opts.Max)
		}
		if err != nil {
			return sess.out.Fail("read failed", err)
		}
		view = PageView{From: page.From, Next: page.Next, IsEnd: page.IsEnd, Messages: messageViews(page.Messages)}

	default:
		var page store.StreamPage
		if opts.Backwards {
			start := store.StreamVersionEnd
			if !fromEnd {
				start = store.StreamVersionAt(int32(from))
			}
			page, err = sess.store.ReadStreamBackwards(ctx, key, start, opts.Max)
		} else {
			page, err = sess.store.ReadStreamForwards(ctx, key, int32(from), opts.Max)
		}
		if err != nil {
			return sess.out.Fail("read failed", err)
		}
		view = PageView{
			StreamID: page.StreamID,
			Status:   page.Status.String(),
			From:     int64(page.From),
			Next:     int64(page.Next),
			IsEnd:    page.IsEnd,
			Messages: messageViews(page.Messages),
		}
	}

	return sess.out.Success(view)
}

// parseFrom parses --from. The empty string means the start forwards and the
// head backwards.
func parseFrom(s string, backwards bool) (from int64, end bool, err error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" && backwards, strings.EqualFold(s, "end"):
		if !backwards {
			return 0, false, fmt.Errorf("\"end\" is only valid with --backwards")
		}
		return 0, true, nil
	case s == "":
		return 0, false, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("%q is not a non-negative number", s)
	}
	return n, false, nil
}
