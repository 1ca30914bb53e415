package cli

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/sqlstream/internal/store"
)

// AppendOptions holds flags for the append command.
type AppendOptions struct {
	*RootOptions
	Expected string
	Type     string
	Payload  string
	Metadata string
	ID       string
}

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AppendOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "append <stream>",
		Short: "Append one message to a stream",
		Long: `Append one message to a stream under an expected-version check.

--expected accepts "any", "no-stream" or a version number. Re-running the
same append with the same --id is idempotent.

Examples:
  sqlstream append orders-1 --type OrderPlaced --payload '{"total":10}' --expected no-stream
  sqlstream append orders-1 --type OrderShipped --expected 0 --id 0190c5d2-...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Expected, "expected", "any", "expected stream version (any|no-stream|N)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "message type (required)")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "message payload")
	cmd.Flags().StringVar(&opts.Metadata, "metadata", "", "message metadata")
	cmd.Flags().StringVar(&opts.ID, "id", "", "message id (default: new UUIDv7)")
	_ = cmd.MarkFlagRequired("type")

	return cmd
}

// AppendView is the printed result of an append.
type AppendView struct {
	MessageID string `json:"message_id"`
	HeadView
}

func (a AppendView) String() string {
	return fmt.Sprintf("appended %s -> %s", a.MessageID, a.HeadView)
}

func runAppend(cmd *cobra.Command, opts *AppendOptions, streamID string) error {
	expected, err := store.ParseExpectedVersion(opts.Expected)
	if err != nil {
		return opts.formatter(cmd).Reject("invalid --expected", err)
	}
	id, err := messageID(opts.ID)
	if err != nil {
		return opts.formatter(cmd).Reject("invalid --id", err)
	}
	key, err := store.ResolveStreamKey(streamID)
	if err != nil {
		return opts.formatter(cmd).Reject("invalid stream id", err)
	}

	sess, err := opts.openSession(cmd)
	if err != nil {
		return err
	}
	defer sess.close()

	res, err := sess.store.Append(commandContext(cmd), key, expected, []store.NewMessage{{
		MessageID: id,
		Type:      opts.Type,
		Payload:   opts.Payload,
		Metadata:  opts.Metadata,
	}})
	if err != nil {
		return sess.out.Fail("append failed", err)
	}

	sess.out.VerboseLog("appended to %s (storage id %s)", key.DisplayID, key.StorageID)
	return sess.out.Success(AppendView{
		MessageID: id.String(),
		HeadView:  newHeadView(streamID, &res.CurrentVersion, res.CurrentPosition),
	})
}

// messageID parses s, or generates a time-ordered id when s is empty.
func messageID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.NewV7()
	}
	return uuid.Parse(s)
}
