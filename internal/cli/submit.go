package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/arloliu/peerpair/intake"
)

var flagMsgID string

var submitCmd = &cobra.Command{
	Use:   "submit <kind> <request.json|->",
	Short: "Queue a request for a running server",
	Long: "Publishes a JSON request on the intake stream consumed by 'peerpair serve'. " +
		"Kinds: " + kindList() + ".",
	Example: `  peerpair submit automatic request.json
  echo '{"taskId":"t-1"}' | peerpair submit replace_task -`,
	Args: cobra.ExactArgs(2),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().StringVar(&flagMsgID, "msg-id", "", "deduplication ID; a repeated ID within the stream window is dropped")
}

func kindList() string {
	kinds := intake.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}

	return strings.Join(names, ", ")
}

// readRequest reads a JSON request from path, or stdin for "-".
func readRequest(path string, stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s does not contain valid JSON", path)
	}

	return json.RawMessage(data), nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	kind := intake.Kind(args[0])
	if !kind.Valid() {
		return fail(ExitUsageError, fmt.Errorf("unknown kind %q, want one of: %s", args[0], kindList()))
	}

	req, err := readRequest(args[1], cmd.InOrStdin())
	if err != nil {
		return fail(ExitUsageError, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail(ExitConfigError, err)
	}
	if !cfg.Intake.Enabled {
		return fail(ExitConfigError, errors.New("intake.enabled is false; no server consumes submitted requests"))
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	nc, err := nats.Connect(cfg.NATS.URL, nats.Name("peerpair-submit"))
	if err != nil {
		return fail(ExitRuntimeError, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err))
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fail(ExitRuntimeError, err)
	}

	var opts []jetstream.PublishOpt
	if flagMsgID != "" {
		opts = append(opts, jetstream.WithMsgID(flagMsgID))
	}

	ack, err := intake.Publish(ctx, js, cfg.NATS.SubjectPrefix, kind, req, opts...)
	if err != nil {
		return fail(ExitRuntimeError, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s request queued on %s (seq %d)\n",
		okStyle.Render("ok"), kind, ack.Stream, ack.Sequence)

	return nil
}
