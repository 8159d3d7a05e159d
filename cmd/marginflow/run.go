package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/agent/escalation"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

const telemetryShutdownTimeout = 5 * time.Second

type runOptions struct {
	thread  string
	message string
	reset   bool
	asJSON  bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start or resume an escalation thread",
		Long: `Run drives the thread until an agent concludes, a step budget is
exhausted, or an error occurs. Every committed superstep is checkpointed, so
an interrupted thread resumes where it stopped on the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runThread(cmd, root, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.thread, "thread", "t", escalation.DemoThread, "Thread id")
	f.StringVarP(&opts.message, "message", "m", escalation.DemoPrompt, "User message seeding the thread")
	f.BoolVar(&opts.reset, "reset", false, "Delete the thread checkpoint before running")
	f.BoolVar(&opts.asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func runThread(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := root.cfg.Engine.RunTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	a, err := newApp(ctx, root.cfg, root.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			root.logger.Warn("shutdown", zap.Error(err))
		}
	}()

	if opts.reset {
		if err := a.executor.Reset(ctx, opts.thread); err != nil {
			return err
		}
	}

	var input []types.Message
	if opts.message != "" {
		input = append(input, types.NewUserMessage(opts.message))
	}
	res, err := a.executor.Invoke(ctx, opts.thread, input...)
	if err != nil {
		if types.IsCode(err, types.ErrStepBudgetExceeded) {
			fmt.Fprintf(cmd.ErrOrStderr(), "step budget exhausted; run again to resume thread %s\n", opts.thread)
		}
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printTranscript(cmd.OutOrStdout(), res.Messages)
	fmt.Fprintf(cmd.OutOrStdout(), "\nthread=%s version=%d steps=%d cursor=%s\n",
		res.ThreadID, res.Version, res.Steps, cursorLabel(res.Cursor))
	return nil
}

// printTranscript 以一行一条的形式输出转录
func printTranscript(w io.Writer, msgs []types.Message) {
	for _, m := range msgs {
		fmt.Fprintln(w, formatMessage(m))
	}
}

func formatMessage(m types.Message) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(string(m.Role))
	if m.Name != "" {
		b.WriteString("/")
		b.WriteString(m.Name)
	}
	b.WriteString("]")

	if m.Content != "" {
		b.WriteString(" ")
		b.WriteString(m.Content)
	}
	for _, tc := range m.ToolCalls {
		fmt.Fprintf(&b, " -> %s(%s)", tc.Name, string(tc.Arguments))
	}
	if m.ErrorKind != "" {
		fmt.Fprintf(&b, " (%s)", m.ErrorKind)
	}
	return b.String()
}

// cursorLabel 终止游标显示为 done
func cursorLabel(c workflow.NodeID) string {
	if c == workflow.Terminal {
		return "done"
	}
	return string(c)
}
