package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harunnryd/sitewise/internal/daemon/components"
	sitewiseErrors "github.com/harunnryd/sitewise/internal/errors"
	"github.com/harunnryd/sitewise/internal/logger"
	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/store"

	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		modelName, _ := cmd.Flags().GetString("model")
		noStream, _ := cmd.Flags().GetBool("no-stream")
		sessionID, _ := cmd.Flags().GetString("session")

		return executeWithEngine(cmd, func(ctx context.Context, set *components.Set) error {
			ctrl, err := set.Engine.Controller(modelName)
			if err != nil {
				return err
			}

			r := newREPL(cmd.InOrStdin(), cmd.OutOrStdout(), sessionID, set.Store.GetWorker())
			r.runner = &turnRunner{ctrl: ctrl, out: cmd.OutOrStdout(), stream: !noStream}
			return r.start(ctx)
		})
	},
}

type repl struct {
	reader    *bufio.Reader
	out       io.Writer
	sessionID string
	history   []contract.Message
	runner    *turnRunner
	worker    *store.Worker
}

func newREPL(in io.Reader, out io.Writer, sessionID string, worker *store.Worker) *repl {
	if sessionID == "" {
		sessionID = fmt.Sprintf("cli-%d", time.Now().Unix())
	}
	return &repl{
		reader:    bufio.NewReader(in),
		out:       out,
		sessionID: sessionID,
		worker:    worker,
	}
}

func (r *repl) start(ctx context.Context) error {
	if err := store.ValidateSessionID(r.sessionID); err != nil {
		return err
	}
	ctx = logger.WithSessionID(ctx, r.sessionID)

	fmt.Fprintf(r.out, "Sitewise session: %s\n", r.sessionID)
	fmt.Fprintln(r.out, "Type '/exit' to quit, '/reset' to clear the conversation.")

	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := r.readLine(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (r *repl) readLine(ctx context.Context) error {
	fmt.Fprint(r.out, "> ")
	text, err := r.reader.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || strings.TrimSpace(text) == "") {
		return err
	}

	text = strings.TrimSpace(text)
	switch text {
	case "":
		return nil
	case "/exit":
		return io.EOF
	case "/reset":
		r.history = nil
		if r.worker != nil {
			if err := r.worker.ResetSession(ctx, r.sessionID); err != nil && !sitewiseErrors.IsCategory(err, sitewiseErrors.ErrNotFound) {
				renderError(r.out, err)
				return nil
			}
		}
		fmt.Fprintln(r.out, noticeStyle.Render("(conversation cleared)"))
		return nil
	}

	messages := append(append([]contract.Message(nil), r.history...), contract.Message{Role: contract.RoleUser, Content: text})
	result, runErr := r.runner.run(ctx, messages)
	if runErr != nil {
		if ctx.Err() != nil {
			return io.EOF
		}
		renderError(r.out, runErr)
		return nil
	}

	r.history = append(messages, contract.Message{Role: contract.RoleAssistant, Content: result.FinalText})
	return nil
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("model", "", "model name from the registry (default models.default)")
	chatCmd.Flags().Bool("no-stream", false, "print each answer once its run finished")
	chatCmd.Flags().String("session", "", "session id (default cli-<unix time>)")
}
