package main

import (
	"context"
	"fmt"
	"io"

	"github.com/harunnryd/sitewise/internal/model/contract"
	"github.com/harunnryd/sitewise/internal/orchestrator"

	"charm.land/lipgloss/v2"
)

var (
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("99"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
)

// turnRunner runs one conversation turn and renders it to out.
type turnRunner struct {
	ctrl   *orchestrator.FallbackController
	out    io.Writer
	stream bool
}

func (t *turnRunner) run(ctx context.Context, messages []contract.Message) (*orchestrator.RunResult, error) {
	var (
		result *orchestrator.RunResult
		err    error
	)
	if t.stream {
		result, err = t.runStream(ctx, messages)
	} else {
		result, err = t.ctrl.Run(ctx, messages)
		if err == nil {
			fmt.Fprintln(t.out, result.FinalText)
		}
	}
	if err != nil {
		return nil, err
	}

	if result.Fallback {
		fmt.Fprintln(t.out, noticeStyle.Render("(answered without tools after a backend failure)"))
	}
	if result.Truncated {
		fmt.Fprintln(t.out, noticeStyle.Render(fmt.Sprintf("(stopped after %d steps)", len(result.Steps))))
	}
	return result, nil
}

func (t *turnRunner) runStream(ctx context.Context, messages []contract.Message) (*orchestrator.RunResult, error) {
	rs := t.ctrl.Stream(ctx, messages)
	defer rs.Close()

	names := make(map[string]string)
	midLine := false
	for ev := range rs.Events() {
		switch ev.Type {
		case contract.EventTextDelta:
			fmt.Fprint(t.out, ev.Text)
			midLine = ev.Text != "" && ev.Text[len(ev.Text)-1] != '\n'
		case contract.EventToolCallDelta:
			if ev.ToolName != "" {
				names[ev.ToolCallID] = ev.ToolName
			}
		case contract.EventToolCallComplete:
			if midLine {
				fmt.Fprintln(t.out)
				midLine = false
			}
			fmt.Fprintln(t.out, toolStyle.Render("→ "+names[ev.ToolCallID]))
		}
	}
	if midLine {
		fmt.Fprintln(t.out)
	}
	return rs.Result()
}

func renderError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("error: ")+err.Error())
}
