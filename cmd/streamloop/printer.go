package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"streamloop/pkg/types"
)

// printer renders forwarded snapshots as a running transcript. A snapshot
// that extends the previous one for the same id only prints the new suffix.
type printer struct {
	out     io.Writer
	current string
	printed string
	calls   map[string]types.MessageDecision
	order   []string
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, calls: make(map[string]types.MessageDecision)}
}

func (p *printer) Send(_ context.Context, d types.MessageDecision) error {
	if d.Role != types.RoleAssistant {
		return nil
	}
	if d.ToolCallRequest != nil {
		if _, seen := p.calls[d.ID]; !seen {
			p.order = append(p.order, d.ID)
		}
		p.calls[d.ID] = d
	}

	if d.ID != p.current {
		if p.current != "" {
			if _, err := fmt.Fprintln(p.out); err != nil {
				return err
			}
		}
		p.current, p.printed = d.ID, ""
	}

	msg := d.Message
	if strings.HasPrefix(msg, p.printed) {
		if _, err := io.WriteString(p.out, msg[len(p.printed):]); err != nil {
			return err
		}
	} else {
		// The provider rewrote the message; start a fresh line.
		if _, err := fmt.Fprintf(p.out, "\n%s", msg); err != nil {
			return err
		}
	}
	p.printed = msg
	return nil
}

// finish terminates the transcript and lists the requested tool calls.
func (p *printer) finish() {
	if p.current != "" {
		fmt.Fprintln(p.out)
	}
	for _, d := range p.toolCalls() {
		args, _ := d.ToolCallRequest.Arguments()
		fmt.Fprintf(p.out, "-> %s %s\n", d.ToolCallRequest.ToolName, args)
	}
}

// toolCalls returns the final tool call decision of each message.
func (p *printer) toolCalls() []types.MessageDecision {
	out := make([]types.MessageDecision, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.calls[id])
	}
	return out
}
