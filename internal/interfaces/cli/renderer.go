// Package cli renders run journals as human-readable transcripts for
// `delta show`.
package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/deltaengine/delta/internal/domain/entity"
)

// brand colors, in the teacher's palette.
var (
	colorCyan   = lipgloss.Color("#00D7FF")
	colorGray   = lipgloss.Color("#6C6C6C")
	colorWhite  = lipgloss.Color("#FFFFFF")
	colorGreen  = lipgloss.Color("#00FF87")
	colorYellow = lipgloss.Color("#FFD75F")
	colorRed    = lipgloss.Color("#FF5F5F")
)

// Renderer turns journal events into styled terminal output, falling back
// to plain text when stdout is not a TTY (glamour.WithAutoStyle already
// degrades gracefully; Renderer additionally never emits ANSI when Plain
// is set, for redirected output).
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
	Plain   bool
}

// NewRenderer creates a renderer with the given terminal width.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{glamour: r, width: width}
}

// RenderMarkdown renders markdown text to styled terminal output.
func (r *Renderer) RenderMarkdown(md string) string {
	if r.Plain || r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

func (r *Renderer) style(s lipgloss.Style) lipgloss.Style {
	if r.Plain {
		return lipgloss.NewStyle()
	}
	return s
}

// RenderEvent renders one journal event as a single transcript block.
func (r *Renderer) RenderEvent(ev entity.Event) string {
	ts := ev.Timestamp.Format(time.RFC3339)
	tsStyle := r.style(lipgloss.NewStyle().Foreground(colorGray))
	header := fmt.Sprintf("%s %s", tsStyle.Render(ts), r.eventLabel(ev.Type))

	body := r.eventBody(ev)
	if body == "" {
		return header
	}
	return header + "\n" + body
}

func (r *Renderer) eventLabel(t entity.EventType) string {
	var color lipgloss.Color
	switch t {
	case entity.EventRunStart, entity.EventRunEnd:
		color = colorGreen
	case entity.EventThought:
		color = colorCyan
	case entity.EventActionReq, entity.EventActionResult:
		color = colorYellow
	case entity.EventHookAudit:
		color = colorGray
	default:
		color = colorWhite
	}
	return r.style(lipgloss.NewStyle().Foreground(color).Bold(true)).Render(string(t))
}

func (r *Renderer) eventBody(ev entity.Event) string {
	indent := "  "
	switch p := ev.Payload.(type) {
	case *entity.RunStartPayload:
		return fmt.Sprintf("%stask: %s\n%sagent: %s\n%sconfig_fingerprint: %s",
			indent, p.Task, indent, p.AgentRef, indent, p.ConfigFingerprint)
	case *entity.UserMessagePayload:
		return indent + r.RenderMarkdown(p.Content)
	case *entity.ThoughtPayload:
		out := indent + r.RenderMarkdown(p.Content)
		for _, tc := range p.ToolCalls {
			out += fmt.Sprintf("\n%s%s %s(%s)", indent, r.arrow(), tc.Name, summarizeArgs(tc.Arguments))
		}
		return out
	case *entity.ActionRequestPayload:
		return fmt.Sprintf("%s%s(%s)", indent, p.Name, summarizeArgs(p.Arguments))
	case *entity.ActionResultPayload:
		icon := r.style(lipgloss.NewStyle().Foreground(colorGreen)).Render("OK")
		if p.ExitCode != 0 {
			icon = r.style(lipgloss.NewStyle().Foreground(colorRed)).Render("FAIL")
		}
		obs := p.Observation
		if p.Sensitive {
			obs = "[redacted]"
		}
		trunc := ""
		if p.Truncated {
			trunc = " (truncated)"
		}
		return fmt.Sprintf("%s[%s exit=%d%s]\n%s%s", indent, icon, p.ExitCode, trunc, indent, obs)
	case *entity.HookAuditPayload:
		return fmt.Sprintf("%s%s: %s (%s)", indent, p.HookName, p.Outcome, p.IOPath)
	case *entity.SystemMessagePayload:
		return indent + p.Note
	case *entity.RunEndPayload:
		reason := ""
		if p.Reason != "" {
			reason = ": " + p.Reason
		}
		return fmt.Sprintf("%sstatus: %s%s", indent, p.Status, reason)
	default:
		return ""
	}
}

func (r *Renderer) arrow() string {
	return r.style(lipgloss.NewStyle().Foreground(colorGray)).Render("->")
}

// summarizeArgs renders a tool call's arguments compactly, truncating long
// values so a transcript line doesn't dominate the page.
func summarizeArgs(args map[string]any) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		valStr := fmt.Sprintf("%v", args[k])
		if len(valStr) > 60 {
			valStr = valStr[:60] + "…"
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, valStr))
	}
	return strings.Join(parts, " ")
}
