package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/stemsi/exstem-session/internal/session"
)

// printer draws the session on a terminal. It is also the engine's observer,
// so countdown and submission events arrive from the clock goroutine.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out}
}

// Notify implements session.Observer.
func (p *printer) Notify(n session.Notification) {
	switch n.Kind {
	case session.NotifyTick:
		r := n.View.RemainingSeconds
		if r > 0 && (r%60 == 0 || r <= 10) {
			p.Line(fmt.Sprintf("[%s left]", formatRemaining(r)))
		}
	case session.NotifyAutoSubmitted:
		p.Line("\nTime is up. Your answers were submitted.")
		if n.Err != nil {
			p.Line("The server could not be reached; the submission will be retried.")
		}
		p.result(n)
	case session.NotifySubmitted:
		p.Line("Submitted.")
		p.result(n)
	case session.NotifySubmitFailed:
		p.Line("Submission failed, your answers are kept. Type 'confirm' to try again.")
	}
}

func (p *printer) result(n session.Notification) {
	if n.Result != nil && len(n.Result.Payload) > 0 {
		p.Line("Result: " + string(n.Result.Payload))
	}
}

func (p *printer) Line(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

func (p *printer) Prompt() {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, "> ")
}

func (p *printer) Help() {
	p.Line(strings.Join([]string{
		"pick <opt>    highlight an option (p)",
		"answer <opt>  answer immediately (a)",
		"elim <opt>    eliminate an option (x, live exams)",
		"clear         clear the answer",
		"mark          toggle mark for review",
		"save          save the highlighted option and go next (s)",
		"next          go next without saving (n)",
		"jump <n>      go to question n (j)",
		"submit        review and submit; then 'confirm' or 'cancel'",
		"resume|fresh  answer the resume prompt",
		"bg|fg         simulate the app going to background or foreground",
		"view          redraw (v)",
		"quit          leave the exam (q)",
	}, "\n"))
}

// View draws the whole screen for v.
func (p *printer) View(v session.View) {
	var b strings.Builder

	title := v.Title
	if title == "" {
		title = v.ExamID
	}
	fmt.Fprintf(&b, "\n── %s (%s) ── %s", title, v.Kind, v.Phase)
	if v.Phase == session.PhaseActive || v.Phase == session.PhaseSubmitting {
		fmt.Fprintf(&b, " ── %s left", formatRemaining(v.RemainingSeconds))
	}
	b.WriteString("\n")

	switch {
	case v.ResumeOffer != nil:
		o := v.ResumeOffer
		fmt.Fprintf(&b, "Saved attempt: %d/%d answered, %s left, on question %d.\n",
			o.Answered, o.Total, formatRemaining(o.RemainingSeconds), o.CurrentIndex+1)

	case v.Summary != nil:
		s := v.Summary
		fmt.Fprintf(&b, "Submit? %d answered, %d not answered, %d marked, %d not visited of %d.\n",
			s.Answered, s.NotAnswered, s.Marked, s.NotVisited, s.Total)
		b.WriteString("Type 'confirm' to submit or 'cancel' to go back.\n")

	case v.Question != nil:
		writeQuestion(&b, v)
	}

	if v.LastError != "" {
		fmt.Fprintf(&b, "! %s\n", v.LastError)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprint(p.out, b.String())
}

func writeQuestion(b *strings.Builder, v session.View) {
	q := v.Question
	status, _ := v.CurrentStatus()

	fmt.Fprintf(b, "Q%d/%d", v.CurrentIndex+1, v.Total)
	if status.Marked {
		b.WriteString(" [marked]")
	}
	fmt.Fprintf(b, "  %s\n", q.Text)

	eliminated := make(map[int]bool, len(status.EliminatedOptions))
	for _, o := range status.EliminatedOptions {
		eliminated[o] = true
	}
	for i, opt := range q.Options {
		mark := " "
		switch {
		case status.SelectedOption != nil && *status.SelectedOption == i:
			mark = "*"
		case v.Staged != nil && *v.Staged == i:
			mark = ">"
		case eliminated[i]:
			mark = "x"
		}
		fmt.Fprintf(b, "  %s %s) %s\n", mark, optionLabel(i), opt)
	}

	b.WriteString("  ")
	for i, s := range v.Statuses {
		sym := "·"
		switch {
		case s.Answered:
			sym = "●"
		case s.Marked:
			sym = "◆"
		case s.Visited:
			sym = "○"
		}
		if i == v.CurrentIndex {
			sym = "[" + sym + "]"
		}
		b.WriteString(sym)
	}
	b.WriteString("\n")
}

func formatRemaining(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
