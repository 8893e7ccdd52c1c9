// Command exam-cli takes an exam from a terminal. It drives the same session
// engine as the HTTP agent and shares its snapshot store, so an attempt left
// in one can be resumed in the other.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/client"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/snapshot"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
	"github.com/stemsi/exstem-session/internal/worker"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	// Logs go to stderr so they do not interleave with the exam on stdout.
	log := logger.New(os.Stderr, cfg.LogLevel, "pretty")

	validator.Setup()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := snapshot.Open(ctx, cfg, nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open snapshot store")
	}
	defer closeStore()

	switch os.Args[1] {
	case "snapshots":
		if err := listSnapshots(ctx, store, time.Now()); err != nil {
			log.Fatal().Err(err).Msg("List snapshots failed")
		}
	case "take":
		if err := take(ctx, cfg, store, os.Args[2:], log); err != nil {
			log.Fatal().Err(err).Msg("Exam session failed")
		}
	default:
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Println("Usage: exam-cli <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  snapshots                       list saved attempts")
	fmt.Println("  take -exam ID -duration SECONDS take or resume an exam")
}

func listSnapshots(ctx context.Context, store snapshot.Store, now time.Time) error {
	snaps, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("No saved attempts.")
		return nil
	}
	for _, s := range snaps {
		fmt.Printf("%-24s %-8s %d/%d answered  %s left  saved %s ago\n",
			s.ExamID, s.Kind, len(s.Answers()), len(s.Questions),
			formatRemaining(s.RemainingSeconds), now.Sub(s.SavedAt).Truncate(time.Second))
	}
	return nil
}

func take(ctx context.Context, cfg *config.Config, store snapshot.Store, args []string, log zerolog.Logger) error {
	fs := flag.NewFlagSet("take", flag.ExitOnError)
	var exam model.Exam
	var kind string
	fs.StringVar(&exam.ID, "exam", "", "Exam id")
	fs.StringVar(&kind, "kind", string(model.ExamKindPractice), "LIVE or PRACTICE")
	fs.StringVar(&exam.Title, "title", "", "Exam title")
	fs.IntVar(&exam.DurationSeconds, "duration", 0, "Time budget in seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	exam.Kind = model.ExamKind(strings.ToUpper(kind))
	if err := validator.Struct(exam); err != nil {
		return fmt.Errorf("invalid exam flags: %v", validator.TranslateErrors(err))
	}

	token, err := readToken()
	if err != nil {
		return err
	}

	// ─── Wire the Engine ───────────────────────────────────────────────
	api := client.New(cfg.ExamAPIURL, cfg.ExamAPITimeout, log)
	submitter := client.NewSubmissionClient(api)
	queue := worker.NewMemoryQueue()
	out := newPrinter(os.Stdout)

	manager := session.NewManager(session.Deps{
		Store:     store,
		Questions: client.NewQuestionClient(api),
		Submitter: submitter,
		Retry:     queue,
		Observer:  out,
	}, session.Options{
		AutosaveInterval: cfg.AutosaveInterval,
		MaxSnapshotAge:   cfg.SnapshotMaxAge,
	}, log)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	retryWorker := worker.NewSubmitRetryWorker(queue, submitter, store, manager, cfg.RetryMaxAttempts, cfg.RetryBackoff, log)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		retryWorker.Start(workerCtx)
	}()
	defer func() {
		workerCancel()
		<-workerDone
	}()

	e, err := manager.Open(ctx, exam, token)
	if err != nil {
		return err
	}
	defer manager.CloseAll(context.Background())

	outcome, err := e.Start(ctx)
	if err != nil {
		return err
	}
	if outcome == session.OutcomeResumeOffered {
		out.Line("A saved attempt was found. Type 'resume' or 'fresh'.")
	}
	out.View(e.View())

	return loop(ctx, e, bufio.NewScanner(os.Stdin), out, log)
}

// loop reads commands until the session ends, the user leaves or stdin closes.
func loop(ctx context.Context, e *session.Engine, in *bufio.Scanner, out *printer, log zerolog.Logger) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for in.Scan() {
			lines <- in.Text()
		}
	}()

	guard := session.NewExitGuard(e)
	for {
		out.Prompt()
		var line string
		select {
		case <-ctx.Done():
			out.Line("\nInterrupted. Your progress is saved.")
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = l
		}

		cmd, err := parseCommand(line)
		if errors.Is(err, errEmpty) {
			continue
		}
		if err != nil {
			out.Line(err.Error())
			continue
		}

		switch cmd.kind {
		case cmdHelp:
			out.Help()
			continue
		case cmdView:
			out.View(e.View())
			continue
		case cmdQuit:
			if !guard.Intercept() {
				return nil
			}
			out.Line("Leave the exam? The timer keeps running. Type 'leave' to confirm or 'stay'.")
			continue
		}

		res, err := ws.Apply(ctx, e, cmd.req, log)
		if err != nil {
			out.Line("Error: " + err.Error())
			continue
		}
		if res.Allow != nil && *res.Allow && cmd.req.Action == ws.ActionLeave {
			out.Line("Progress saved. Bye.")
			return nil
		}
		out.View(res.View)
		if res.View.Phase.Terminal() {
			return nil
		}
	}
}

// readToken prefers EXAM_TOKEN and otherwise prompts without echo.
func readToken() (string, error) {
	if tok := strings.TrimSpace(os.Getenv("EXAM_TOKEN")); tok != "" {
		return tok, nil
	}
	if !term.IsTerminal(int(syscall.Stdin)) {
		return "", errors.New("EXAM_TOKEN is not set and stdin is not a terminal")
	}
	fmt.Print("Access token: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	tok := strings.TrimSpace(string(raw))
	if tok == "" {
		return "", errors.New("token is required")
	}
	return tok, nil
}
