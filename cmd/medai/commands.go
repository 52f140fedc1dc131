package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bdougie/medai/internal/analyzer"
	"github.com/bdougie/medai/internal/models"
	"github.com/bdougie/medai/internal/storage"
)

var errUsage = errors.New("usage")

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"prescription": runPrescription,
	"posture":      runPosture,
	"chat":         runChat,
	"notes":        runNotes,
	"history":      runHistory,
	"serve":        runServe,
}

// historyOnly commands run without a model client or its credentials
var historyOnly = map[string]bool{
	"history": true,
}

type postureFlags struct {
	File   string
	Frames int
	Whole  bool
}

type historyFlags struct {
	Clear  bool
	Search string
	Limit  int
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// parse reports flag errors as errUsage once the flag package has printed them
func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(fs.Output(), "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return errUsage
	}
	return nil
}

func requireFlag(fs *flag.FlagSet, name, value string) error {
	if strings.TrimSpace(value) == "" {
		fmt.Fprintf(fs.Output(), "-%s is required\n", name)
		fs.Usage()
		return errUsage
	}
	return nil
}

func parseFileFlag(name string, out io.Writer, args []string) (string, error) {
	fs := newFlagSet(name, out)
	file := fs.String("file", "", "path to the input file")
	if err := parse(fs, args); err != nil {
		return "", err
	}
	if err := requireFlag(fs, "file", *file); err != nil {
		return "", err
	}
	return *file, nil
}

func parsePostureFlags(out io.Writer, args []string, defaultFrames int) (postureFlags, error) {
	var f postureFlags
	fs := newFlagSet("posture", out)
	fs.StringVar(&f.File, "file", "", "path to the exercise video")
	fs.IntVar(&f.Frames, "frames", defaultFrames, "number of frames to sample")
	fs.BoolVar(&f.Whole, "whole", false, "send the whole video in one request")
	if err := parse(fs, args); err != nil {
		return f, err
	}
	if err := requireFlag(fs, "file", f.File); err != nil {
		return f, err
	}
	if f.Frames < 1 {
		fmt.Fprintln(out, "-frames must be >= 1")
		return f, errUsage
	}
	return f, nil
}

func parseChatFlags(out io.Writer, args []string) (string, error) {
	fs := newFlagSet("chat", out)
	q := fs.String("q", "", "health question to ask")
	if err := fs.Parse(args); err != nil {
		return "", errUsage
	}
	question := *q
	if question == "" {
		// allow `medai chat how much water should I drink`
		question = strings.Join(fs.Args(), " ")
	}
	if err := requireFlag(fs, "q", question); err != nil {
		return "", err
	}
	return question, nil
}

func parseHistoryFlags(out io.Writer, args []string) (historyFlags, error) {
	var f historyFlags
	fs := newFlagSet("history", out)
	fs.BoolVar(&f.Clear, "clear", false, "delete all history")
	fs.StringVar(&f.Search, "search", "", "rank past results by similarity to this text")
	fs.IntVar(&f.Limit, "limit", 10, "maximum search results")
	if err := parse(fs, args); err != nil {
		return f, err
	}
	if f.Clear && f.Search != "" {
		fmt.Fprintln(out, "-clear and -search are mutually exclusive")
		return f, errUsage
	}
	if f.Limit < 1 {
		fmt.Fprintln(out, "-limit must be >= 1")
		return f, errUsage
	}
	return f, nil
}

func runPrescription(ctx context.Context, a *app, args []string) error {
	file, err := parseFileFlag("prescription", a.out, args)
	if err != nil {
		return err
	}
	result, err := a.analyzer.ReadPrescription(ctx, file)
	return a.report(ctx, models.KindPrescription, file, result, err)
}

func runPosture(ctx context.Context, a *app, args []string) error {
	f, err := parsePostureFlags(a.out, args, a.cfg.Frames)
	if err != nil {
		return err
	}

	var result string
	if f.Whole {
		result, err = a.analyzer.AnalyzePostureWhole(ctx, f.File)
	} else {
		result, err = a.analyzer.AnalyzePostureFrames(ctx, f.File, f.Frames, func(fraction float64) {
			fmt.Fprintf(a.out, "progress: %3d%%\n", int(fraction*100))
		})
	}
	return a.report(ctx, models.KindVideo, f.File, result, err)
}

func runChat(ctx context.Context, a *app, args []string) error {
	question, err := parseChatFlags(a.out, args)
	if err != nil {
		return err
	}
	answer, err := a.analyzer.Chat(ctx, question)
	return a.report(ctx, models.KindChat, question, answer, err)
}

func runNotes(ctx context.Context, a *app, args []string) error {
	file, err := parseFileFlag("notes", a.out, args)
	if err != nil {
		return err
	}
	transcript, notes, err := a.analyzer.AudioNotes(ctx, file)
	if transcript != "" {
		fmt.Fprintf(a.out, "Transcript:\n%s\n\n", transcript)
	}
	if err == nil {
		fmt.Fprint(a.out, "Medical Notes:\n")
	}
	return a.report(ctx, models.KindAudio, file, notes, err)
}

func runHistory(ctx context.Context, a *app, args []string) error {
	f, err := parseHistoryFlags(a.out, args)
	if err != nil {
		return err
	}

	switch {
	case f.Clear:
		if err := a.history.Clear(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "History cleared.")
		return nil
	case f.Search != "":
		searcher, ok := a.history.(storage.Searcher)
		if !ok {
			return storage.ErrSearchUnavailable
		}
		entries, err := searcher.Search(ctx, f.Search, f.Limit)
		if err != nil {
			return err
		}
		printHistory(a.out, entries)
		return nil
	default:
		entries, err := a.history.Load(ctx)
		if err != nil {
			return err
		}
		printHistory(a.out, entries)
		return nil
	}
}

func runServe(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("serve", a.out)
	addr := fs.String("addr", a.cfg.Addr, "listen address")
	if err := parse(fs, args); err != nil {
		return err
	}
	return serve(ctx, a, *addr)
}

// report prints the outcome and records it in history. A failed analysis
// is shown and recorded before its error is returned.
func (a *app) report(ctx context.Context, kind models.Kind, input, result string, err error) error {
	entry := analyzer.Entry(kind, input, result, err)
	if err != nil {
		fmt.Fprintln(a.out, err.Error())
	} else {
		fmt.Fprintln(a.out, result)
	}
	if herr := a.history.Append(ctx, entry); herr != nil {
		a.logger.Error("failed to append history", "type", kind, "error", herr)
	}
	return err
}

func printHistory(w io.Writer, entries []models.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history yet.")
		return
	}
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(w, "---")
		}
		status := string(e.Status)
		if e.Failed() {
			status = fmt.Sprintf("%s (%s)", e.Status, e.ErrorKind)
		}
		fmt.Fprintf(w, "%s  %s  %s\n", e.Timestamp.Local().Format(time.DateTime), e.Type, status)
		fmt.Fprintf(w, "Input: %s\n", e.Input)
		fmt.Fprintf(w, "Result: %s\n", e.Result)
	}
}
