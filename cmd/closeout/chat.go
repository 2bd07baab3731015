package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/closeout/internal/closure"
	"github.com/zulandar/closeout/internal/ticket"
	"golang.org/x/term"
)

func newChatCmd() *cobra.Command {
	var (
		configPath string
		operator   string
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Close a ticket interactively in the terminal",
		Long: "Starts a closure session on the terminal. Describe the repair; the reviewer asks follow-up\n" +
			"questions until the report is complete, then shows the extracted ticket and audit for review.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, operator)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to closeout config file")
	cmd.Flags().StringVarP(&operator, "operator", "o", os.Getenv("USER"), "operator name, also the default engineer")
	return cmd
}

func runChat(cmd *cobra.Command, configPath, operator string) error {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return fmt.Errorf("--operator is required")
	}
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	a, err := buildApp(cfg, gormDB, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		r := newREPL(a.machine, operator, cmd.OutOrStdout())
		return r.run(ctx, &scannerReader{s: bufio.NewScanner(cmd.InOrStdin()), out: cmd.OutOrStdout(), prompt: "> "})
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("chat: raw terminal: %w", err)
	}
	defer term.Restore(fd, state)

	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{os.Stdin, os.Stdout}, "> ")
	if w, _, err := term.GetSize(fd); err == nil {
		t.SetSize(w, 0)
	}
	log.SetOutput(t)
	defer log.SetOutput(os.Stderr)

	return newREPL(a.machine, operator, t).run(ctx, t)
}

// lineReader yields one input line at a time; io.EOF ends the session.
type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	s      *bufio.Scanner
	out    io.Writer
	prompt string
}

func (r *scannerReader) ReadLine() (string, error) {
	fmt.Fprint(r.out, r.prompt)
	if !r.s.Scan() {
		if err := r.s.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.s.Text(), nil
}

// repl drives one closure session from typed lines.
type repl struct {
	machine  *closure.Machine
	session  *closure.Session
	operator string
	out      io.Writer
}

func newREPL(machine *closure.Machine, operator string, out io.Writer) *repl {
	return &repl{
		machine:  machine,
		session:  machine.NewSession(operator),
		operator: operator,
		out:      out,
	}
}

const chatHelp = `Commands:
  /show                    show the ticket under review
  /set FIELD=VALUE         edit a ticket field (device_sn, product_line, fault_type, start_time, end_time, final_report)
  /repl N FIELD=VALUE      edit replacement N; N one past the end adds a part
  /submit [ENGINEER]       store the reviewed ticket
  /abandon                 discard this session and start over
  /quit                    leave
`

func (r *repl) run(ctx context.Context, in lineReader) error {
	fmt.Fprintf(r.out, "Describe the repair you finished, %s. Type /help for commands.\n", r.operator)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := in.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		quit, err := r.handle(ctx, line)
		if err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) (quit bool, err error) {
	if !strings.HasPrefix(line, "/") {
		return false, r.say(ctx, line)
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	switch name {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprint(r.out, chatHelp)
	case "/show":
		r.show()
	case "/set":
		return false, r.edit(func(rec *ticket.Record) error { return setField(rec, rest) })
	case "/repl":
		idx, assignment, _ := strings.Cut(rest, " ")
		n, convErr := strconv.Atoi(idx)
		if convErr != nil {
			return false, fmt.Errorf("usage: /repl N FIELD=VALUE")
		}
		return false, r.edit(func(rec *ticket.Record) error { return setReplacementField(rec, n, assignment) })
	case "/submit":
		engineer := rest
		if engineer == "" {
			engineer = r.operator
		}
		id, err := r.machine.Submit(ctx, r.session, engineer)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "Ticket #%d stored. Describe the next repair, or /quit.\n", id)
	case "/abandon":
		if err := r.machine.Abandon(r.session); err != nil {
			return false, err
		}
		fmt.Fprintln(r.out, "Session discarded. Describe the repair from the start.")
	default:
		return false, fmt.Errorf("unknown command %s (try /help)", name)
	}
	return false, nil
}

func (r *repl) say(ctx context.Context, text string) error {
	res, err := r.machine.HandleTurn(ctx, r.session, text)
	if err != nil {
		return err
	}
	if res.Reply != "" {
		fmt.Fprintf(r.out, "%s\n", res.Reply)
	}
	if res.Phase == closure.Review {
		fmt.Fprintln(r.out, "\nThe report is complete. Review the ticket, edit with /set or /repl, then /submit.")
		r.show()
	}
	return nil
}

func (r *repl) show() {
	s := r.session
	if s.Record == nil {
		fmt.Fprintf(r.out, "Phase %s, %d turns so far; no ticket yet.\n", s.Phase, s.Transcript.UserTurns())
		return
	}
	fmt.Fprintln(r.out)
	printRecord(r.out, s.Record)
	if s.RecordDegraded {
		fmt.Fprintln(r.out, "(extraction failed; fields need manual entry)")
	}
	if s.Verdict != nil {
		fmt.Fprintln(r.out)
		printVerdict(r.out, s.Verdict, s.VerdictDegraded)
	}
}

func (r *repl) edit(apply func(*ticket.Record) error) error {
	if r.session.Record == nil {
		return fmt.Errorf("nothing to edit in phase %s", r.session.Phase)
	}
	rec := r.session.Record.Clone()
	if err := apply(&rec); err != nil {
		return err
	}
	if err := r.machine.EditRecord(r.session, rec); err != nil {
		return err
	}
	r.show()
	return nil
}

// setField applies FIELD=VALUE to a record's scalar fields.
func setField(rec *ticket.Record, assignment string) error {
	key, value, ok := strings.Cut(assignment, "=")
	if !ok {
		return fmt.Errorf("usage: /set FIELD=VALUE")
	}
	value = strings.TrimSpace(value)
	switch strings.TrimSpace(key) {
	case "device_sn":
		rec.DeviceSN = value
	case "product_line":
		rec.ProductLine = value
	case "fault_type":
		rec.FaultType = value
	case "start_time":
		rec.StartTime = value
	case "end_time":
		rec.EndTime = value
	case "final_report":
		rec.FinalReport = value
	default:
		return fmt.Errorf("unknown field %q", key)
	}
	return nil
}

// setReplacementField applies FIELD=VALUE to replacement n (1-based).
// n == len+1 appends a new replacement.
func setReplacementField(rec *ticket.Record, n int, assignment string) error {
	if n < 1 || n > len(rec.Replacements)+1 {
		return fmt.Errorf("replacement %d out of range 1..%d", n, len(rec.Replacements)+1)
	}
	key, value, ok := strings.Cut(assignment, "=")
	if !ok {
		return fmt.Errorf("usage: /repl N FIELD=VALUE")
	}
	var r ticket.ReplacementRecord
	if n <= len(rec.Replacements) {
		r = rec.Replacements[n-1]
	}
	value = strings.TrimSpace(value)
	switch strings.TrimSpace(key) {
	case "replace_time":
		r.ReplaceTime = value
	case "action_info":
		r.ActionInfo = value
	case "new_type":
		r.NewType = value
	case "new_qn":
		r.NewQN = value
	case "old_type":
		r.OldType = value
	case "old_qn":
		r.OldQN = value
	default:
		return fmt.Errorf("unknown replacement field %q", key)
	}
	if n == len(rec.Replacements)+1 {
		rec.Replacements = append(rec.Replacements, r)
	} else {
		rec.Replacements[n-1] = r
	}
	return nil
}
