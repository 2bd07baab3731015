package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/closeout/internal/store"
	"github.com/zulandar/closeout/internal/ticket"
)

func newTicketsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Inspect stored tickets",
	}

	cmd.AddCommand(newTicketsListCmd())
	cmd.AddCommand(newTicketsShowCmd())
	return cmd
}

func newTicketsListCmd() *cobra.Command {
	var (
		configPath string
		filter     store.Filter
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicketsList(cmd, configPath, filter)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to closeout config file")
	cmd.Flags().StringVar(&filter.Engineer, "engineer", "", "only tickets submitted by this engineer")
	cmd.Flags().IntVar(&filter.Limit, "limit", store.DefaultListLimit, "maximum tickets to show")
	return cmd
}

func runTicketsList(cmd *cobra.Command, configPath string, filter store.Filter) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	st, err := store.New(gormDB)
	if err != nil {
		return err
	}
	rows, err := st.List(context.Background(), filter)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No tickets found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tENGINEER\tDEVICE\tFAULT\tRISK\tSCORE\tFLAGS")
	for _, r := range rows {
		var flags []string
		if r.SOPViolation {
			flags = append(flags, "sop")
		}
		if r.Degraded {
			flags = append(flags, "degraded")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.ID, r.CreatedAt.Local().Format("2006-01-02 15:04"), r.EngineerName,
			r.DeviceSN, r.FaultType, r.RiskLevel, r.OverallScore, strings.Join(flags, ","))
	}
	return w.Flush()
}

func newTicketsShowCmd() *cobra.Command {
	var (
		configPath string
		transcript bool
	)

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show one ticket in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid ticket id %q", args[0])
			}
			return runTicketsShow(cmd, configPath, uint(id), transcript)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to closeout config file")
	cmd.Flags().BoolVar(&transcript, "transcript", false, "print the full archived conversation")
	return cmd
}

func runTicketsShow(cmd *cobra.Command, configPath string, id uint, transcript bool) error {
	_, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	st, err := store.New(gormDB)
	if err != nil {
		return err
	}
	row, err := st.Get(context.Background(), id)
	if err != nil {
		return err
	}
	view, err := store.Decode(row, transcript)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Ticket #%d by %s at %s\n\n", view.ID, view.Engineer, view.CreatedAt.Local().Format("2006-01-02 15:04"))
	printRecord(out, &view.Record)
	fmt.Fprintln(out)
	printVerdict(out, &view.Verdict, view.Degraded)
	if transcript {
		fmt.Fprintln(out, "\nTranscript:")
		for _, t := range view.Transcript {
			if t.Role == ticket.RoleSystem {
				continue
			}
			printTurn(out, t)
		}
	}
	return nil
}

// printRecord renders a ticket record for the terminal.
func printRecord(out io.Writer, rec *ticket.Record) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "device_sn\t%s\n", rec.DeviceSN)
	fmt.Fprintf(w, "product_line\t%s\n", rec.ProductLine)
	fmt.Fprintf(w, "fault_type\t%s\n", rec.FaultType)
	fmt.Fprintf(w, "start_time\t%s\n", rec.StartTime)
	fmt.Fprintf(w, "end_time\t%s\n", rec.EndTime)
	w.Flush()
	fmt.Fprintf(out, "final_report:\n  %s\n", strings.ReplaceAll(rec.FinalReport, "\n", "\n  "))
	if len(rec.Replacements) == 0 {
		fmt.Fprintln(out, "replacements: none")
		return
	}
	fmt.Fprintln(out, "replacements:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  #\tTIME\tACTION\tOLD\tOLD QN\tNEW\tNEW QN")
	for i, r := range rec.Replacements {
		fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, r.ReplaceTime, r.ActionInfo, r.OldType, r.OldQN, r.NewType, r.NewQN)
	}
	w.Flush()
}

// printVerdict renders an audit verdict for the terminal.
func printVerdict(out io.Writer, v *ticket.Verdict, degraded bool) {
	fmt.Fprintf(out, "Audit: risk %s, score %d", v.RiskLevel, v.OverallScore)
	if v.SOPViolation {
		fmt.Fprint(out, ", SOP VIOLATION")
	}
	if degraded {
		fmt.Fprint(out, " (degraded)")
	}
	fmt.Fprintf(out, "\n  %s\n", strings.ReplaceAll(v.CritiqueText, "\n", "\n  "))
}

func printTurn(out io.Writer, t ticket.Turn) {
	content := t.Content
	if t.Tool != nil {
		if content != "" {
			content += " "
		}
		content += "[" + t.Tool.Name + "]"
	}
	fmt.Fprintf(out, "  %s: %s\n", t.Role, content)
}
