package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mailmerge/mailmerge/internal/model"
	"github.com/mailmerge/mailmerge/internal/service"
	"github.com/mailmerge/mailmerge/internal/sheet"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	rowsFile  string
	subject   string
	body      string
	bodyFile  string
	label     string
	delay     time.Duration
	modeName  string
	clearRows bool
	nextBatch bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Dispatch the pending rows",
	Long: `Send, reply to or draft one message per pending row. Rows already marked
Sent are never selected again. A finished run leaves the session completed
until "mailmerge reset" clears it; pass --next to do that here and work
through a large list one batch at a time.`,
	RunE: runSend,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render the templates against the first row",
	RunE:  runPreview,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state",
	RunE:  runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the completed run so the next batch can start",
	RunE:  runReset,
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, previewCmd} {
		c.Flags().StringVarP(&rowsFile, "file", "f", "", "recipient list (.csv or .xlsx) to load first")
		c.Flags().StringVarP(&subject, "subject", "s", "", "subject template")
		c.Flags().StringVarP(&body, "body", "b", "", "body template")
		c.Flags().StringVar(&bodyFile, "body-file", "", "read the body template from a file")
	}
	sendCmd.Flags().StringVarP(&label, "label", "l", "", "Gmail label for sent messages")
	sendCmd.Flags().DurationVarP(&delay, "delay", "d", 0, "pause between messages")
	sendCmd.Flags().StringVarP(&modeName, "mode", "m", "new", "new, followup or draft")
	sendCmd.Flags().BoolVar(&nextBatch, "next", false, "clear a completed run before sending the next batch")
	resetCmd.Flags().BoolVar(&clearRows, "clear-rows", false, "also forget the loaded rows")
}

func loadTemplates(cmd *cobra.Command) error {
	if bodyFile != "" {
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return fmt.Errorf("failed to read body file: %w", err)
		}
		body = string(data)
	}
	if subject == "" || body == "" {
		return fmt.Errorf("--subject and --body (or --body-file) are required")
	}
	return nil
}

func loadRowsFile(cmd *cobra.Command, merge *service.MergeService) error {
	if rowsFile == "" {
		return nil
	}
	f, err := os.Open(rowsFile)
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := sheet.Load(rowsFile, f)
	if err != nil {
		return err
	}
	if err := merge.LoadRows(cmd.Context(), rows); err != nil {
		return err
	}
	pterm.Info.Printf("Loaded %d rows from %s\n", rows.Len(), rowsFile)
	return nil
}

// startNextBatch resets a completed session when next is set
func startNextBatch(merge *service.MergeService, next bool) error {
	if !next || merge.Snapshot().Phase != service.PhaseCompleted {
		return nil
	}
	if err := merge.Reset(); err != nil {
		return err
	}
	pterm.Info.Println("Cleared the previous run")
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	if err := loadTemplates(cmd); err != nil {
		return err
	}
	mode, err := model.ParseMode(modeName)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := startNextBatch(a.Merge, nextBatch); err != nil {
		return err
	}
	if err := loadRowsFile(cmd, a.Merge); err != nil {
		return err
	}

	mb, err := a.Credentials.Mailbox(cmd.Context())
	if err != nil {
		return fmt.Errorf("%w (run \"mailmerge login\" first)", err)
	}

	bar := newProgressBar()
	summary, err := a.Merge.Dispatch(cmd.Context(), mb, service.DispatchRequest{
		Subject: subject,
		Body:    body,
		Label:   label,
		Delay:   delay,
		Mode:    mode,
	}, bar.Update)
	bar.Stop()

	if summary != nil {
		printSummary(summary)
	}
	return err
}

func runPreview(cmd *cobra.Command, args []string) error {
	if err := loadTemplates(cmd); err != nil {
		return err
	}
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := loadRowsFile(cmd, a.Merge); err != nil {
		return err
	}
	p, err := a.Merge.Preview(subject, body)
	if err != nil {
		return err
	}
	if p.Warning != "" {
		pterm.Warning.Println(p.Warning)
	}
	pterm.DefaultSection.Println(p.Subject)
	fmt.Println(p.HTML)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	snap := a.Merge.Snapshot()
	data := pterm.TableData{
		{"Phase", string(snap.Phase)},
		{"Rows", fmt.Sprint(snap.Rows)},
		{"Sent", fmt.Sprint(snap.Sent)},
		{"Pending", fmt.Sprint(snap.Pending)},
		{"Signed in", fmt.Sprint(a.Credentials.Authenticated(cmd.Context()))},
	}
	if snap.Marker != nil {
		data = append(data,
			[]string{"Completed at", snap.Marker.CompletedAt.Format(time.DateTime)},
			[]string{"Export", snap.Marker.ExportPath},
		)
	}
	if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
		return err
	}
	if snap.Advisory != "" {
		pterm.Warning.Println(snap.Advisory)
	}
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Merge.Reset(); err != nil {
		return err
	}
	if clearRows {
		if err := a.Merge.ClearRows(cmd.Context()); err != nil {
			return err
		}
	}
	pterm.Success.Println("Session reset")
	return nil
}

func printSummary(s *model.Summary) {
	pterm.Println()
	pterm.Info.Printf("Sent: %d\n", s.Sent)
	if s.Drafted > 0 {
		pterm.Info.Printf("Drafted: %d\n", s.Drafted)
	}
	if len(s.Skipped) > 0 {
		pterm.Warning.Printf("Skipped %d rows without an address: %v\n", len(s.Skipped), s.Skipped)
	}
	for _, e := range s.Errors {
		pterm.Error.Printf("Row %d (%s): %s\n", e.Row, e.Recipient, e.Error)
	}
	for _, w := range s.Warnings {
		pterm.Warning.Println(w)
	}
	if s.Remaining > 0 {
		pterm.Info.Printf("%d rows left for the next batch\n", s.Remaining)
	}
	if s.ExportPath != "" {
		pterm.Success.Printf("Results written to %s\n", s.ExportPath)
	}
}
