package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/fieldrelay/internal/model"
	"github.com/sells-group/fieldrelay/internal/report"
)

var (
	reportChat string
	reportDay  string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect stored daily workbooks",
}

var reportShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the rows of a stored daily workbook",
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := model.ParseDay(reportDay)
		if err != nil {
			return eris.Wrap(err, "invalid --day")
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		blob, err := st.GetArtifact(cmd.Context(), reportChat, day)
		if err != nil {
			return err
		}
		if blob == nil {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "No report for chat %s on %s.\n", reportChat, day)
			return nil
		}

		rows, err := report.ReadRows(blob)
		if err != nil {
			return err
		}
		formatRows(cmd.OutOrStdout(), rows)
		return nil
	},
}

var reportListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the days that have a stored workbook for a chat",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		days, err := st.ListArtifactDays(cmd.Context(), reportChat)
		if err != nil {
			return err
		}
		formatDays(cmd.OutOrStdout(), reportChat, days)
		return nil
	},
}

// formatRows writes workbook rows (header first) as a table.
func formatRows(out io.Writer, rows [][]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, row := range rows {
		_, _ = fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}

func formatDays(out io.Writer, chat string, days []model.Day) {
	if len(days) == 0 {
		_, _ = fmt.Fprintf(out, "No reports for chat %s.\n", chat)
		return
	}
	for _, d := range days {
		_, _ = fmt.Fprintln(out, d.String())
	}
}

func init() {
	reportCmd.PersistentFlags().StringVar(&reportChat, "chat", "", "conversation id")
	_ = reportCmd.MarkPersistentFlagRequired("chat")
	reportShowCmd.Flags().StringVar(&reportDay, "day", "", "day as YYYY-MM-DD")
	_ = reportShowCmd.MarkFlagRequired("day")

	reportCmd.AddCommand(reportShowCmd, reportListCmd)
	rootCmd.AddCommand(reportCmd)
}
