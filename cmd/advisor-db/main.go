// AgSys Soil Advisor Database CLI
// Provides read-only command-line access to the advisor's offline record store
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/agsys/soil-advisor/internal/soil"
	"github.com/agsys/soil-advisor/internal/storage"
)

var (
	dbPath  string
	limit   int
	rootCmd = newRootCmd()
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "advisor-db",
		Short:         "Soil advisor database CLI",
		Long:          "Command-line tool for inspecting the soil advisor's offline record store.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&dbPath, "database", "d", "/var/lib/agsys/advisor.db", "Database file path")

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "List all record keys",
		RunE:  listKeys,
	}
	showCmd := &cobra.Command{
		Use:   "show [key]",
		Short: "Print one record as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  showRecord,
	}
	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "Show records awaiting sync",
		RunE:  showPending,
	}
	pendingCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of records to show")
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		RunE:  showStats,
	}
	queryCmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Execute a raw SELECT query",
		Args:  cobra.ExactArgs(1),
		RunE:  executeQuery,
	}

	root.AddCommand(keysCmd, showCmd, pendingCmd, statsCmd, queryCmd)
	return root
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openDB() (*storage.DB, error) {
	return storage.OpenReadOnly(dbPath)
}

func listKeys(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	keys, err := db.Keys(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, k := range keys {
		fmt.Fprintln(out, k)
	}
	return nil
}

func showRecord(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	env, err := db.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if env == nil {
		return eris.Errorf("no record with key %s", args[0])
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Key:       %s\n", env.Key)
	fmt.Fprintf(out, "Synced:    %s\n", yesNo(env.Synced))
	fmt.Fprintf(out, "Timestamp: %s\n", env.Time().Format(time.RFC3339))
	if env.CreatedAt > 0 {
		fmt.Fprintf(out, "Created:   %s\n", time.UnixMilli(env.CreatedAt).Format(time.RFC3339))
	}
	fmt.Fprintf(out, "Data:      %s\n", env.Data)
	return nil
}

func showPending(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	envs, err := db.Unsynced(cmd.Context(), limit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tFIELD\tPH\tMOISTURE\tWRITTEN\tSIZE")
	fmt.Fprintln(w, "---\t-----\t--\t--------\t-------\t----")

	for _, env := range envs {
		field, ph, moisture := "-", "-", "-"
		if strings.HasPrefix(env.Key, soil.KeyPrefix) {
			var m soil.Measurement
			if err := env.Decode(&m); err == nil {
				field = m.FieldName
				ph = fmt.Sprintf("%.1f", m.PH)
				moisture = fmt.Sprintf("%.0f%%", m.Moisture)
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dB\n",
			env.Key, field, ph, moisture, env.Time().Format("01-02 15:04"), len(env.Data))
	}
	return w.Flush()
}

func showStats(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := db.Stats(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Database Statistics")
	fmt.Fprintln(out, "===================")
	fmt.Fprintf(out, "Records: %d (unsynced: %d)\n", stats.Total, stats.Unsynced)
	if stats.Total > 0 {
		fmt.Fprintf(out, "Oldest write: %s\n", stats.Oldest.Format(time.RFC3339))
		fmt.Fprintf(out, "Newest write: %s\n", stats.Newest.Format(time.RFC3339))
	}
	return nil
}

func executeQuery(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := db.Select(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return eris.Wrap(err, "read columns")
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(cols, "\t"))
	fmt.Fprintln(w, strings.Repeat("-\t", len(cols)))

	values := make([]any, len(cols))
	valuePtrs := make([]any, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return eris.Wrap(err, "scan row")
		}
		writeRow(w, values)
	}
	if err := rows.Err(); err != nil {
		return eris.Wrap(err, "iterate rows")
	}
	return w.Flush()
}

func writeRow(w io.Writer, values []any) {
	row := make([]string, 0, len(values))
	for _, v := range values {
		switch val := v.(type) {
		case nil:
			row = append(row, "NULL")
		case []byte:
			row = append(row, string(val))
		default:
			row = append(row, fmt.Sprintf("%v", val))
		}
	}
	fmt.Fprintln(w, strings.Join(row, "\t"))
}

func yesNo(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}
