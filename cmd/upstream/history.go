package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/upstream/internal/core"
	"github.com/JonMunkholm/upstream/internal/history"
)

var errNoLedger = errors.New("upload history requires DATABASE_URL")

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [UPLOAD_ID]",
		Short: "Show recorded chunk uploads",
		Long: `Lists chunk outcomes from the upload ledger. With an upload ID, shows
every chunk of that upload; otherwise shows the most recent chunks.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg == nil || !a.cfg.Database.Enabled() {
				if a.cfgErr != nil {
					return errors.Join(errNoLedger, a.cfgErr)
				}
				return errNoLedger
			}

			ctx := cmd.Context()
			pool, err := history.Connect(ctx, a.cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()

			store := history.New(pool)
			var records []core.ChunkRecord
			if len(args) == 1 {
				records, err = store.ListUpload(ctx, args[0])
			} else {
				records, err = store.Recent(ctx, limit)
			}
			if err != nil {
				return err
			}

			return printRecords(cmd.OutOrStdout(), records)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", history.DefaultRecentLimit, "Number of recent chunks to show")
	return cmd
}

func printRecords(w io.Writer, records []core.ChunkRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No chunk uploads recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UPLOAD\tCHUNK\tFILE\tROWS\tSTATUS\tDURATION\tCREATED\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%d/%d\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.UploadID, r.ChunkIndex, r.ChunkTotal, r.FileName, r.Rows, r.Status,
			r.Duration.Round(time.Millisecond), r.CreatedAt.Local().Format(time.DateTime), r.Error)
	}
	return tw.Flush()
}
