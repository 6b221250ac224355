package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/upstream/internal/api"
	"github.com/JonMunkholm/upstream/internal/config"
	"github.com/JonMunkholm/upstream/internal/core"
	"github.com/JonMunkholm/upstream/internal/history"
)

type uploadFlags struct {
	campaign     int
	station      int
	sensors      string
	measurements string
	chunkSize    int
	noValidate   bool
	verify       bool
}

func newUploadCmd(a *app) *cobra.Command {
	var f uploadFlags

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upload a sensor file and a measurement file to a station",
		Long: `Validates both files, splits the measurement file into chunks and sends
each chunk, together with the full sensor file, to the station's ingestion
endpoint. Uploading stops at the first failed chunk; chunks already accepted
stay on the server.`,
		Annotations: needsConfig(),
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runUpload(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&f.campaign, "campaign", 0, "Campaign ID")
	flags.IntVar(&f.station, "station", 0, "Station ID")
	flags.StringVar(&f.sensors, "sensors", "", "Path to the sensor definitions CSV")
	flags.StringVar(&f.measurements, "measurements", "", "Path to the measurements CSV")
	flags.IntVar(&f.chunkSize, "chunk-size", 0, "Measurement rows per chunk (default from config)")
	flags.BoolVar(&f.noValidate, "no-validate", false, "Skip local structure validation")
	flags.BoolVar(&f.verify, "verify", false, "List the station's sensors after a successful upload")
	_ = cmd.MarkFlagRequired("campaign")
	_ = cmd.MarkFlagRequired("station")
	_ = cmd.MarkFlagRequired("sensors")
	_ = cmd.MarkFlagRequired("measurements")

	return cmd
}

func (a *app) runUpload(cmd *cobra.Command, f uploadFlags) error {
	ctx := cmd.Context()
	cfg := a.cfg
	out := cmd.OutOrStdout()

	client, err := api.New(api.OptionsFromConfig(cfg.Upstream))
	if err != nil {
		return err
	}
	defer client.Logout(context.WithoutCancel(ctx))

	ledger, closeLedger := openLedger(ctx, cfg.Database)
	defer closeLedger()

	// 0 in config disables the ceiling; the uploader uses negative for that.
	maxSize := cfg.Upload.MaxFileSize
	if maxSize == 0 {
		maxSize = -1
	}

	opts := core.UploaderOptions{
		ChunkSize:      cfg.Upload.ChunkSize,
		MaxFileSize:    maxSize,
		SkipValidation: f.noValidate || !cfg.Upload.Validate,
		MaxConcurrent:  cfg.Upload.MaxConcurrent,
		MaxWaitTime:    cfg.Upload.MaxWaitTime,
		OnProgress:     progressPrinter(out),
		Logger:         slog.Default(),
	}
	if ledger != nil {
		opts.History = ledger
	}

	summary, err := core.NewUploader(client, opts).Upload(ctx, core.UploadRequest{
		CampaignID:   f.campaign,
		StationID:    f.station,
		Sensors:      core.FromPath(f.sensors),
		Measurements: core.FromPath(f.measurements),
		ChunkSize:    f.chunkSize,
	})
	if err != nil {
		if summary != nil && summary.ChunksUploaded > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "Uploaded %d/%d chunks (%d rows) before the failure. Upload ID: %s\n",
				summary.ChunksUploaded, summary.ChunksTotal, summary.RowsUploaded, summary.UploadID)
		}
		return err
	}

	printSummary(out, summary)

	if f.verify && !summary.NoMeasurements {
		return printSensors(ctx, out, client, f.campaign, f.station, api.DefaultPage, api.DefaultLimit)
	}
	return nil
}

// openLedger connects the chunk ledger when a database is configured. A
// ledger that cannot be opened is logged and skipped.
func openLedger(ctx context.Context, cfg config.DatabaseConfig) (*history.Store, func()) {
	if !cfg.Enabled() {
		return nil, func() {}
	}

	pool, err := history.Connect(ctx, cfg)
	if err != nil {
		slog.Warn("upload ledger unavailable", "error", err)
		return nil, func() {}
	}

	store := history.New(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		slog.Warn("upload ledger unavailable", "error", err)
		pool.Close()
		return nil, func() {}
	}

	slog.Debug("upload ledger connected", "database", history.DatabaseName(cfg.URL))
	return store, pool.Close
}

func progressPrinter(w io.Writer) core.ProgressCallback {
	return func(p core.UploadProgress) {
		switch p.Phase {
		case core.PhaseValidating:
			fmt.Fprintf(w, "Validating %s...\n", p.FileName)
		case core.PhaseUploading:
			fmt.Fprintf(w, "Uploading chunk %d/%d (%s)...\n", p.ChunkIndex+1, p.ChunksTotal, p.FileName)
		}
	}
}

func printSummary(w io.Writer, s *core.UploadSummary) {
	if s.NoMeasurements {
		fmt.Fprintln(w, "No measurement rows found; nothing was uploaded.")
		return
	}
	fmt.Fprintf(w, "Uploaded %d/%d chunks, %d rows in %s. Upload ID: %s\n",
		s.ChunksUploaded, s.ChunksTotal, s.RowsUploaded, s.Duration.Round(time.Millisecond), s.UploadID)
	if n := s.Response.Get("total_measurements_processed"); n.Exists() {
		fmt.Fprintf(w, "Last chunk: %d measurements processed by the server\n", n.Int())
	}
}
