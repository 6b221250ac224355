package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/upstream/internal/core"
)

func newSplitCmd(a *app) *cobra.Command {
	var (
		chunkSize int
		outDir    string
	)

	cmd := &cobra.Command{
		Use:   "split PATH",
		Short: "Split a measurement file into chunk files locally",
		Long: `Writes the chunks an upload would send into a directory, one file per
chunk, each starting with the header row. Nothing is sent to the server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size := chunkSize
			if size == 0 {
				size = core.DefaultChunkSize
				if a.cfg != nil {
					size = a.cfg.Upload.ChunkSize
				}
			}

			file, err := core.Resolve(core.FromPath(args[0]), core.RoleMeasurements)
			if err != nil {
				return err
			}
			chunks, err := core.Split(file, size)
			if err != nil {
				return err
			}
			if len(chunks) == 1 && chunks[0].IsEmpty() {
				cmd.Printf("%s has no data rows; no chunks written\n", file.Name)
				return nil
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			for _, c := range chunks {
				path := filepath.Join(outDir, c.Name)
				if err := os.WriteFile(path, c.Data, 0o644); err != nil {
					return fmt.Errorf("write %s: %w", path, err)
				}
				cmd.Printf("%s\t%d rows\t%d bytes\t%016x\n", path, c.Rows, len(c.Data), c.Fingerprint)
			}
			cmd.Printf("Wrote %d chunks of up to %d rows\n", len(chunks), size)
			return nil
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Measurement rows per chunk (default from config)")
	cmd.Flags().StringVar(&outDir, "out", ".", "Directory for chunk files")
	return cmd
}
