package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/example/pockettts/internal/model"
	"github.com/spf13/cobra"
)

func newModelDownloadCmd() *cobra.Command {
	var bundleURL string
	var bundleID string
	var variant string
	var sha256Sum string
	var lockFile string
	var outDir string

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download and extract a PocketTTS model bundle",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if outDir == "" {
				outDir = cfg.Paths.ModelDir
			}

			err = model.Download(model.DownloadOptions{
				BundleURL: bundleURL,
				BundleID:  bundleID,
				Variant:   variant,
				SHA256:    sha256Sum,
				LockFile:  lockFile,
				OutDir:    outDir,
				Precision: cfg.Runtime.Precision,
				Stdout:    os.Stdout,
				Stderr:    os.Stderr,
			})
			if err != nil {
				return fmt.Errorf("model download failed: %w", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&bundleURL, "bundle-url", "", "Bundle archive URL or local path (overrides the lock file)")
	cmd.Flags().StringVar(&bundleID, "bundle-id", "", "Bundle ID to resolve from the lock file")
	cmd.Flags().StringVar(&variant, "variant", model.DefaultVariant, "Weight variant to resolve from the lock file")
	cmd.Flags().StringVar(&sha256Sum, "sha256", "", "Expected archive checksum (overrides the lock file pin)")
	cmd.Flags().StringVar(&lockFile, "lock-file", filepath.Join("bundles", "model-bundles.lock.json"),
		"Pinned bundle lock file")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "Directory to extract into (default the configured model dir)")

	return cmd
}
