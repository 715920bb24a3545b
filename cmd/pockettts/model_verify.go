package main

import (
	"os"

	"github.com/example/pockettts/internal/model"
	"github.com/spf13/cobra"
)

func newModelVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the model directory is complete for the configured precision",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			return model.Verify(model.VerifyOptions{
				Dir:           cfg.Paths.ModelDir,
				Precision:     cfg.Runtime.Precision,
				TokenizerPath: cfg.Paths.TokenizerPath,
				Stdout:        os.Stdout,
				Stderr:        os.Stderr,
			})
		},
	}

	return cmd
}
