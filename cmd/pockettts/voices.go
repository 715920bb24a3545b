package main

import (
	"fmt"
	"os"

	"github.com/example/pockettts/internal/tts"
	"github.com/spf13/cobra"
)

func newVoicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List exported voice embeddings",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			voices, err := tts.ListVoices(cfg.Paths.VoicesDir)
			if err != nil {
				return err
			}

			if len(voices) == 0 {
				_, _ = fmt.Fprintf(os.Stdout, "no voices in %s\n", cfg.Paths.VoicesDir)
				return nil
			}

			for _, v := range voices {
				_, _ = fmt.Fprintf(os.Stdout, "%s\t%d bytes\t%s\n", v.Name, v.Size, v.Path)
			}

			return nil
		},
	}

	return cmd
}
