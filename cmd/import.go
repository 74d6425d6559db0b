package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var importPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load profile snapshots from a YAML or JSON fixture into the store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		profiles, err := loadProfiles(importPath, time.Now())
		if err != nil {
			return err
		}
		if len(profiles) == 0 {
			return eris.Errorf("no profiles in %s", importPath)
		}

		st, err := openStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.PutProfiles(ctx, profiles)
		if err != nil {
			return eris.Wrap(err, "import profiles")
		}

		zap.L().Info("import complete",
			zap.Int64("upserted", n),
			zap.String("path", importPath),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importPath, "profiles", "", "path to profile fixture file (required)")
	_ = importCmd.MarkFlagRequired("profiles")
	rootCmd.AddCommand(importCmd)
}
