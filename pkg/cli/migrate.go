package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accountdesk/accountdesk/pkg/config"
	"github.com/accountdesk/accountdesk/pkg/store"
)

func newMigrateCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rt.cfg.Store.Driver != config.StoreDriverPostgres {
				rt.log.Infow("Nothing to migrate", "driver", rt.cfg.Store.Driver)
				return nil
			}
			st, err := store.Open(cmd.Context(), rt.cfg.Store, true, rt.log)
			if err != nil {
				return fmt.Errorf("migrating store: %w", err)
			}
			st.Close()
			rt.log.Info("Schema applied")
			return nil
		},
	}
}
