package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/accountdesk/accountdesk/pkg/dispatch"
	"github.com/accountdesk/accountdesk/pkg/mail"
	"github.com/accountdesk/accountdesk/pkg/store"
)

// newDispatchCommand runs exactly one dispatch cycle, for cron style
// deployments. Delivery, query and commit failures are logged and leave
// records for the next run; they do not change the exit status.
func newDispatchCommand(rt *runtimeState) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send up to one batch of unsent mail records and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			stopTracing, err := startTracing(ctx, rt, "dispatch")
			if err != nil {
				return err
			}
			defer stopTracing()

			st, err := store.Open(ctx, rt.cfg.Store, migrate, rt.log)
			if err != nil {
				return fmt.Errorf("opening store: %w", err)
			}
			defer st.Close()

			sender := mail.NewSender(rt.cfg.SMTP, rt.log)
			worker := dispatch.NewWorker(st, sender, dispatch.ConfigFrom(rt.cfg), rt.log)
			report := worker.RunOnce(ctx)

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "result=%s queried=%d sent=%d failed=%d\n",
				report.Result(), report.Queried, report.Sent, report.Failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the database schema before dispatching")
	return cmd
}
