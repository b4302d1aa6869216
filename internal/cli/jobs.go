package cli

import (
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/diegosucaria/deedee-sub000/pkg/cron"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage scheduled jobs of a running daemon",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <name>",
	Short: "Cancel a scheduled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsCancel,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Fire a scheduled job now",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsRun,
}

func init() {
	jobsCmd.AddCommand(jobsListCmd, jobsCancelCmd, jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsList(cmd *cobra.Command, args []string) error {
	client, err := adminFromFlags(cmd)
	if err != nil {
		return err
	}
	var jobs []cron.Job
	if err := client.do(http.MethodGet, "/jobs", &jobs); err != nil {
		return err
	}

	if len(jobs) == 0 {
		printf(cmd.OutOrStdout(), "No scheduled jobs\n")
		return nil
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	printf(w, "NAME\tSCHEDULE\tNEXT RUN\tCHAT\tRETRIES\tLAST STATUS\n")
	for _, job := range jobs {
		printf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			job.Name,
			describeTrigger(job.Trigger),
			job.NextRunAt.Local().Format(time.RFC3339),
			job.Payload.ChatID,
			job.RetryCount,
			orDash(job.State.LastStatus),
		)
	}
	return w.Flush()
}

func runJobsCancel(cmd *cobra.Command, args []string) error {
	client, err := adminFromFlags(cmd)
	if err != nil {
		return err
	}
	if err := client.do(http.MethodDelete, "/jobs/"+url.PathEscape(args[0]), nil); err != nil {
		return err
	}
	printf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
	return nil
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	client, err := adminFromFlags(cmd)
	if err != nil {
		return err
	}
	if err := client.do(http.MethodPost, "/jobs/"+url.PathEscape(args[0])+"/run", nil); err != nil {
		return err
	}
	printf(cmd.OutOrStdout(), "Triggered %s\n", args[0])
	return nil
}

func adminFromFlags(cmd *cobra.Command) (*adminClient, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newAdminClient(cfg)
}

func describeTrigger(t cron.Trigger) string {
	switch t.Kind {
	case cron.TriggerCron:
		if t.TZ != "" {
			return fmt.Sprintf("%s (%s)", t.Expr, t.TZ)
		}
		return t.Expr
	case cron.TriggerAt:
		return "once at " + t.At.Local().Format(time.RFC3339)
	}
	return string(t.Kind)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
