package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"strato/internal/daemonctl"
	"strato/internal/daemonrun"
	"strato/internal/deploy"
	"strato/internal/ipc"
)

func newDeployCommand(ctx *commandContext) *cobra.Command {
	deployCmd := &cobra.Command{
		Use:   "deploy",
		Short: "Queue and inspect deployments",
	}

	deployCmd.AddCommand(newDeployPushCommand(ctx))
	deployCmd.AddCommand(newDeployTriggerCommand(ctx))
	deployCmd.AddCommand(newDeployListCommand(ctx))

	return deployCmd
}

func newDeployPushCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "push <org/app/branch/instance>",
		Short: "Queue a deployment for a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Validate locally so a malformed target fails fast with the
			// parse error instead of an RPC error string.
			if _, err := deploy.ParseTarget(args[0]); err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.DeployEnqueue(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued deployment %s for %s\n",
					resp.Deployment.RequestID, resp.Deployment.Target)
				return nil
			})
		},
	}
}

func newDeployTriggerCommand(ctx *commandContext) *cobra.Command {
	var useSignal bool

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Wake the deploy pilot without waiting for its poll tick",
		RunE: func(cmd *cobra.Command, args []string) error {
			if useSignal {
				pid, err := daemonctl.Trigger(daemonrun.PIDPath(ctx.configValue()))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGUSR1 to stratod (pid %d)\n", pid)
				return nil
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if _, err := client.DeployTrigger(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Deploy pilot triggered")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&useSignal, "signal", false, "Signal the daemon with SIGUSR1 instead of using IPC")
	return cmd
}

func newDeployListCommand(ctx *commandContext) *cobra.Command {
	var target string
	var limit int

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List deployment history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				queueName := target
				if queueName != "" {
					key, err := deploy.ParseTarget(queueName)
					if err == nil {
						queueName = key.QueueName()
					}
				}
				resp, err := client.DeployList(queueName, limit)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(resp.Deployments) == 0 {
					fmt.Fprintln(stdout, "No deployments recorded")
					return nil
				}
				rows := make([][]string, 0, len(resp.Deployments))
				for _, dep := range resp.Deployments {
					rows = append(rows, []string{
						fmt.Sprintf("%d", dep.ID),
						dep.Target,
						dep.Status,
						dep.RequestedAt,
						dash(dep.FinishedAt),
						dash(dep.ErrorMessage),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Target", "Status", "Requested", "Finished", "Error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Limit to one target (org/app/branch/instance or queue name)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum entries to show (0 for all)")
	return cmd
}
