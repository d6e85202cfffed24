package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"strato/internal/ipc"
	"strato/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and control-plane status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			fmt.Fprintln(stdout, renderSectionHeader("Daemon", colorize))
			status := fetchDaemonStatus(ctx)
			if status == nil {
				fmt.Fprintln(stdout, renderStatusLine("stratod", statusWarn, "Not running (run `strato daemon start`)", colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("stratod", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Store", statusInfo, status.StoreDBPath, colorize))
				if status.MetricsAddr != "" {
					fmt.Fprintln(stdout, renderStatusLine("Metrics", statusOK, "http://"+status.MetricsAddr+"/metrics", colorize))
				} else {
					fmt.Fprintln(stdout, renderStatusLine("Metrics", statusInfo, "Disabled", colorize))
				}
				pendingKind := statusOK
				if len(status.PendingTargets) > 0 {
					pendingKind = statusInfo
				}
				fmt.Fprintln(stdout, renderStatusLine("Pending deploys", pendingKind, strconv.Itoa(len(status.PendingTargets)), colorize))
			}

			cfg := ctx.configValue()
			if strings.TrimSpace(cfg.Notifications.NtfyTopic) != "" {
				fmt.Fprintln(stdout, renderStatusLine("Notifications", statusOK, "Configured", colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("Notifications", statusInfo, "Not configured", colorize))
			}

			fmt.Fprintln(stdout)
			fmt.Fprintln(stdout, renderSectionHeader("Volumes", colorize))
			rows, err := volumeStateRows(ctx, status)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No volumes tracked")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"State", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

// fetchDaemonStatus returns nil when the daemon is unreachable; the status
// command degrades to offline reporting instead of failing.
func fetchDaemonStatus(ctx *commandContext) *ipc.StatusResponse {
	client, err := ctx.dialClient()
	if err != nil {
		return nil
	}
	defer client.Close()
	status, err := client.Status()
	if err != nil || !status.Running {
		return nil
	}
	return status
}

func volumeStateRows(ctx *commandContext, status *ipc.StatusResponse) ([][]string, error) {
	counts := map[string]int{}

	if status != nil {
		err := ctx.withClient(func(client *ipc.Client) error {
			resp, err := client.VolumeList(nil)
			if err != nil {
				return err
			}
			for _, vol := range resp.Volumes {
				counts[vol.State]++
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		st, err := store.Open(ctx.configValue())
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		records, err := st.ListVolumes(context.Background())
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			counts[string(rec.State)]++
		}
	}

	order := []store.VolumeState{
		store.VolumeRequested, store.VolumeCreating, store.VolumeAvailable,
		store.VolumeAttaching, store.VolumeAttached, store.VolumeDetaching,
		store.VolumeDetached, store.VolumeDeleting, store.VolumeDeleted,
		store.VolumeFailed,
	}
	rows := make([][]string, 0, len(order))
	for _, state := range order {
		if count := counts[string(state)]; count > 0 {
			rows = append(rows, []string{string(state), strconv.Itoa(count)})
		}
	}
	return rows, nil
}
