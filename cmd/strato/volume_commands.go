package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"strato/internal/ipc"
	"strato/internal/store"
)

func newVolumeCommand(ctx *commandContext) *cobra.Command {
	volumeCmd := &cobra.Command{
		Use:   "volume",
		Short: "Manage block storage volumes",
	}

	volumeCmd.AddCommand(newVolumeListCommand(ctx))
	volumeCmd.AddCommand(newVolumeProvisionCommand(ctx))
	volumeCmd.AddCommand(newVolumeReleaseCommand(ctx))
	volumeCmd.AddCommand(newVolumeEventsCommand(ctx))

	return volumeCmd
}

func newVolumeListCommand(ctx *commandContext) *cobra.Command {
	var states []string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List tracked volumes",
		RunE: func(cmd *cobra.Command, args []string) error {
			volumes, err := listVolumes(ctx, states)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(volumes) == 0 {
				fmt.Fprintln(stdout, "No volumes tracked")
				return nil
			}
			rows := make([][]string, 0, len(volumes))
			for _, vol := range volumes {
				rows = append(rows, []string{
					strconv.FormatInt(vol.ID, 10),
					dash(vol.ProviderVolumeID),
					strconv.Itoa(vol.SizeGiB),
					vol.Type,
					vol.AvailabilityZone,
					vol.State,
					dash(vol.InstanceID),
					dash(vol.Device),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"ID", "Provider ID", "GiB", "Type", "Zone", "State", "Instance", "Device"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&states, "state", nil, "Filter by state (repeatable)")
	return cmd
}

// listVolumes prefers the daemon but reads the store directly when no
// daemon is reachable.
func listVolumes(ctx *commandContext, states []string) ([]ipc.Volume, error) {
	client, err := ctx.dialClient()
	if err == nil {
		defer client.Close()
		resp, err := client.VolumeList(states)
		if err != nil {
			return nil, err
		}
		return resp.Volumes, nil
	}

	parsed := make([]store.VolumeState, 0, len(states))
	for _, raw := range states {
		state, ok := store.ParseVolumeState(raw)
		if !ok {
			return nil, fmt.Errorf("unknown volume state %q", raw)
		}
		parsed = append(parsed, state)
	}

	st, err := store.Open(ctx.configValue())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	records, err := st.ListVolumes(context.Background(), parsed...)
	if err != nil {
		return nil, err
	}
	volumes := make([]ipc.Volume, 0, len(records))
	for _, rec := range records {
		volumes = append(volumes, ipc.FromVolumeRecord(rec))
	}
	return volumes, nil
}

func newVolumeProvisionCommand(ctx *commandContext) *cobra.Command {
	var sizeGiB int
	var volType string
	var zone string

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Create a volume and wait for it to become available",
		RunE: func(cmd *cobra.Command, args []string) error {
			if sizeGiB <= 0 {
				return fmt.Errorf("--size must be positive")
			}
			stack, err := newLocalStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			rec, err := stack.volumes.Provision(cmd.Context(), sizeGiB, volType, zone)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Volume %d available (%s, %d GiB)\n",
				rec.ID, rec.ProviderVolumeID, rec.SizeGiB)
			return nil
		},
	}
	cmd.Flags().IntVar(&sizeGiB, "size", 0, "Volume size in GiB")
	cmd.Flags().StringVar(&volType, "type", "gp3", "Volume type")
	cmd.Flags().StringVar(&zone, "zone", "", "Availability zone")
	_ = cmd.MarkFlagRequired("size")
	return cmd
}

func newVolumeReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Delete a volume (idempotent)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid volume id %q", args[0])
			}
			stack, err := newLocalStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			rec, err := stack.volumes.Release(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Volume %d %s\n", rec.ID, rec.State)
			return nil
		},
	}
}

func newVolumeEventsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "events <id>",
		Short: "Show a volume's transition history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid volume id %q", args[0])
			}
			st, err := store.Open(ctx.configValue())
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			events, err := st.VolumeEvents(cmd.Context(), id)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintf(stdout, "No events recorded for volume %d\n", id)
				return nil
			}
			rows := make([][]string, 0, len(events))
			for _, event := range events {
				rows = append(rows, []string{
					event.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
					string(event.FromState),
					string(event.ToState),
					dash(event.Detail),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"Time", "From", "To", "Detail"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
}
