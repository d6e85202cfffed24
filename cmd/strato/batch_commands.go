package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"strato/internal/batch"
	"strato/internal/cloud"
	"strato/internal/ipc"
	"strato/internal/store"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Submit and inspect batch jobs",
	}

	batchCmd.AddCommand(newBatchSubmitCommand(ctx))
	batchCmd.AddCommand(newBatchWatchCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))

	return batchCmd
}

func newBatchSubmitCommand(ctx *commandContext) *cobra.Command {
	var name string
	var payloadFile string
	var payloadText string
	var image string
	var vcpus int
	var memoryMB int
	var envPairs []string
	var volumeSpecs []string
	var watch bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Stage a payload and submit a batch job",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := resolvePayload(payloadFile, payloadText)
			if err != nil {
				return err
			}
			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}
			volumes, err := parseVolumeSpecs(volumeSpecs)
			if err != nil {
				return err
			}

			stack, err := newLocalStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()

			sub, err := stack.batch.Submit(cmd.Context(), batch.SubmitRequest{
				Name:        name,
				Payload:     payload,
				Image:       image,
				VCPUs:       vcpus,
				MemoryMB:    memoryMB,
				Environment: env,
				Volumes:     volumes,
			})
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			mode := "inline"
			if sub.Payload.Staged() {
				mode = fmt.Sprintf("staged as s3://%s/%s", sub.Payload.Bucket, sub.Payload.Key)
			}
			fmt.Fprintf(stdout, "Job %s submitted (%s, payload %s)\n",
				sub.Record.ProviderJobID, sub.Record.Name, mode)
			for _, id := range sub.VolumeIDs {
				fmt.Fprintf(stdout, "Volume %d provisioned\n", id)
			}

			if !watch {
				return nil
			}
			return watchJob(cmd.Context(), stdout, stack, sub.Record.ID)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Script file to run as the job payload")
	cmd.Flags().StringVar(&payloadText, "payload", "", "Inline payload text")
	cmd.Flags().StringVar(&image, "image", "", "Container image (defaults from config)")
	cmd.Flags().IntVar(&vcpus, "vcpus", 0, "vCPUs (defaults from config)")
	cmd.Flags().IntVar(&memoryMB, "memory", 0, "Memory in MiB (defaults from config)")
	cmd.Flags().StringArrayVar(&envPairs, "env", nil, "Environment variable KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVar(&volumeSpecs, "volume", nil, "Volume to provision and attach, SIZE_GIB[:TYPE[:ZONE]] (repeatable)")
	cmd.Flags().BoolVar(&watch, "watch", false, "Watch the job until it finishes")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newBatchWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-record-id>",
		Short: "Watch a submitted job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job record id %q", args[0])
			}
			stack, err := newLocalStack(ctx)
			if err != nil {
				return err
			}
			defer stack.Close()
			return watchJob(cmd.Context(), cmd.OutOrStdout(), stack, id)
		},
	}
}

func watchJob(ctx context.Context, stdout io.Writer, stack *localStack, recordID int64) error {
	watcher, err := stack.batch.Watch(ctx, recordID)
	if err != nil {
		return err
	}
	for {
		update, err := watcher.Next(ctx)
		if errors.Is(err, batch.ErrWatchDone) {
			return nil
		}
		if err != nil {
			return err
		}

		detail := update.Detail
		line := string(detail.Phase)
		if detail.StatusReason != "" {
			line += " (" + detail.StatusReason + ")"
		}
		if detail.InstanceID != "" {
			line += " on " + detail.InstanceID
		}
		fmt.Fprintln(stdout, line)

		if !detail.Phase.Terminal() {
			continue
		}
		if detail.ExitCode != nil {
			fmt.Fprintf(stdout, "Exit code: %d\n", *detail.ExitCode)
		}
		if update.FailedBeforeStart {
			fmt.Fprintln(stdout, "Job failed before the container started; no logs were produced")
		}
		for _, event := range update.Logs {
			fmt.Fprintf(stdout, "  %s %s\n", event.Timestamp.UTC().Format("15:04:05"), event.Message)
		}
	}
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	var phases []string

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List submitted jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := listJobs(ctx, phases)
			if err != nil {
				return err
			}
			stdout := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(stdout, "No jobs recorded")
				return nil
			}
			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				exit := "-"
				if job.ExitCode != nil {
					exit = strconv.Itoa(*job.ExitCode)
				}
				rows = append(rows, []string{
					strconv.FormatInt(job.ID, 10),
					dash(job.ProviderJobID),
					job.Name,
					job.Phase,
					exit,
					dash(job.StatusReason),
				})
			}
			fmt.Fprintln(stdout, renderTable(
				[]string{"ID", "Provider ID", "Name", "Phase", "Exit", "Reason"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&phases, "phase", nil, "Filter by provider phase (repeatable)")
	return cmd
}

func listJobs(ctx *commandContext, phases []string) ([]ipc.Job, error) {
	client, err := ctx.dialClient()
	if err == nil {
		defer client.Close()
		resp, err := client.JobList(phases)
		if err != nil {
			return nil, err
		}
		return resp.Jobs, nil
	}

	st, err := store.Open(ctx.configValue())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	parsed := make([]cloud.JobPhase, 0, len(phases))
	for _, raw := range phases {
		parsed = append(parsed, cloud.JobPhase(strings.ToUpper(raw)))
	}
	records, err := st.ListJobs(context.Background(), parsed...)
	if err != nil {
		return nil, err
	}
	jobs := make([]ipc.Job, 0, len(records))
	for _, rec := range records {
		jobs = append(jobs, ipc.FromJobRecord(rec))
	}
	return jobs, nil
}

func resolvePayload(payloadFile, payloadText string) ([]byte, error) {
	switch {
	case payloadFile != "" && payloadText != "":
		return nil, fmt.Errorf("--payload-file and --payload are mutually exclusive")
	case payloadFile != "":
		data, err := os.ReadFile(payloadFile)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
		return data, nil
	case payloadText != "":
		return []byte(payloadText), nil
	default:
		return nil, fmt.Errorf("a payload is required (--payload-file or --payload)")
	}
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid environment pair %q (want KEY=VALUE)", pair)
		}
		env[key] = value
	}
	return env, nil
}

func parseVolumeSpecs(specs []string) ([]batch.VolumeRequest, error) {
	requests := make([]batch.VolumeRequest, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) > 3 {
			return nil, fmt.Errorf("invalid volume spec %q (want SIZE_GIB[:TYPE[:ZONE]])", spec)
		}
		size, err := strconv.Atoi(parts[0])
		if err != nil || size <= 0 {
			return nil, fmt.Errorf("invalid volume size in %q", spec)
		}
		req := batch.VolumeRequest{SizeGiB: size, Type: "gp3"}
		if len(parts) > 1 && parts[1] != "" {
			req.Type = parts[1]
		}
		if len(parts) > 2 {
			req.Zone = parts[2]
		}
		requests = append(requests, req)
	}
	return requests, nil
}
