package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Arun8573/codec-technology/internal/config"
	"github.com/Arun8573/codec-technology/internal/domain"
	"github.com/Arun8573/codec-technology/internal/export"
	"github.com/Arun8573/codec-technology/internal/jobfile"
	"github.com/Arun8573/codec-technology/internal/logging"
	"github.com/Arun8573/codec-technology/internal/service"
	"github.com/Arun8573/codec-technology/internal/store"
	"github.com/Arun8573/codec-technology/internal/trigger"
)

// withService opens the configured store for one management command. The
// command talks to the store directly, so a running serve process picks the
// change up on its next poll.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service, cfg config.Config) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New("warn", cfg.LogFormat)
	if err != nil {
		return invalidConfig(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := cmd.Context()
	backend, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = backend.Close() }()

	return fn(ctx, service.New(backend).WithLogger(logger), cfg)
}

// resolveJob accepts a job id or a job name.
func resolveJob(ctx context.Context, svc *service.Service, arg string) (domain.Job, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return svc.GetJob(ctx, id)
	}
	jobs, err := svc.ListJobs(ctx, false)
	if err != nil {
		return domain.Job{}, err
	}
	for _, j := range jobs {
		if j.Name == arg {
			return j, nil
		}
	}
	return domain.Job{}, errors.Wrapf(domain.ErrJobNotFound, "%q", arg)
}

func newScheduleCmd() *cobra.Command {
	var (
		req      service.ScheduleRequest
		mode     string
		file     string
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Create a job, or every job in a YAML file",
		Long: `Create a job from flags, or from a YAML job file with --file.

Schedules: "now", "hourly", "daily", "weekly", "cron:<5 fields>",
"once:<RFC3339>" or a bare 5-field cron expression.

Examples:
  scrapesched schedule --name news --url https://example.com/news --schedule hourly
  scrapesched schedule --name prices --url https://shop.example --schedule "cron:0,9,*,*,1" \
    --selector price=span.price --mode dynamic
  scrapesched schedule --file jobs.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				defs, err := jobfile.Load(file)
				if err != nil {
					return err
				}
				return withService(cmd, func(ctx context.Context, svc *service.Service, _ config.Config) error {
					res, err := svc.Seed(ctx, defs)
					for _, j := range res.Created {
						printScheduled(cmd.OutOrStdout(), j)
					}
					for _, name := range res.Skipped {
						fmt.Fprintf(cmd.OutOrStdout(), "skipped %s (already exists)\n", name)
					}
					return err
				})
			}

			req.Mode = domain.ExtractionMode(strings.ToLower(mode))
			req.Disabled = disabled
			return withService(cmd, func(ctx context.Context, svc *service.Service, _ config.Config) error {
				job, err := svc.ScheduleJob(ctx, req)
				if err != nil {
					return err
				}
				printScheduled(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.Name, "name", "", "job name (unique)")
	f.StringSliceVar(&req.URLs, "url", nil, "target URL (repeatable)")
	f.StringVar(&req.Schedule, "schedule", "", "schedule spec")
	f.StringVar(&req.Timezone, "tz", "", "IANA timezone for cron and calendar schedules (default UTC)")
	f.StringVar(&mode, "mode", "static", "extraction mode: static or dynamic")
	f.StringToStringVar(&req.Selectors, "selector", nil, "named CSS selector, name=selector (repeatable)")
	f.BoolVar(&disabled, "disabled", false, "create the job disabled")
	f.StringVar(&file, "file", "", "YAML job file; other job flags are ignored")
	cmd.MarkFlagsMutuallyExclusive("file", "name")
	return cmd
}

func printScheduled(w io.Writer, j domain.Job) {
	fmt.Fprintf(w, "scheduled %s (%s) %s\n", j.Name, j.ID, j.Schedule.String())
	if !j.Enabled {
		fmt.Fprintln(w, "  disabled")
		return
	}
	if next, ok := trigger.NextFire(j.Schedule, j.FireBase()); ok {
		fmt.Fprintf(w, "  next fire %s\n", formatTime(next))
	}
}

// newJobStateCmd builds enable and disable, which differ only in the flag they set.
func newJobStateCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <job id or name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service, _ config.Config) error {
				job, err := resolveJob(ctx, svc, args[0])
				if err != nil {
					return err
				}
				op := svc.EnableJob
				if use == "disable" {
					op = svc.DisableJob
				}
				if err := op(ctx, job.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%sd %s (%s)\n", use, job.Name, job.ID)
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job id or name>",
		Short: "Delete a job; its tasks and records are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service, _ config.Config) error {
				job, err := resolveJob(ctx, svc, args[0])
				if err != nil {
					return err
				}
				if err := svc.DeleteJob(ctx, job.ID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s (%s)\n", job.Name, job.ID)
				return nil
			})
		},
	}
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <job id or name>",
		Short: "Enqueue an immediate one-off extraction for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service, _ config.Config) error {
				job, err := resolveJob(ctx, svc, args[0])
				if err != nil {
					return err
				}
				task, inserted, err := svc.RunNow(ctx, job.ID)
				if err != nil {
					return err
				}
				if inserted {
					fmt.Fprintf(cmd.OutOrStdout(), "enqueued task %s for %s\n", task.ID, job.Name)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "task %s for %s already queued\n", task.ID, job.Name)
				}
				return nil
			})
		},
	}
}

func newJobsCmd() *cobra.Command {
	var enabledOnly bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service, _ config.Config) error {
				jobs, err := svc.ListJobs(ctx, enabledOnly)
				if err != nil {
					return err
				}
				printJobs(cmd.OutOrStdout(), jobs)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enabledOnly, "enabled", false, "only list enabled jobs")
	return cmd
}

func printJobs(w io.Writer, jobs []domain.Job) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tMODE\tENABLED\tLAST FIRED\tNEXT FIRE")
	for _, j := range jobs {
		last := "-"
		if j.LastFiredAt != nil {
			last = formatTime(*j.LastFiredAt)
		}
		next := "-"
		if j.Enabled {
			if t, ok := trigger.NextFire(j.Schedule, j.FireBase()); ok {
				next = formatTime(t)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			j.ID, j.Name, j.Schedule.String(), j.Mode, j.Enabled, last, next)
	}
	_ = tw.Flush()
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job, task and record statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, func(ctx context.Context, svc *service.Service, _ config.Config) error {
				st, err := svc.GetStatistics(ctx)
				if err != nil {
					return err
				}
				jobs, err := svc.ListJobs(ctx, false)
				if err != nil {
					return err
				}
				printStats(cmd.OutOrStdout(), st, jobs)
				return nil
			})
		},
	}
}

func printStats(w io.Writer, st domain.Statistics, jobs []domain.Job) {
	fmt.Fprintf(w, "jobs:        %d (%d enabled)\n", st.Jobs, st.EnabledJobs)
	fmt.Fprintf(w, "records:     %d\n", st.Records)
	fmt.Fprintf(w, "queue depth: %d\n", st.QueueDepth)

	fmt.Fprintln(w, "tasks:")
	for _, s := range domain.AllTaskStatuses {
		fmt.Fprintf(w, "  %-14s %d\n", s, st.TaskCounts[s])
	}

	if len(st.LastSuccess) > 0 {
		names := make(map[uuid.UUID]string, len(jobs))
		for _, j := range jobs {
			names[j.ID] = j.Name
		}
		type entry struct {
			name string
			at   time.Time
		}
		entries := make([]entry, 0, len(st.LastSuccess))
		for id, at := range st.LastSuccess {
			name, ok := names[id]
			if !ok {
				name = id.String()
			}
			entries = append(entries, entry{name, at})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

		fmt.Fprintln(w, "last success:")
		for _, e := range entries {
			fmt.Fprintf(w, "  %s  %s\n", formatTime(e.at), e.name)
		}
	}

	if len(st.DeadLetters) > 0 {
		fmt.Fprintln(w, "dead letters:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  TASK\tJOB\tFIRE AT\tATTEMPTS\tLAST ERROR")
		for _, d := range st.DeadLetters {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d\t%s\n",
				d.TaskID, d.JobID, formatTime(d.FireAt), d.Attempts, d.LastError)
		}
		_ = tw.Flush()
	}
}

func newExportCmd() *cobra.Command {
	var (
		format string
		job    string
		since  string
		until  string
		limit  int
		dir    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export records to a timestamped JSON or CSV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmtv, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			var filter domain.RecordFilter
			if filter.Since, err = parseTimeFlag("since", since); err != nil {
				return err
			}
			if filter.Until, err = parseTimeFlag("until", until); err != nil {
				return err
			}

			return withService(cmd, func(ctx context.Context, svc *service.Service, cfg config.Config) error {
				if job != "" {
					j, err := resolveJob(ctx, svc, job)
					if err != nil {
						return err
					}
					filter.JobID = &j.ID
				}
				records, err := svc.Export(ctx, filter, limit)
				if err != nil {
					return err
				}
				if dir == "" {
					dir = cfg.ExportDir
				}
				path, err := export.WriteFile(dir, fmtv, records, time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d records to %s\n", len(records), path)
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&format, "format", "json", "output format: json or csv")
	f.StringVar(&job, "job", "", "only records of this job (id or name)")
	f.StringVar(&since, "since", "", "only records fetched at or after this RFC3339 time")
	f.StringVar(&until, "until", "", "only records fetched before this RFC3339 time")
	f.IntVar(&limit, "limit", 0, fmt.Sprintf("maximum records (default %d)", service.DefaultExportLimit))
	f.StringVar(&dir, "dir", "", "output directory (default EXPORT_DIR)")
	return cmd
}

func parseTimeFlag(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.WithHint(errors.Newf("invalid --%s %q", name, raw), "use RFC3339, e.g. 2026-01-02T15:04:05Z")
	}
	return t, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
