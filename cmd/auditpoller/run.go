package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auditpoller/internal/runner"
	"auditpoller/pkg/auth"
	"auditpoller/pkg/checkpoint"
	"auditpoller/pkg/collector"
	"auditpoller/pkg/config"
	"auditpoller/pkg/logger"
	"auditpoller/pkg/ratelimit"
	"auditpoller/pkg/sink"
	"auditpoller/pkg/tenable"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	sinkType    string
	sinkPath    string
	pageLimit   int
	concurrency int
)

var runCmd = &cobra.Command{
	Use:   "run [input...]",
	Short: "Fetch new audit events for the configured inputs",
	Long: `Fetch new audit events once for every configured input, or only the
named ones, and advance their checkpoints.

API keys given in clear text in the config file are moved into the secret
store on the first run and replaced in the file by <encrypted>.

The command exits non-zero when any input failed. Failed inputs keep their
previous checkpoint.`,
	Example: `  # Poll every input, events to stdout
  auditpoller run

  # Poll one input into a file
  auditpoller run tenable_prod --sink file --sink-path /var/log/tenable/audit.jsonl`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&sinkType, "sink", "", "event sink (stdout, file, s3)")
	runCmd.Flags().StringVar(&sinkPath, "sink-path", "", "output file for the file sink")
	runCmd.Flags().IntVar(&pageLimit, "page-limit", 0, "events requested per call (max 5000)")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 0, "inputs polled at the same time")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(map[string]interface{}{
		"sink":        sinkType,
		"sink-path":   sinkPath,
		"page-limit":  pageLimit,
		"concurrency": concurrency,
	})
	if err != nil {
		return err
	}

	inputs, err := selectInputs(cfg, args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := checkpoint.NewFileStore(cfg.Checkpoint.Dir, log)
	if err != nil {
		return err
	}

	secrets, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to open secret store: %w", err)
	}

	runLog := log.WithField("run_id", uuid.NewString())
	limits := ratelimit.NewRegistry(cfg.Fetch.RequestsPerMinute, time.Minute)

	// credentials are resolved one input at a time since resolving may rewrite the config file
	jobs := make([]runner.Job, 0, len(inputs))
	for _, in := range inputs {
		creds, err := resolveInputCredentials(cfg, secrets, in, runLog)
		jobs = append(jobs, newJob(cfg, in, creds, err, store, limits, runLog))
	}

	summary, err := runner.New(cfg.Runner.Concurrency, runLog).Run(ctx, jobs)
	if err != nil {
		return err
	}
	return summary.Err()
}

func resolveInputCredentials(cfg *config.Config, secrets auth.SecretStore, in config.InputConfig, log logger.Logger) (*auth.Credentials, error) {
	creds, updates, err := auth.ResolveCredentials(secrets, in.Name, in.AccessKey, in.SecretKey)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 {
		return creds, nil
	}

	cfg.MaskSecrets(in.Name, updates)
	saved, err := persistMaskedSecrets(cfg.Path(), in.Name, updates)
	if err != nil {
		log.WithError(err).WithField("input", in.Name).Warn("stored API keys but could not mask them in the config file")
	} else if saved {
		log.InfoWithFields("stored API keys and masked them in the config file", map[string]interface{}{
			"input": in.Name,
			"keys":  updates,
			"path":  cfg.Path(),
		})
	}
	return creds, nil
}

// newJob builds the fetch pass for one input. A credential error becomes a
// job that fails without touching the API or the checkpoint.
func newJob(cfg *config.Config, in config.InputConfig, creds *auth.Credentials, credErr error, store checkpoint.Store, limits *ratelimit.Registry, log logger.Logger) runner.Job {
	inputLog := log.WithField("input", in.Name)

	return runner.Job{
		Input: in.Name,
		Run: func(ctx context.Context) (*collector.Result, error) {
			if credErr != nil {
				return nil, credErr
			}

			client, err := tenable.NewClient(in.Domain, creds, tenable.Options{
				Timeout:     cfg.Fetch.Timeout,
				MaxAttempts: cfg.Fetch.MaxAttempts,
				Limiter:     limits.For(in.Domain),
			}, inputLog)
			if err != nil {
				return nil, err
			}

			out, err := sink.New(ctx, cfg.Sink, in.Name, inputLog)
			if err != nil {
				return nil, err
			}
			defer out.Close()

			c := collector.New(collector.Config{
				Input:     in.Name,
				Domain:    in.Domain,
				PageLimit: cfg.Fetch.PageLimit,
				Lookback:  cfg.Fetch.Lookback,
			}, client, store, out, inputLog)

			return c.Run(ctx)
		},
	}
}
