package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/gpipe/internal/core"
	"github.com/3cpo-dev/gpipe/internal/pipelines"
	"github.com/3cpo-dev/gpipe/internal/poller"
	"github.com/3cpo-dev/gpipe/pkg/api"
)

// runLabel tags every operation submitted by one invocation.
const runLabel = "gpipe-run"

// Run a sample pipeline
func newRunCmd(reg *pipelines.Registry) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a sample pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	for _, name := range reg.Names() {
		s, _ := reg.Get(name)
		cmd.AddCommand(newSampleCmd(s))
	}
	return cmd
}

func newSampleCmd(s pipelines.Sample) *cobra.Command {
	cmd := &cobra.Command{
		Use:   s.Name,
		Short: s.Description,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSample(cmd, s)
		},
	}
	cmd.Flags().StringSlice("zones", nil, "zones or zone prefixes ending in * (e.g. us-*)")
	cmd.Flags().Int("disk-size", 0, "disk size in GB")
	cmd.Flags().StringSlice("input", nil, "input files (gs:// paths)")
	cmd.Flags().String("output", "", "output path (gs://)")
	cmd.Flags().String("logging", "", "logging path (gs://)")
	cmd.Flags().Int("poll-interval", -1, "seconds between status checks; 0 submits without waiting (default from config)")
	cmd.Flags().Duration("poll-timeout", 0, "give up waiting after this long (default from config, 0 waits forever)")
	cmd.Flags().Bool("dry-run", false, "print the requests instead of submitting them")
	if s.Batchable {
		cmd.Flags().Int("batch-size", 0, "submit one operation per N inputs (0 submits a single operation)")
	}

	switch s.Name {
	case "compress":
		cmd.Flags().String("operation", "gzip", "one of gzip, gunzip, bzip2, bunzip2")
	case "set-vcf-sample-id":
		cmd.Flags().String("original-sample-id", "", "sample id expected in the input headers")
		cmd.Flags().String("new-sample-id", "", "sample id to write")
		cmd.Flags().String("script-path", "", "gs:// folder holding process_vcfs.sh and set_vcf_sample_id.py")
	case "bioconductor":
		cmd.Flags().String("script", "", "gs:// path of the R script")
		cmd.Flags().String("bam", "", "gs:// path of the BAM file")
		cmd.Flags().String("index", "", "gs:// path of the BAM index")
	case "samtools":
		cmd.Flags().String("pipeline-id", "", "id returned by samtools-create")
	}
	return cmd
}

// sampleParams collects flags into builder parameters.
func sampleParams(cmd *cobra.Command, e *env) (pipelines.Params, error) {
	f := cmd.Flags()
	p := pipelines.Params{Project: e.cfg.Project}
	p.DiskSizeGb, _ = f.GetInt("disk-size")
	p.Inputs, _ = f.GetStringSlice("input")
	p.Output, _ = f.GetString("output")
	p.Logging, _ = f.GetString("logging")
	p.Operation, _ = f.GetString("operation")
	p.OriginalSampleID, _ = f.GetString("original-sample-id")
	p.NewSampleID, _ = f.GetString("new-sample-id")
	p.ScriptPath, _ = f.GetString("script-path")
	p.Script, _ = f.GetString("script")
	p.BAM, _ = f.GetString("bam")
	p.Index, _ = f.GetString("index")
	p.PipelineID, _ = f.GetString("pipeline-id")

	if e.cfg.ServiceAccount.Email != "" {
		p.ServiceAccount = &api.ServiceAccount{Email: e.cfg.ServiceAccount.Email, Scopes: e.cfg.ServiceAccount.Scopes}
		if len(p.ServiceAccount.Scopes) == 0 {
			p.ServiceAccount.Scopes = pipelines.DefaultServiceAccountScopes
		}
	}

	patterns, _ := f.GetStringSlice("zones")
	zs, err := e.expandZones(cmd, patterns)
	if err != nil {
		return p, err
	}
	p.Zones = zs
	return p, nil
}

// pollSettings resolves flag values over the config defaults.
func pollSettings(cmd *cobra.Command, e *env) (int, time.Duration) {
	interval, _ := cmd.Flags().GetInt("poll-interval")
	if interval < 0 {
		interval = e.cfg.Poll.IntervalSeconds
	}
	timeout, _ := cmd.Flags().GetDuration("poll-timeout")
	if timeout == 0 {
		timeout = time.Duration(e.cfg.Poll.TimeoutSeconds) * time.Second
	}
	return interval, timeout
}

func runSample(cmd *cobra.Command, s pipelines.Sample) error {
	dry, _ := cmd.Flags().GetBool("dry-run")
	resolve := resolveEnv
	if dry {
		resolve = offlineEnv
	}
	e, err := resolve(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := sampleParams(cmd, e)
	if err != nil {
		return err
	}
	runID := uuid.NewString()
	p.Labels = map[string]string{runLabel: runID}

	batchSize, _ := cmd.Flags().GetInt("batch-size")
	reqs, err := pipelines.BuildBatches(s, p, batchSize)
	if err != nil {
		return err
	}
	if dry {
		return printResult(cmd, reqs)
	}

	store, err := e.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ops := make([]*api.Operation, 0, len(reqs))
	for i, req := range reqs {
		op, err := e.client.Run(cmd.Context(), req)
		if err != nil {
			if len(ops) > 0 {
				log.Error().Int("submitted", len(ops)).Int("batches", len(reqs)).Msg("Submission stopped part way; earlier operations keep running")
			}
			return err
		}
		log.Info().Str("operation", op.Name).Str("sample", s.Name).Str("run", runID).Int("batch", i).Msg("Submitted")
		logStoreError(store.RecordSubmission(cmd.Context(), op, runID, s.Name, p.Project), op.Name)
		ops = append(ops, op)
	}

	interval, timeout := pollSettings(cmd, e)
	if interval > 0 {
		ops, err = waitAll(cmd, e, store, ops, interval, timeout)
		if perr := printResult(cmd, ops); perr != nil {
			return perr
		}
		if err != nil {
			return err
		}
		return failedError(ops)
	}
	return printResult(cmd, ops)
}

// waitAll polls each operation in turn and keeps the history current.
func waitAll(cmd *cobra.Command, e *env, store *core.Store, ops []*api.Operation, interval int, timeout time.Duration) ([]*api.Operation, error) {
	p := poller.New(e.client, interval)
	p.Timeout = timeout
	p.Metrics = e.metrics
	p.OnPending = func(op *api.Operation) {
		logStoreError(store.UpdateSnapshot(cmd.Context(), op), op.Name)
	}
	out := make([]*api.Operation, len(ops))
	copy(out, ops)
	for i, op := range ops {
		final, err := p.Poll(cmd.Context(), op)
		if final != nil {
			out[i] = final
			logStoreError(store.UpdateSnapshot(cmd.Context(), final), final.Name)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// failedError reports finished operations that carry an error status.
func failedError(ops []*api.Operation) error {
	var failed []string
	for _, op := range ops {
		if op.Failed() {
			failed = append(failed, fmt.Sprintf("%s: %s", op.Name, op.Error.Message))
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &exitError{code: 2, err: fmt.Errorf("%d operation(s) failed: %v", len(failed), failed)}
}

// Define the persisted samtools pipeline
func newSamtoolsCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samtools-create",
		Short: "Create the persisted samtools index pipeline and print its id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				if err := (&env{cfg: cfg}).requireProject(); err != nil {
					return err
				}
				return printResult(cmd, pipelines.SamtoolsPipeline(cfg.Project))
			}
			e, err := resolveEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()
			if err := e.requireProject(); err != nil {
				return err
			}
			created, err := e.client.Create(cmd.Context(), pipelines.SamtoolsPipeline(e.cfg.Project))
			if err != nil {
				return err
			}
			if created.PipelineID == "" {
				return errors.New("create pipeline: response carries no pipelineId")
			}
			log.Info().Str("pipeline", created.PipelineID).Msg("Created pipeline")
			return printResult(cmd, created)
		},
	}
	cmd.Flags().Bool("dry-run", false, "print the pipeline definition instead of creating it")
	return cmd
}
