package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tetraminz/sales_coach/internal/analysis"
	"github.com/tetraminz/sales_coach/internal/api"
	"github.com/tetraminz/sales_coach/internal/config"
	"github.com/tetraminz/sales_coach/internal/export"
	"github.com/tetraminz/sales_coach/internal/knowledge"
	"github.com/tetraminz/sales_coach/internal/llm"
	"github.com/tetraminz/sales_coach/internal/logger"
	"github.com/tetraminz/sales_coach/internal/model"
	"github.com/tetraminz/sales_coach/internal/store"
	"github.com/tetraminz/sales_coach/internal/transcript"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "sales_coach",
		Short:         "Analyse sales conversations and coach the seller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")

	root.AddCommand(
		newSetupCmd(opts),
		newAnalyzeCmd(opts),
		newServeCmd(opts),
		newRecoverCmd(opts),
		newReportCmd(opts),
		newExportCmd(opts),
	)
	return root
}

func newSetupCmd(opts *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Recreate the SQLite schema (drops existing data)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if strings.TrimSpace(dbPath) == "" {
				dbPath = cfg.DBPath
			}
			if err := store.Setup(dbPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "setup_ok=true db=%s\n", dbPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path (default from config)")
	return cmd
}

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	var (
		segmentsPath string
		outPath      string
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyse one transcript segment file and print the job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(segmentsPath) == "" {
				return errors.New("--segments is required")
			}
			a, err := newApp(opts, cmd.ErrOrStderr(), transcript.FileTranscriber{})
			if err != nil {
				return err
			}
			defer a.Close()

			job := a.orchestrator.Analyze(cmd.Context(), segmentsPath)
			if outPath != "" && job.Result != nil {
				if err := export.WriteWorkbook(outPath, job); err != nil {
					return err
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(job); err != nil {
				return fmt.Errorf("encode job: %w", err)
			}
			if job.Status == model.JobFailed {
				return fmt.Errorf("analysis failed: %s", job.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&segmentsPath, "segments", "", "JSON or CSV transcript segment file")
	cmd.Flags().StringVar(&outPath, "export", "", "optional workbook path for the result")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(opts, cmd.ErrOrStderr(), nil)
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := api.NewServer(a.orchestrator, api.Options{
				UploadDir:      a.cfg.Server.UploadDir,
				MaxUploadBytes: a.cfg.Server.MaxUploadBytes,
			}, a.log)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			go func() {
				select {
				case <-ctx.Done():
					return
				case <-time.After(a.cfg.Recovery.Delay):
				}
				if _, err := a.orchestrator.RecoverStuckJobs(ctx); err != nil {
					a.log.WithError(err).Warn("recovery sweep failed")
				}
			}()

			err = srv.ListenAndServe(ctx, a.cfg.Server.Addr)
			a.orchestrator.Wait()
			return err
		},
	}
}

func newRecoverCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Fail every stored job left unfinished by a previous process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			o := analysis.NewOrchestrator(nil, nil, st, log)
			n, err := o.RecoverStuckJobs(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recovered_jobs=%d\n", n)
			return nil
		},
	}
}

func newReportCmd(opts *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarise stored jobs and generation calls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if strings.TrimSpace(dbPath) == "" {
				dbPath = cfg.DBPath
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := st.BuildReport(cmd.Context())
			if err != nil {
				return err
			}
			store.PrintReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite path (default from config)")
	return cmd
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		jobID   string
		outPath string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the workbook of a stored job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(jobID) == "" {
				return errors.New("--job is required")
			}
			cfg, _, err := loadConfig(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.GetJob(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			if outPath == "" {
				outPath = jobID + ".xlsx"
			}
			if err := export.WriteWorkbook(outPath, job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported=%s\n", outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job", "", "job id")
	cmd.Flags().StringVar(&outPath, "out", "", "workbook path (default <job>.xlsx)")
	return cmd
}

// loadConfig reads the configuration and builds a logger writing to logOut,
// which keeps command output on stdout machine-readable.
func loadConfig(opts *rootOptions, logOut io.Writer) (config.Config, *logrus.Entry, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	base := logger.New(cfg.Log.Environment, cfg.Log.Level, logOut)
	return cfg, logrus.NewEntry(base).WithField("service", "sales_coach"), nil
}

// app holds the wired pipeline of commands that run analyses.
type app struct {
	cfg          config.Config
	log          *logrus.Entry
	store        *store.SQLiteStore
	orchestrator *analysis.Orchestrator
}

// newApp wires the pipeline. A nil transcriber picks the ASR service when
// one is configured and segment files otherwise.
func newApp(opts *rootOptions, logOut io.Writer, tr transcript.Transcriber) (*app, error) {
	cfg, log, err := loadConfig(opts, logOut)
	if err != nil {
		return nil, err
	}

	kb, err := knowledge.Load(cfg.Knowledge.Path)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	gen, err := llm.NewOpenAIClient(llm.Options{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		CallTimeout: cfg.LLM.CallTimeout,
		MaxElapsed:  cfg.LLM.MaxElapsed,
		Recorder:    st,
		Logger:      logger.Component(log, "llm"),
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	if tr == nil {
		tr = transcript.FileTranscriber{}
		if asr := strings.TrimSpace(cfg.Transcriber.ASRURL); asr != "" {
			tr = transcript.NewASRClient(asr, nil, 0)
		}
	}

	var orchestratorOpts []analysis.Option
	if dir := strings.TrimSpace(cfg.Export.Dir); dir != "" {
		orchestratorOpts = append(orchestratorOpts, analysis.WithReportWriter(export.NewWriter(dir, log)))
	}

	process := analysis.NewCoachingProcess(gen, kb, cfg.Pipeline, log)
	log.WithFields(logrus.Fields{
		"model":     cfg.LLM.Model,
		"knowledge": kb.Version(),
		"db":        cfg.DBPath,
	}).Info("pipeline ready")

	return &app{
		cfg:          cfg,
		log:          log,
		store:        st,
		orchestrator: analysis.NewOrchestrator(process, tr, st, log, orchestratorOpts...),
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
