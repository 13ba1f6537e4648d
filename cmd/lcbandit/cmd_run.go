// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/lcbandit/cmd/lcbandit/config"
	"github.com/AleutianAI/lcbandit/pkg/ux"
	"github.com/AleutianAI/lcbandit/services/bandit/arm"
	"github.com/AleutianAI/lcbandit/services/bandit/driver"
	"github.com/AleutianAI/lcbandit/services/bandit/fit"
	"github.com/AleutianAI/lcbandit/services/bandit/history"
	"github.com/AleutianAI/lcbandit/services/bandit/sink"
	"github.com/AleutianAI/lcbandit/services/bandit/status"
	bstore "github.com/AleutianAI/lcbandit/services/bandit/storage/badger"
	"github.com/AleutianAI/lcbandit/services/bandit/telemetry"
)

// errNoBackend is returned by run when the config names no fit command.
var errNoBackend = errors.New("fit.backend is not configured")

const shutdownTimeout = 5 * time.Second

// runFlags override the matching config fields when set.
type runFlags struct {
	dataDir         string
	outDir          string
	models          []string
	priors          []string
	modelOfInterest string
	statistic       string
	mode            string
	statusAddr      string
	nSteps          int
	minDetections   int
	tStep           float64
	allFilters      bool
	cleanRun        bool
	yes             bool
	dryRun          bool
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bandit over every light curve in the data directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBandit(cmd, opts, f)
		},
	}
	addRunFlags(cmd, f)
	cmd.Flags().BoolVar(&f.cleanRun, "clean-run", false, "remove observed_* files left by an earlier run first")
	cmd.Flags().BoolVarP(&f.yes, "yes", "y", false, "do not ask before removing files")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "print the plan and exit without fitting")
	cmd.Flags().StringVar(&f.statusAddr, "status-addr", "", "serve status and metrics on this address")
	return cmd
}

// addRunFlags registers the flags shared by run and plan.
func addRunFlags(cmd *cobra.Command, f *runFlags) {
	fl := cmd.Flags()
	fl.StringVar(&f.dataDir, "data", "", "directory holding the input light curves")
	fl.StringVar(&f.outDir, "out", "", "output directory")
	fl.StringSliceVar(&f.models, "models", nil, "comma-separated model names")
	fl.StringSliceVar(&f.priors, "priors", nil, "comma-separated prior files, parallel to --models")
	fl.StringVar(&f.modelOfInterest, "model-of-interest", "", "model whose preference is rewarded")
	fl.StringVar(&f.statistic, "statistic", "", "reward statistic (log_likelihood or log_bayes_factor)")
	fl.StringVar(&f.mode, "mode", "", "simulation or online")
	fl.IntVar(&f.nSteps, "nsteps", 0, "number of bandit rounds after the initial fit")
	fl.Float64Var(&f.tStep, "tstep", 0, "window width in days")
	fl.IntVar(&f.minDetections, "min-detections", 0, "detections required before the first fit")
	fl.BoolVar(&f.allFilters, "all-filters", false, "require min-detections in every band")
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config, f *runFlags) {
	fl := cmd.Flags()
	if fl.Changed("data") {
		cfg.DataDir = f.dataDir
	}
	if fl.Changed("out") {
		cfg.OutDir = f.outDir
	}
	if fl.Changed("models") {
		cfg.Models = f.models
	}
	if fl.Changed("priors") {
		cfg.Priors = f.priors
	}
	if fl.Changed("model-of-interest") {
		cfg.ModelOfInterest = f.modelOfInterest
	}
	if fl.Changed("statistic") {
		cfg.Statistic = f.statistic
	}
	if fl.Changed("mode") {
		cfg.Mode = f.mode
	}
	if fl.Changed("nsteps") {
		cfg.NSteps = f.nSteps
	}
	if fl.Changed("tstep") {
		cfg.TStep = f.tStep
	}
	if fl.Changed("min-detections") {
		cfg.MinDetections = f.minDetections
	}
	if fl.Changed("all-filters") {
		cfg.AllFilters = f.allFilters
	}
	if fl.Changed("clean-run") {
		cfg.CleanRun = f.cleanRun
	}
	if fl.Changed("status-addr") {
		cfg.Status.Addr = f.statusAddr
	}
}

// driverConfig maps the file configuration onto the driver's.
func driverConfig(cfg config.Config) driver.Config {
	return driver.Config{
		DataDir:         cfg.DataDir,
		Glob:            cfg.Glob,
		OutDir:          cfg.OutDir,
		ResultFile:      cfg.ResultFile,
		Models:          cfg.Models,
		ModelOfInterest: cfg.ModelOfInterest,
		Statistic:       cfg.Statistic,
		NSteps:          cfg.NSteps,
		Step:            cfg.TStep,
		MinDetections:   cfg.MinDetections,
		AllFilters:      cfg.AllFilters,
		WarmStart:       cfg.WarmStart,
		Mode:            arm.Mode(cfg.Mode),
		PrimaryBand:     cfg.PrimaryBand,
		Parallelism:     cfg.Parallelism,
		SweepPatterns:   cfg.Fit.SweepPatterns,
		MinFreeBytes:    cfg.MinFreeMB << 20,
		CleanRun:        cfg.CleanRun,
	}
}

func runBandit(cmd *cobra.Command, opts *rootOptions, f *runFlags) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg, f)
	if err := cfg.Validate(); err != nil {
		return err
	}
	p := newPrinter(cmd)

	if f.dryRun {
		return printPlan(p, cfg)
	}
	if cfg.Fit.Backend == nil {
		return errNoBackend
	}

	if cfg.CleanRun {
		ok, err := ux.Confirm(
			"Remove observed light curves?",
			fmt.Sprintf("Deletes every observed_* entry in %s.", cfg.OutDir),
			f.yes,
		)
		if err != nil {
			return err
		}
		// The driver cleans once it holds the OutDir lock.
		cfg.CleanRun = ok
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID := uuid.NewString()
	lg, err := newLogger(cmd, cfg, cfg.OutDir, runID)
	if err != nil {
		return err
	}
	defer lg.Close()
	log := lg.Slog()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			log.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}()
	metrics, err := telemetry.NewGlobalMetrics()
	if err != nil {
		return fmt.Errorf("create metrics: %w", err)
	}

	orch, err := newOrchestrator(cfg, metrics, log)
	if err != nil {
		return err
	}

	store, err := openHistory(cfg, log)
	if err != nil {
		return err
	}
	defer store.Close()

	rewardSink, publisher, err := openSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rewardSink.Close()
	defer publisher.Close()

	tracker := status.NewTracker(runID, nil, 0)
	if cfg.Status.Addr != "" {
		srv, err := status.NewServer(tracker, log)
		if err != nil {
			return err
		}
		if err := srv.Start(cfg.Status.Addr); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		p.KeyValue("status", "http://"+srv.Addr()+"/v1/status")
	}

	d, err := driver.New(driverConfig(cfg), driver.Options{
		Fitter:    orch,
		History:   store,
		Sink:      rewardSink,
		Publisher: publisher,
		Metrics:   metrics,
		Tracker:   tracker,
		Printer:   p,
		Logger:    log,
		RunID:     runID,
	})
	if err != nil {
		return err
	}

	res, err := d.Run(ctx)
	if err != nil {
		p.Error(err.Error())
		return err
	}

	p.Success("run complete")
	p.KeyValue("run id", res.RunID)
	p.KeyValue("results", res.ResultPath)
	if res.Published != "" && res.Published != res.ResultPath {
		p.KeyValue("published", res.Published)
	}
	p.KeyValue("log", lg.Path())
	return nil
}

func newOrchestrator(cfg config.Config, metrics *telemetry.Metrics, log *slog.Logger) (*fit.Orchestrator, error) {
	specs, err := cfg.ModelSpecs()
	if err != nil {
		return nil, err
	}
	backend, err := fit.NewCommandBackend(*cfg.Fit.Backend, log)
	if err != nil {
		return nil, err
	}
	return fit.NewOrchestrator(fit.Config{
		Models:         specs,
		OutRoot:        cfg.OutDir,
		PollInterval:   cfg.Fit.PollInterval,
		Timeout:        cfg.Fit.Timeout,
		SweepPatterns:  cfg.Fit.SweepPatterns,
		WatchArtifacts: cfg.Fit.WatchArtifacts,
	}, backend, metrics, log)
}

func openHistory(cfg config.Config, log *slog.Logger) (history.Store, error) {
	if !cfg.History.Enabled {
		return history.NopStore{}, nil
	}
	bcfg := bstore.DefaultConfig()
	bcfg.Path = cfg.HistoryPath()
	bcfg.Logger = log.With(slog.String("component", "journal"))
	store, err := history.OpenBadgerStore(bcfg)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return store, nil
}

// openSinks builds the reward sink and result publisher. Reward events go
// to every configured destination through sink.Multi. Both fall back to
// sink.Nop when nothing is configured.
func openSinks(ctx context.Context, cfg config.Config, log *slog.Logger) (sink.RewardSink, sink.Publisher, error) {
	var sinks sink.Multi
	fail := func(err error) (sink.RewardSink, sink.Publisher, error) {
		_ = sinks.Close()
		return nil, nil, err
	}

	if path := cfg.RewardsPath(); path != "" {
		fs, err := sink.NewFileSink(path)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, fs)
		log.Info("reward log enabled", slog.String("path", path))
	}

	if cfg.Influx != nil {
		token, err := sink.LoadToken(*cfg.Influx)
		if err != nil {
			return fail(err)
		}
		is, err := sink.NewInfluxSink(*cfg.Influx, token)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, is)
		log.Info("reward sink enabled",
			slog.String("url", cfg.Influx.URL),
			slog.String("bucket", cfg.Influx.Bucket),
		)
	}

	var rs sink.RewardSink = sink.Nop{}
	if len(sinks) > 0 {
		rs = sinks
	}

	var pub sink.Publisher = sink.Nop{}
	if cfg.GCS != nil {
		gp, err := sink.NewGCSPublisher(ctx, *cfg.GCS)
		if err != nil {
			return fail(err)
		}
		pub = gp
		log.Info("result publishing enabled", slog.String("bucket", cfg.GCS.Bucket))
	}
	return rs, pub, nil
}
