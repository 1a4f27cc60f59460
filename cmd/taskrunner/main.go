// -----------------------------------------------------------------------
// Command taskrunner drives one or more Execute calls over a fleet of
// tasks read from a JSON file, against the built-in scraper/extract
// executor chain.
// -----------------------------------------------------------------------

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/taskrunner/internal/common"
	"github.com/ternarybob/taskrunner/internal/contentstore"
	"github.com/ternarybob/taskrunner/internal/executor"
	"github.com/ternarybob/taskrunner/internal/executors"
	"github.com/ternarybob/taskrunner/internal/proxy"
	"github.com/ternarybob/taskrunner/internal/report"
	"github.com/ternarybob/taskrunner/internal/scheduler"
)

// configPaths is a custom flag type that allows multiple -config flags.
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles    configPaths
	tasksFile      = flag.String("tasks", "", "JSON file containing the task list to admit")
	replayOnly     = flag.Bool("replay", false, "treat -tasks entries as keys only and require an existing journal entry")
	workingDir     = flag.String("dir", "", "working directory for journal and scratch files (overrides config)")
	maxParallelism = flag.Int("max-parallelism", 0, "concurrency cap, clamped to [1,100] (overrides config)")
	forceAll       = flag.Bool("force", false, "re-run every executor even if already SUCCESS")
	showVersion    = flag.Bool("version", false, "print version information")
)

func init() {
	flag.Var(&configFiles, "config", "configuration file path (can be repeated; only the last one is loaded)")
	flag.Var(&configFiles, "c", "configuration file path (shorthand)")
}

func main() {
	defer common.RecoverWithCrashFile()
	flag.Parse()

	if *showVersion {
		fmt.Printf("taskrunner version %s\n", common.GetVersion())
		os.Exit(0)
	}

	if len(configFiles) == 0 {
		if _, err := os.Stat("taskrunner.toml"); err == nil {
			configFiles = append(configFiles, "taskrunner.toml")
		}
	}

	var configPath string
	if len(configFiles) > 0 {
		configPath = configFiles[len(configFiles)-1]
	}

	config, err := common.LoadFromFile(configPath)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	var forced []string
	if *forceAll {
		forced = []string{executor.AllSentinel}
	}
	common.ApplyFlagOverrides(config, *workingDir, *maxParallelism, forced)

	logger := common.SetupLogger(config)
	common.InstallCrashHandler(config.Storage.WorkingDir)
	common.PrintBanner(config, logger)

	tasks, err := loadTaskSet(*tasksFile, *replayOnly)
	if err != nil {
		logger.Fatal().Err(err).Str("tasks_file", *tasksFile).Msg("Failed to load task list")
	}

	var contentCache *contentstore.Store
	if config.Storage.ContentCache.Enabled {
		contentCache, err = contentstore.Open(logger, config.Storage.ContentCache.Path)
		if err != nil {
			logger.Fatal().Err(err).Str("path", config.Storage.ContentCache.Path).Msg("Failed to open content cache")
		}
		defer contentCache.Close()
	}

	executorChain := []executor.Executor{
		executors.Scraper(),
		executors.Extract(""),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Interrupt received - cancelling in-flight tasks")
		cancel()
	}()

	runOnce := func() {
		runExecute(ctx, logger, config, executorChain, tasks, contentCache)
	}

	if !config.Schedule.Enabled {
		runOnce()
		common.PrintShutdownBanner(logger)
		return
	}

	c := cron.New()
	if _, err := c.AddFunc(config.Schedule.Cron, runOnce); err != nil {
		logger.Fatal().Err(err).Str("cron", config.Schedule.Cron).Msg("Invalid cron schedule")
	}
	logger.Info().Str("cron", config.Schedule.Cron).Msg("Starting scheduled repeat runs")
	c.Start()

	<-ctx.Done()
	c.Stop()
	common.PrintShutdownBanner(logger)
}

func runExecute(ctx context.Context, logger arbor.ILogger, config *common.Config, chain []executor.Executor, tasks scheduler.TaskSet, contentCache *contentstore.Store) {
	var proxies proxy.Provider
	if config.Proxy.Enabled {
		proxies = proxy.NewStaticProvider(config.Proxy.Buckets, config.Proxy.CheckURL)
	}

	opts := scheduler.Options{
		Timeout:        config.Engine.TaskTimeout,
		ForceExecutors: config.Engine.ForceExecutors,
		MaxParallelism: config.Engine.MaxParallelism,
		ProxyProvider:  proxies,
		ContentCache:   contentCache,
		Logger:         logger,
	}

	successKeys, err := scheduler.Execute(ctx, chain, config.Storage.WorkingDir, tasks, opts)
	if err != nil {
		logger.Error().Err(err).Msg("Execute aborted with a fatal error")
	}

	logger.Info().Int("succeeded", len(successKeys)).Strs("keys", successKeys).Msg("Run complete")

	hist, err := report.Histogram(config.Storage.WorkingDir)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to build status histogram")
		return
	}
	for name, counts := range hist {
		logger.Info().Str("executor", name).Interface("counts", counts).Msg("Executor status histogram")
	}
}

// taskFileEntry is the on-disk shape of one element of -tasks.
type taskFileEntry struct {
	Key    string                 `json:"key"`
	Params map[string]interface{} `json:"params"`
}

func loadTaskSet(path string, replay bool) (scheduler.TaskSet, error) {
	if path == "" {
		return scheduler.TaskSet{}, fmt.Errorf("-tasks is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return scheduler.TaskSet{}, fmt.Errorf("read tasks file: %w", err)
	}

	var entries []taskFileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return scheduler.TaskSet{}, fmt.Errorf("parse tasks file: %w", err)
	}

	if replay {
		keys := make([]string, 0, len(entries))
		for _, e := range entries {
			keys = append(keys, e.Key)
		}
		return scheduler.Replay(keys), nil
	}

	admitted := make([]scheduler.Task, 0, len(entries))
	for _, e := range entries {
		admitted = append(admitted, scheduler.Task{Key: e.Key, Params: e.Params})
	}
	return scheduler.Admit(admitted), nil
}
