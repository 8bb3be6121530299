package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/harekrishnarai/pinwalk/pkg/config"
	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"github.com/harekrishnarai/pinwalk/pkg/errors"
	"github.com/harekrishnarai/pinwalk/pkg/fetch"
	"github.com/harekrishnarai/pinwalk/pkg/github"
	"github.com/harekrishnarai/pinwalk/pkg/metrics"
	"github.com/harekrishnarai/pinwalk/pkg/parser"
	"github.com/harekrishnarai/pinwalk/pkg/policy"
	"github.com/harekrishnarai/pinwalk/pkg/report"
	"github.com/harekrishnarai/pinwalk/pkg/resolver"
	"github.com/harekrishnarai/pinwalk/pkg/terminal"
	"github.com/harekrishnarai/pinwalk/pkg/validation"
	"github.com/urfave/cli/v2"
)

func scan(c *cli.Context) error {
	startTime := time.Now()
	logger := newLogger(c.Bool("verbose"))
	term := terminal.Default()

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Scan.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Scan.Timeout)
		defer cancel()
	}

	// Every checkout of this scan, the root clone included, lives below scanDir
	scanDir, err := os.MkdirTemp(cfg.Scan.WorkDir, constants.DefaultWorkDirPrefix)
	if err != nil {
		return errors.NewConfigError("failed to create working directory", err,
			"Check that --work-dir exists and is writable")
	}
	if cfg.Scan.KeepCheckouts {
		fmt.Fprintf(term.Err(), "Keeping checkouts in %s\n", scanDir)
	} else {
		defer os.RemoveAll(scanDir)
	}

	token := github.TokenFromEnv()
	client := github.NewClient(token, logger.WithName("github"))

	repository, files, err := acquireRoots(ctx, c, client, scanDir, term)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.ErrNoRootFiles(repository)
	}
	fmt.Fprintf(term.Err(), "Found %d workflow files.\n", len(files))

	var fetcher fetch.Fetcher
	switch cfg.Scan.Fetcher {
	case constants.FetcherAPI:
		fetcher = fetch.NewAPIFetcher(client.API(), logger.WithName("fetch"))
	default:
		fetcher = fetch.NewGitFetcher(token, logger.WithName("fetch"))
	}
	if !client.Authenticated() {
		logger.Info("no GITHUB_TOKEN set, requests are unauthenticated and heavily rate limited")
		if constants.IsRunningInGitHubActions() {
			logger.Info("pass the job token to the pinwalk step with env GITHUB_TOKEN: ${{ secrets.GITHUB_TOKEN }}")
		}
	}

	var recorder *metrics.Recorder
	if cfg.Output.MetricsFile != "" {
		recorder = metrics.New()
	}
	progress := term.NewFetchProgress(!c.Bool("verbose") && !constants.IsRunningInCI())

	res := resolver.New(fetcher, resolver.Options{
		MaxDepth:     cfg.Scan.MaxDepth,
		Workers:      cfg.Scan.Workers,
		FetchTimeout: cfg.Scan.FetchTimeout,
		WorkDir:      filepath.Join(scanDir, "deps"),
		Trusted:      cfg.IsTrusted,
		Logger:       logger.WithName("resolver"),
		Metrics:      recorder,
		Progress:     progress,
	})
	graph, scanErr := res.Resolve(ctx, files)
	progress.Finish()
	if graph == nil {
		return scanErr
	}

	doc := report.NewDocument(graph, repository, startTime, time.Since(startTime))
	if err := evaluatePolicies(ctx, cfg, doc, logger); err != nil {
		return err
	}

	gen := report.NewGenerator(doc, cfg.Output.Format, c.Bool("verbose"), cfg.Output.File)
	gen.ShowTree = cfg.Output.ShowTree
	if err := gen.Generate(); err != nil {
		return errors.NewReportError("failed to generate report", err, cfg.Output.File)
	}

	if err := recorder.WriteTextfile(cfg.Output.MetricsFile); err != nil {
		logger.Error(err, "failed to write metrics", "path", cfg.Output.MetricsFile)
	}

	fmt.Fprintf(term.Err(), "\n✅ Scan completed in %s\n", time.Since(startTime).Round(time.Millisecond))
	fmt.Fprintf(term.Err(), "Found %d dependencies (%d unpinned, %d unresolved, %d warnings)\n",
		doc.Summary.Dependencies, doc.Summary.Unpinned, doc.Summary.Unresolved, doc.Summary.Warnings)

	// Unpinned dependencies are findings, not failures
	return scanErr
}

// loadConfig reads the configuration file and applies flag overrides
func loadConfig(c *cli.Context) (*config.Config, error) {
	validator := validation.NewValidator()
	if err := validator.ValidateConfig(c.String("config")); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, errors.NewConfigError(constants.ErrConfigLoadFailed, err,
			"Check the configuration file syntax",
			"Create a fresh one with 'pinwalk init-config'")
	}

	if c.IsSet("output") {
		cfg.Output.Format = strings.ToLower(c.String("output"))
	}
	if c.Bool("json") {
		cfg.Output.Format = constants.OutputFormatJSON
	}
	if c.IsSet("output-file") {
		cfg.Output.File = c.String("output-file")
	}
	if c.IsSet("metrics-file") {
		cfg.Output.MetricsFile = c.String("metrics-file")
	}
	if c.IsSet("max-depth") {
		cfg.Scan.MaxDepth = c.Int("max-depth")
	}
	if c.IsSet("workers") {
		cfg.Scan.Workers = c.Int("workers")
	}
	if c.IsSet("fetcher") {
		cfg.Scan.Fetcher = strings.ToLower(c.String("fetcher"))
	}
	if c.IsSet("timeout") {
		cfg.Scan.Timeout = c.Duration("timeout")
	}
	if c.IsSet("fetch-timeout") {
		cfg.Scan.FetchTimeout = c.Duration("fetch-timeout")
	}
	if c.IsSet("work-dir") {
		cfg.Scan.WorkDir = c.String("work-dir")
	} else if c.Args().Len() > 1 {
		cfg.Scan.WorkDir = c.Args().Get(1)
	}
	if c.Bool("keep-checkouts") {
		cfg.Scan.KeepCheckouts = true
	}
	cfg.Policies = append(cfg.Policies, c.StringSlice("policy")...)

	if !contains(constants.SupportedOutputFormats, cfg.Output.Format) {
		return nil, errors.ErrInvalidOutputFormat(cfg.Output.Format, constants.SupportedOutputFormats)
	}
	if !contains(constants.SupportedFetchers, cfg.Scan.Fetcher) {
		return nil, errors.ErrInvalidFetcher(cfg.Scan.Fetcher, constants.SupportedFetchers)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigError("invalid configuration", err)
	}
	if err := validator.ValidateOutputFile(cfg.Output.File); err != nil {
		return nil, err
	}
	if err := validator.ValidateWorkDir(cfg.Scan.WorkDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

// acquireRoots returns a display name for what is scanned and its workflow files
func acquireRoots(ctx context.Context, c *cli.Context, client *github.Client, scanDir string, term *terminal.Terminal) (string, []parser.WorkflowFile, error) {
	repoURL := c.String("url")
	if repoURL == "" && c.Args().Len() > 0 {
		repoURL = c.Args().First()
	}
	repoPath := c.String("repo")
	workflowPaths := c.StringSlice("workflow")
	validator := validation.NewValidator()

	switch {
	case len(workflowPaths) > 0:
		var files []parser.WorkflowFile
		for _, p := range workflowPaths {
			if err := validator.ValidateWorkflowFile(p); err != nil {
				return "", nil, err
			}
			wf, err := parser.LoadSingleWorkflow(p)
			if err != nil {
				return "", nil, errors.NewWorkflowError("failed to load workflow file", err, p)
			}
			files = append(files, wf)
		}
		return strings.Join(workflowPaths, ", "), files, nil

	case repoURL != "":
		if err := validator.ValidateURL(repoURL); err != nil {
			return "", nil, err
		}
		owner, repo, _ := github.ParseRepositoryURL(repoURL)
		fmt.Fprintf(term.Err(), "Cloning repository from %s...\n", repoURL)
		dir, err := client.CloneRepository(ctx, repoURL, filepath.Join(scanDir, "root"))
		if err != nil {
			return "", nil, errors.NewRepositoryError(constants.ErrRepositoryCloneFailed, err, repoURL,
				"Check that the repository exists and that GITHUB_TOKEN can read it")
		}
		files, err := parser.FindWorkflows(dir)
		if err != nil {
			return "", nil, errors.NewWorkflowError("failed to find workflow files", err, dir)
		}
		return owner + "/" + repo, files, nil

	case repoPath != "":
		if err := validator.ValidateRepository(repoPath); err != nil {
			return "", nil, err
		}
		fmt.Fprintf(term.Err(), "Scanning GitHub Actions workflows in %s...\n", repoPath)
		files, err := parser.FindWorkflows(repoPath)
		if err != nil {
			return "", nil, errors.NewWorkflowError("failed to find workflow files", err, repoPath)
		}
		return repoPath, files, nil

	default:
		return "", nil, errors.ErrNoInputSpecified()
	}
}

func evaluatePolicies(ctx context.Context, cfg *config.Config, doc *report.Document, logger logr.Logger) error {
	if len(cfg.Policies) == 0 {
		return nil
	}

	var files []string
	for _, p := range cfg.Policies {
		found, err := policy.LoadPolicyFiles(p)
		if err != nil {
			return errors.NewPolicyError("failed to load policy files", err, p)
		}
		files = append(files, found...)
	}
	logger.V(1).Info("evaluating policies", "files", len(files))

	violations, err := policy.NewEngine(files, logger.WithName("policy")).Evaluate(ctx, doc)
	if err != nil {
		return errors.NewPolicyError("policy evaluation failed", err, strings.Join(files, ", "))
	}
	doc.SetPolicyViolations(violations)
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
