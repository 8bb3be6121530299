/*
Copyright 2025 Hare Krishna Rai

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	stderrors "errors"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/harekrishnarai/pinwalk/pkg/config"
	"github.com/harekrishnarai/pinwalk/pkg/constants"
	"github.com/harekrishnarai/pinwalk/pkg/errors"
	"github.com/harekrishnarai/pinwalk/pkg/policy"
	"github.com/harekrishnarai/pinwalk/pkg/report"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		var pe *errors.PinwalkError
		if stderrors.As(err, &pe) {
			fmt.Fprintln(os.Stderr, pe.UserFriendlyMessage())
		} else {
			fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		}
		os.Exit(1)
	}
}

func newApp() *cli.App {
	// -v is taken by --verbose
	cli.VersionFlag = &cli.BoolFlag{
		Name:    "version",
		Aliases: []string{"V"},
		Usage:   "print the version",
	}

	return &cli.App{
		Name:      constants.AppName,
		Version:   constants.AppVersion,
		Usage:     constants.AppUsage,
		ArgsUsage: "[url] [workdir]",
		Authors: []*cli.Author{
			{
				Name: "Pinwalk Team",
			},
		},
		Flags: scanFlags(),
		Action: func(c *cli.Context) error {
			return scan(c)
		},
		Commands: []*cli.Command{
			{
				Name:      "html",
				Usage:     "Render an HTML report from a JSON report",
				ArgsUsage: "<report.json>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output-file",
						Aliases: []string{"f"},
						Usage:   "Output file path (if not specified, prints to stdout)",
					},
				},
				Action: renderHTML,
			},
			{
				Name:      "init-config",
				Usage:     "Create a default configuration file",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					outputPath := c.Args().First()
					if outputPath == "" {
						outputPath = constants.DefaultConfigFile
					}
					if _, err := os.Stat(outputPath); err == nil {
						return errors.NewConfigError(fmt.Sprintf("configuration file %s already exists", outputPath), nil,
							"Remove the existing file or pass a different path")
					}

					fmt.Printf("Creating default configuration at %s...\n", outputPath)
					if err := config.SaveConfig(config.DefaultConfig(), outputPath); err != nil {
						return errors.NewConfigError("failed to create configuration file", err)
					}
					fmt.Println("Configuration file created successfully!")
					return nil
				},
			},
			{
				Name:      "init-policy",
				Usage:     "Create an example policy file",
				ArgsUsage: "[path]",
				Action: func(c *cli.Context) error {
					outputPath := c.Args().First()
					if outputPath == "" {
						outputPath = "policies/pins.rego"
					}

					fmt.Printf("Creating example policy file at %s...\n", outputPath)
					if err := policy.CreateExamplePolicy(outputPath); err != nil {
						return errors.NewPolicyError("failed to create example policy", err, outputPath)
					}
					fmt.Println("Example policy file created successfully!")
					return nil
				},
			},
		},
	}
}

func scanFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "url",
			Aliases: []string{"u"},
			Usage:   "GitHub repository URL to scan",
		},
		&cli.StringFlag{
			Name:    "repo",
			Aliases: []string{"r"},
			Usage:   "Local repository path to scan",
		},
		&cli.StringSliceFlag{
			Name:    "workflow",
			Aliases: []string{"w"},
			Usage:   "Workflow file to scan (repeatable)",
		},
		&cli.StringFlag{
			Name:    "work-dir",
			Aliases: []string{"temp-dir"},
			Usage:   "Directory that receives checkouts (default: system temp dir)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format (cli, json, html, sarif)",
		},
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Shortcut for --output json",
		},
		&cli.StringFlag{
			Name:    "output-file",
			Aliases: []string{"f"},
			Usage:   "Output file path (if not specified, prints to stdout)",
		},
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Configuration file path (.pinwalk.yml)",
		},
		&cli.StringSliceFlag{
			Name:    "policy",
			Aliases: []string{"p"},
			Usage:   "Rego policy file or directory (repeatable)",
		},
		&cli.IntFlag{
			Name:  "max-depth",
			Usage: "Maximum length of a reference chain below a workflow",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Maximum number of concurrent repository fetches",
		},
		&cli.StringFlag{
			Name:  "fetcher",
			Usage: "Fetch backend (git, api)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Overall scan timeout",
		},
		&cli.DurationFlag{
			Name:  "fetch-timeout",
			Usage: "Timeout for a single repository fetch",
		},
		&cli.StringFlag{
			Name:  "metrics-file",
			Usage: "Write Prometheus metrics in textfile format to this path",
		},
		&cli.BoolFlag{
			Name:  "keep-checkouts",
			Usage: "Keep fetched repositories after the scan",
		},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Verbose logging and report output",
		},
	}
}

// newLogger writes structured logs to stderr so stdout stays machine readable
func newLogger(verbose bool) logr.Logger {
	if verbose {
		stdr.SetVerbosity(2)
	}
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags))
}

func renderHTML(c *cli.Context) error {
	input := c.Args().First()
	if input == "" {
		return errors.NewValidationError("No JSON report specified", "report", nil,
			"Create one with 'pinwalk --json -f report.json'")
	}

	doc, err := report.LoadDocument(input)
	if err != nil {
		return errors.NewReportError("failed to load JSON report", err, input)
	}
	gen := report.NewGenerator(doc, constants.OutputFormatHTML, false, c.String("output-file"))
	if err := gen.Generate(); err != nil {
		return errors.NewReportError("failed to generate HTML report", err, c.String("output-file"))
	}
	return nil
}
