package main

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-images/app"
	"github.com/aluiziolira/go-scrape-images/config"
	"github.com/aluiziolira/go-scrape-images/models"
	"github.com/aluiziolira/go-scrape-images/pipeline"
)

// Dependencies holds all services and configuration for command execution.
type Dependencies struct {
	Ctx    context.Context
	Stdout io.Writer
	Stderr io.Writer
	Config *config.Config
	App    *app.App
}

// CLI defines the command-line interface structure for Kong.
type CLI struct {
	Config       string        `short:"c" type:"path" env:"HARVESTER_CONFIG" help:"YAML configuration file"`
	Verbose      bool          `short:"v" help:"Enable debug logging"`
	MetricsAddr  string        `name:"metrics-addr" help:"Prometheus metrics listen address (e.g. :9090)"`
	Parallel     int           `short:"p" help:"Concurrent page fetches (1 = sequential)"`
	MaxDownloads int           `name:"max-downloads" help:"Concurrent downloads (0 = one per image)"`
	Timeout      time.Duration `help:"Per-request timeout"`
	UserAgent    []string      `name:"user-agent" help:"User-Agent pool entry (repeatable)"`
	Enhance      bool          `help:"Re-save downloaded JPEG/PNG images after download"`
	Scale        int           `help:"Integer upscale factor used with --enhance"`

	Scrape   ScrapeCmd   `cmd:"" help:"Scrape pages and list the image URLs they reference"`
	Download DownloadCmd `cmd:"" help:"Download image URLs into a directory"`
	Run      RunCmd      `cmd:"" help:"Scrape pages and download every image found"`
}

// apply overlays flags that were set onto cfg.
func (c *CLI) apply(cfg *config.Config) {
	if c.Verbose {
		cfg.Verbose = true
	}
	if c.MetricsAddr != "" {
		cfg.MetricsAddr = c.MetricsAddr
	}
	if c.Parallel != 0 {
		cfg.Parallelism = c.Parallel
	}
	if c.MaxDownloads != 0 {
		cfg.MaxConcurrentDownloads = c.MaxDownloads
	}
	if c.Timeout != 0 {
		cfg.Timeout = c.Timeout
	}
	if len(c.UserAgent) > 0 {
		cfg.UserAgents = c.UserAgent
	}
	if c.Enhance {
		cfg.Enhance = true
	}
	if c.Scale != 0 {
		cfg.EnhanceScale = c.Scale
	}
}

// ScrapeCmd is the "scrape" subcommand.
type ScrapeCmd struct {
	Seeds  []string `arg:"" optional:"" help:"Page URLs to scan (defaults to seeds from the config file)"`
	Output string   `short:"o" help:"Write candidates to this file instead of stdout"`
	Format string   `short:"f" help:"Output format: csv, json or dual"`
}

// DownloadCmd is the "download" subcommand.
type DownloadCmd struct {
	URLs  []string `arg:"" optional:"" help:"Image URLs to download"`
	Input string   `short:"i" type:"existingfile" help:"Candidate file written by 'scrape --output'"`
	Dest  string   `short:"d" help:"Destination directory"`
}

// RunCmd is the "run" subcommand.
type RunCmd struct {
	Seeds  []string `arg:"" optional:"" help:"Page URLs to scan"`
	Dest   string   `short:"d" help:"Destination directory"`
	Match  string   `short:"m" help:"Only download URLs matching this regular expression"`
	Output string   `short:"o" help:"Also write candidates to this file"`
}

// Run executes the scrape command.
func (c *ScrapeCmd) Run(deps *Dependencies) error {
	if c.Output != "" {
		deps.Config.OutputFile = c.Output
	}
	if c.Format != "" {
		deps.Config.OutputFormat = strings.ToLower(c.Format)
	}

	result, err := scrape(deps, c.Seeds)
	if err != nil {
		return err
	}

	if deps.Config.OutputFile == "" {
		for _, u := range result.URLs() {
			fmt.Fprintln(deps.Stdout, u)
		}
		printScrapeSummary(deps.Stderr, result, nil, "")
		return nil
	}

	stats, err := exportCandidates(deps.Config, result.Candidates)
	if err != nil {
		return err
	}
	printScrapeSummary(deps.Stdout, result, stats, deps.Config.OutputFile)
	return nil
}

// Run executes the download command.
func (c *DownloadCmd) Run(deps *Dependencies) error {
	urls := append([]string(nil), c.URLs...)
	if c.Input != "" {
		fromFile, err := pipeline.ReadCandidateURLs(c.Input)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}
	return download(deps, urls, c.Dest)
}

// Run executes the run command.
func (c *RunCmd) Run(deps *Dependencies) error {
	var match *regexp.Regexp
	if c.Match != "" {
		re, err := regexp.Compile(c.Match)
		if err != nil {
			return fmt.Errorf("invalid --match: %w", err)
		}
		match = re
	}

	result, err := scrape(deps, c.Seeds)
	if err != nil {
		return err
	}

	if c.Output != "" {
		deps.Config.OutputFile = c.Output
		if _, err := exportCandidates(deps.Config, result.Candidates); err != nil {
			return err
		}
	}
	printScrapeSummary(deps.Stderr, result, nil, c.Output)

	urls := result.URLs()
	if match != nil {
		filtered := urls[:0]
		for _, u := range urls {
			if match.MatchString(u) {
				filtered = append(filtered, u)
			}
		}
		urls = filtered
	}
	return download(deps, urls, c.Dest)
}

func scrape(deps *Dependencies, seeds []string) (*models.ScrapeResult, error) {
	if len(seeds) == 0 {
		seeds = deps.Config.Seeds
	}
	session, err := deps.App.StartScrape(deps.Ctx, seeds)
	if err != nil {
		return nil, err
	}
	return session.Wait(), nil
}

func download(deps *Dependencies, urls []string, dest string) error {
	if dest == "" {
		dest = deps.Config.DestinationDir
	}
	batch, err := deps.App.StartDownload(deps.Ctx, urls, dest)
	if err != nil {
		return err
	}
	report := batch.Wait()
	printDownloadSummary(deps.Stdout, report, dest)
	if report.Saved == 0 && report.Failed > 0 {
		return fmt.Errorf("all %d downloads failed", report.Failed)
	}
	return nil
}
