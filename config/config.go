// Package config loads and persists quarry configuration.
//
// Configuration is read from quarry.toml (current directory, then
// ~/.quarry/), with QUARRY_* environment variables taking precedence.
// Components never read ambient state: the loaded Config is threaded
// explicitly into constructors.
package config

import "time"

// Config is the root configuration for a quarry run.
type Config struct {
	Repo   RepoConfig   `mapstructure:"repo" toml:"repo"`
	Fetch  FetchConfig  `mapstructure:"fetch" toml:"fetch"`
	Ingest IngestConfig `mapstructure:"ingest" toml:"ingest"`
	S3     S3Config     `mapstructure:"s3" toml:"s3"`
	Log    LogConfig    `mapstructure:"log" toml:"log"`
}

// RepoConfig describes the target content store.
type RepoConfig struct {
	// Path is the working directory of the content store repository.
	Path string `mapstructure:"path" toml:"path"`
	// PrimaryBranch receives the finalized history (default "master").
	PrimaryBranch string `mapstructure:"primary_branch" toml:"primary_branch"`
	// GCOnFinalize runs store housekeeping after non-trivial finalizes.
	GCOnFinalize bool `mapstructure:"gc_on_finalize" toml:"gc_on_finalize"`
}

// FetchConfig controls the downloader.
type FetchConfig struct {
	TimeoutSeconds    int  `mapstructure:"timeout_seconds" toml:"timeout_seconds"`
	MaxRetries        int  `mapstructure:"max_retries" toml:"max_retries"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" toml:"requests_per_minute"`
	BlockPrivateIPs   bool `mapstructure:"block_private_ips" toml:"block_private_ips"`
}

// Timeout returns the fetch timeout as a duration.
func (f FetchConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutSeconds) * time.Second
}

// IngestConfig controls the ingestion engine.
type IngestConfig struct {
	// Mode is one of "full", "fast", "relaxed".
	Mode string `mapstructure:"mode" toml:"mode"`
	// AutoFinalize commits pending changes when a path conflict would
	// otherwise be fatal.
	AutoFinalize bool `mapstructure:"auto_finalize" toml:"auto_finalize"`
	// SkipProblematic downgrades per-item downloader failures to warnings.
	SkipProblematic bool `mapstructure:"skip_problematic" toml:"skip_problematic"`
	// EmitSkipped re-emits the original record for skipped items instead
	// of dropping it.
	EmitSkipped bool `mapstructure:"emit_skipped" toml:"emit_skipped"`
}

// S3Config controls versioned bucket crawls.
type S3Config struct {
	Region string `mapstructure:"region" toml:"region"`
	// Anonymous uses unsigned requests for public buckets.
	Anonymous bool `mapstructure:"anonymous" toml:"anonymous"`
	// Strategy is "commit-versions" (one commit per logical version) or
	// "naive" (single commit at end of run).
	Strategy string `mapstructure:"strategy" toml:"strategy"`
	// MaxCommits bounds a single crawl; 0 means unbounded.
	MaxCommits int `mapstructure:"max_commits" toml:"max_commits"`
}

// LogConfig controls logger initialization.
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}
