package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Repository defaults
	v.SetDefault("repo.path", ".")
	v.SetDefault("repo.primary_branch", "master")
	v.SetDefault("repo.gc_on_finalize", false)

	// Fetch defaults
	v.SetDefault("fetch.timeout_seconds", 60)
	v.SetDefault("fetch.max_retries", 3)          // Bounded inline retries for transient failures
	v.SetDefault("fetch.requests_per_minute", 60) // Polite crawl rate
	v.SetDefault("fetch.block_private_ips", true) // SSRF guard for crawled URLs

	// Ingestion defaults
	v.SetDefault("ingest.mode", "full")
	v.SetDefault("ingest.auto_finalize", false)
	v.SetDefault("ingest.skip_problematic", false)
	v.SetDefault("ingest.emit_skipped", false)

	// S3 crawl defaults
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.anonymous", false)
	v.SetDefault("s3.strategy", "commit-versions")
	v.SetDefault("s3.max_commits", 0)

	// Logging defaults
	v.SetDefault("log.json", false)
}
