package app

import "github.com/spf13/pflag"

// RegisterFlags registers all CLI flags on the given FlagSet.
// Zero-valued flags leave the configured default in place.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.StringP("transport", "t", "", "Transport type: stdio or sse")
	flags.StringP("host", "H", "", "Host for SSE transport")
	flags.IntP("port", "p", 0, "Port for SSE transport")
	flags.StringP("log-level", "l", "", "Log level: debug, info, warn or error")
	flags.StringP("auth-type", "a", "", "Authentication type: none, basic, or apikey")
	flags.StringP("auth-basic-username", "u", "", "Basic auth username")
	flags.StringP("auth-basic-password", "P", "", "Basic auth password")
	flags.StringSliceP("auth-api-keys", "k", nil, "API keys (comma-separated)")

	flags.Bool("commit-search-enabled", false, "Enable commit indexing and search")
	flags.StringSliceP("commit-search-repositories", "r", nil, "Repositories to index: local paths or SSH URLs (comma-separated)")
	flags.String("commit-search-base-dir", "", "Directory for mirrors, indexes and index status")
	flags.String("commit-search-status-backend", "", "Index status backend: file or sqlite")
	flags.Int("commit-search-workers", 0, "Number of concurrent synchronization workers")
	flags.Int("commit-search-queue-size", 0, "Capacity of the synchronization queue")
	flags.Int("commit-search-max-attempts", 0, "Attempts per synchronization before giving up")
	flags.Duration("commit-search-retry-delay", 0, "Delay between synchronization attempts")
	flags.Duration("commit-search-poll-interval", 0, "Interval between repository polls (0 disables polling)")
	flags.Bool("commit-search-watch", false, "Watch local repositories for ref changes")
	flags.Duration("commit-search-debounce", 0, "Quiet period before a watched change is synchronized")
	flags.Duration("commit-search-instance-timeout", 0, "How long to wait for another instance to release the base directory")
	flags.Int("commit-search-max-results", 0, "Maximum number of search results")
}
