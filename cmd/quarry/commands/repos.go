package commands

import (
	"github.com/meridian-data/quarry/logger"
	"github.com/meridian-data/quarry/store"
)

// repos caches open store handles for the process, so commands that
// touch the same repository share one handle.
var repos = store.NewRegistry()

// openStore returns the store at path from the shared registry,
// initializing it on first use when create is set.
func openStore(path string, create bool) (*store.Repo, error) {
	return repos.Get(path, create, logger.Logger)
}
