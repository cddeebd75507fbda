// Shared helpers for sfmirror CLI commands.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mesh-intelligence/sfmirror/internal/engine"
	"github.com/mesh-intelligence/sfmirror/internal/salesforce"
	"github.com/mesh-intelligence/sfmirror/internal/sqlite"
)

// openStore resolves the data directory and opens the local store. The caller
// must defer store.Close().
func openStore() (*sqlite.Store, error) {
	dataDir, err := resolveDataDir()
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	store, err := sqlite.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return store, nil
}

// loadState hydrates runtime state (watermarks, entity stats, schedule
// anchors) onto every configured mapping.
func loadState(ctx context.Context, store *sqlite.Store) error {
	for _, m := range cfg.Mappings {
		if err := store.LoadMappingState(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// fetcherSource returns a FetcherSource that builds one authenticated client
// per credential name and reuses it for the life of the command.
func fetcherSource() engine.FetcherSource {
	var mu sync.Mutex
	clients := make(map[string]*salesforce.Client)

	return func(credential string) (engine.Fetcher, error) {
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[credential]; ok {
			return c, nil
		}
		cred, err := cfg.Credential(credential)
		if err != nil {
			return nil, err
		}
		c := salesforce.NewClient(cred, nil)
		clients[credential] = c
		return c, nil
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}
