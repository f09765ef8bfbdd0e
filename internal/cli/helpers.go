package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/strata-io/strata/internal/config"
	"github.com/strata-io/strata/internal/ir"
	"github.com/strata-io/strata/internal/provider"
	"github.com/strata-io/strata/internal/state"
	"github.com/strata-io/strata/providers/aws"
	"github.com/strata-io/strata/providers/memory"
)

// workspace bundles everything a command needs: parsed configuration,
// an open state store, the provider registry, and the advisory lock.
type workspace struct {
	cfg      *ir.ConfigSet
	store    state.Store
	registry *provider.Registry
	lock     *state.Lock
	stateDir string
}

// openWorkspace loads configuration, opens the selected backend, and
// takes the workspace lock. Callers must defer ws.close().
func openWorkspace(ctx context.Context) (*workspace, error) {
	cfg, err := config.LoadDir(flagConfigDir)
	if err != nil {
		return nil, err
	}

	stateDir := resolvedStateDir()
	store, err := openStore(ctx, stateDir)
	if err != nil {
		return nil, err
	}

	lock := state.NewLock(stateDir)
	if err := lock.Acquire(); err != nil {
		store.Close()
		return nil, err
	}

	registry := provider.NewRegistry()
	registry.Register("aws", func() provider.Interface { return aws.New() })
	registry.Register("memory", func() provider.Interface { return memory.New() })

	return &workspace{
		cfg:      cfg,
		store:    store,
		registry: registry,
		lock:     lock,
		stateDir: stateDir,
	}, nil
}

// resolvedStateDir anchors a relative --state-dir at the config dir.
func resolvedStateDir() string {
	if filepath.IsAbs(flagStateDir) {
		return flagStateDir
	}
	return filepath.Join(flagConfigDir, flagStateDir)
}

func (ws *workspace) close() {
	ws.lock.Release()
	ws.store.Close()
}

func openStore(ctx context.Context, stateDir string) (state.Store, error) {
	switch flagBackend {
	case "local":
		return state.NewLocalStore(filepath.Join(stateDir, "state"))
	case "sqlite":
		return state.NewSQLiteStore(ctx, filepath.Join(stateDir, "state.db"))
	case "s3":
		if flagS3Bucket == "" {
			return nil, fmt.Errorf("the s3 backend requires --s3-bucket")
		}
		return state.NewS3Store(ctx, state.S3Config{
			Bucket: flagS3Bucket,
			Prefix: flagS3Prefix,
			Region: flagS3Region,
		})
	case "memory":
		return state.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", flagBackend)
	}
}

// confirm prompts for a yes before a mutating run.
func confirm(prompt string) bool {
	fmt.Printf("%s Only 'yes' is accepted: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}

// saveOutputs persists resolved outputs next to the state so `strata
// output` works without re-resolving.
func saveOutputs(stateDir string, outputs map[string]any) error {
	if len(outputs) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(outputs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(stateDir, "outputs.json"), append(data, '\n'), 0644)
}

func loadOutputs(stateDir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, "outputs.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no outputs recorded; run apply first")
		}
		return nil, err
	}
	var outputs map[string]any
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, err
	}
	return outputs, nil
}
