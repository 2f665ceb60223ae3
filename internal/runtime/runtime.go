package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/rvrun/rvrun/internal/config"
	"github.com/rvrun/rvrun/internal/types"
	"github.com/sirupsen/logrus"
)

// Manager holds the interpreters the service can run
type Manager struct {
	config   *config.Config
	runtimes []types.Runtime
	mutex    sync.RWMutex
	logger   *logrus.Entry
}

// NewManager creates a new runtime manager
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		config: cfg,
		logger: logrus.WithField("component", "runtime"),
	}
}

// LoadInterpreters loads every configured interpreter, replacing any previously loaded set
func (m *Manager) LoadInterpreters() error {
	loaded := make([]types.Runtime, 0, len(m.config.Interpreters))
	for _, interp := range m.config.Interpreters {
		rt, err := m.loadInterpreter(interp)
		if err != nil {
			return fmt.Errorf("failed to load interpreter %s: %w", interp.Name, err)
		}
		loaded = append(loaded, rt)
	}

	m.mutex.Lock()
	m.runtimes = loaded
	m.mutex.Unlock()

	m.logger.Infof("Loaded %d interpreters", len(loaded))
	return nil
}

// loadInterpreter converts one configured interpreter into a runtime
func (m *Manager) loadInterpreter(interp config.Interpreter) (types.Runtime, error) {
	versionString := interp.Version
	if versionString == "" {
		versionString = "0.0.0"
	}

	version, err := semver.NewVersion(versionString)
	if err != nil {
		return types.Runtime{}, fmt.Errorf("failed to parse version %s: %w", interp.Version, err)
	}

	path, err := filepath.Abs(m.config.ResolveInterpreterPath(interp.Path))
	if err != nil {
		return types.Runtime{}, fmt.Errorf("failed to resolve path %s: %w", interp.Path, err)
	}

	// A missing binary is not fatal here; it may be built later
	if info, err := os.Stat(path); err != nil {
		m.logger.WithError(err).Warnf("Interpreter %s-%s not found at %s", interp.Name, version, path)
	} else if info.Mode()&0111 == 0 {
		m.logger.Warnf("Interpreter %s-%s at %s is not executable", interp.Name, version, path)
	}

	m.logger.Debugf("Loaded interpreter %s-%s", interp.Name, version)
	return types.Runtime{
		Name:    interp.Name,
		Version: version,
		Path:    path,
		Args:    interp.Args,
		Aliases: interp.Aliases,
	}, nil
}

// GetRuntimes returns all loaded runtimes, newest version first
func (m *Manager) GetRuntimes() []types.Runtime {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	result := make([]types.Runtime, len(m.runtimes))
	copy(result, m.runtimes)
	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Version.GreaterThan(result[j].Version)
	})
	return result
}

// Resolve finds the latest runtime whose version satisfies the constraint.
// An empty constraint matches any version.
func (m *Manager) Resolve(version string) (*types.Runtime, error) {
	if version == "" {
		version = "*"
	}

	constraint, err := semver.NewConstraint(version)
	if err != nil {
		return nil, fmt.Errorf("invalid version constraint: %w", err)
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var latest *types.Runtime
	for i := range m.runtimes {
		rt := m.runtimes[i]
		if !constraint.Check(rt.Version) {
			continue
		}
		if latest == nil || rt.Version.GreaterThan(latest.Version) {
			latest = &rt
		}
	}

	if latest == nil {
		return nil, fmt.Errorf("no interpreter found for version %s", version)
	}

	return latest, nil
}
