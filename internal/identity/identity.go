package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"

	"agents/sentinel-sensor/internal/logging"
	"agents/sentinel-sensor/internal/storage"
)

// SensorIdentity identifies this sensor to HQ. It never changes after creation.
type SensorIdentity struct {
	ID       string `json:"id"`
	Hostname string `json:"hostname"`
	OSInfo   string `json:"os"`
}

// Manager owns the persistent sensor ID.
type Manager struct {
	store    storage.Store
	name     string
	hostname string
	logger   *slog.Logger

	// osInfo is replaceable in tests.
	osInfo func(ctx context.Context) string

	mu       sync.Mutex
	id       string
	resolved bool
}

// NewManager returns a manager persisting the ID as blob name in store.
func NewManager(store storage.Store, name, hostname string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		store:    store,
		name:     name,
		hostname: hostname,
		logger:   logger.With("component", "identity"),
		osInfo:   DetectOSInfo,
	}
}

// GetOrCreateID returns the persisted sensor ID, generating and storing a new
// one when none is readable. It never fails: if storage is unusable the ID is
// kept in memory for the life of the process.
func (m *Manager) GetOrCreateID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.resolved {
		return m.id
	}

	if id, err := m.load(); err == nil {
		m.id, m.resolved = id, true
		return id
	} else if !errors.Is(err, storage.ErrNotFound) {
		m.logger.Warn("stored sensor id unreadable, generating a new one", "error", err)
	}

	id := uuid.NewString()
	if err := m.store.Save(m.name, []byte(id+"\n")); err != nil {
		m.logger.Warn("could not persist sensor id, using ephemeral id", "id", id, "error", err)
	} else {
		m.logger.Info("generated sensor id", "id", id)
	}
	m.id, m.resolved = id, true
	return id
}

func (m *Manager) load() (string, error) {
	data, err := m.store.Load(m.name)
	if err != nil {
		return "", err
	}
	raw := strings.TrimSpace(string(data))
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid sensor id %q: %w", raw, err)
	}
	return parsed.String(), nil
}

// Identity assembles the full identity reported in heartbeats.
func (m *Manager) Identity(ctx context.Context) SensorIdentity {
	return SensorIdentity{
		ID:       m.GetOrCreateID(),
		Hostname: m.hostname,
		OSInfo:   m.osInfo(ctx),
	}
}

// DetectOSInfo describes the host operating system, e.g. "linux ubuntu 22.04".
func DetectOSInfo(ctx context.Context) string {
	info, err := host.InfoWithContext(ctx)
	if err != nil || info == nil {
		return runtime.GOOS
	}
	parts := []string{info.OS}
	if info.Platform != "" {
		parts = append(parts, info.Platform)
	}
	if info.PlatformVersion != "" {
		parts = append(parts, info.PlatformVersion)
	}
	return strings.Join(parts, " ")
}
