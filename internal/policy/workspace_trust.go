package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TrustLevel is the degree of autonomy granted to a workspace.
type TrustLevel int

const (
	// TrustFullAuto permits tool execution without per-call prompting.
	TrustFullAuto TrustLevel = iota
	// TrustToolsPolicy requires every tool call to pass the allow/deny and
	// capability checks, prompting on PromptOnce/PromptAlways outcomes.
	TrustToolsPolicy
)

func (t TrustLevel) String() string {
	switch t {
	case TrustFullAuto:
		return "full_auto"
	case TrustToolsPolicy:
		return "tools_policy"
	default:
		return fmt.Sprintf("TrustLevel(%d)", int(t))
	}
}

// TrustRecord is a persisted trust decision for one workspace.
type TrustRecord struct {
	Level     TrustLevel `json:"level"`
	TrustedAt int64      `json:"trusted_at"`
}

// trustStore is the on-disk dotfile shape, keyed by canonicalized workspace path.
type trustStore struct {
	Entries map[string]TrustRecord `json:"entries"`
}

// GateResult is the outcome of ensuring a workspace is trusted.
type GateResult struct {
	Level TrustLevel
}

// SyncOutcome describes what happened when explicitly syncing a workspace to
// a desired trust level.
type SyncOutcome int

const (
	SyncAlreadyMatches SyncOutcome = iota
	SyncUpgraded
	SyncSkippedDowngrade
)

// WorkspaceTrust manages the persisted per-workspace trust dotfile.
// It is safe for concurrent use.
type WorkspaceTrust struct {
	mu       sync.Mutex
	filePath string
	logger   *zap.Logger
}

// NewWorkspaceTrust builds a WorkspaceTrust backed by the given dotfile path
// (typically <VTCodeDir>/workspace_trust.json).
func NewWorkspaceTrust(filePath string, logger *zap.Logger) *WorkspaceTrust {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkspaceTrust{filePath: filePath, logger: logger}
}

// EnsureTrust canonicalizes workspace, looks up an existing trust record,
// and if absent, marks the workspace FullAuto and persists the decision.
// Canonicalization failures fall back to the raw path with a warning.
func (w *WorkspaceTrust) EnsureTrust(workspace string) (GateResult, error) {
	key := w.canonicalize(workspace)

	store, err := w.load()
	if err != nil {
		return GateResult{}, err
	}
	if rec, ok := store.Entries[key]; ok {
		return GateResult{Level: rec.Level}, nil
	}

	if err := w.persist(key, TrustFullAuto); err != nil {
		return GateResult{}, err
	}
	return GateResult{Level: TrustFullAuto}, nil
}

// Level returns the trust level recorded for workspace, if any.
func (w *WorkspaceTrust) Level(workspace string) (TrustLevel, bool, error) {
	key := w.canonicalize(workspace)
	store, err := w.load()
	if err != nil {
		return 0, false, err
	}
	rec, ok := store.Entries[key]
	return rec.Level, ok, nil
}

// SyncLevel explicitly sets a desired trust level for workspace, refusing to
// silently downgrade FullAuto to ToolsPolicy (that requires an explicit
// upgrade call in the other direction, never an implicit one).
func (w *WorkspaceTrust) SyncLevel(workspace string, desired TrustLevel) (SyncOutcome, error) {
	key := w.canonicalize(workspace)

	w.mu.Lock()
	defer w.mu.Unlock()

	store, err := w.loadLocked()
	if err != nil {
		return 0, err
	}
	if rec, ok := store.Entries[key]; ok {
		if rec.Level == desired {
			return SyncAlreadyMatches, nil
		}
		if rec.Level == TrustFullAuto && desired == TrustToolsPolicy {
			return SyncSkippedDowngrade, nil
		}
	}

	store.Entries[key] = TrustRecord{Level: desired, TrustedAt: time.Now().Unix()}
	if err := w.writeLocked(store); err != nil {
		return 0, err
	}
	return SyncUpgraded, nil
}

func (w *WorkspaceTrust) persist(key string, level TrustLevel) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	store, err := w.loadLocked()
	if err != nil {
		return err
	}
	store.Entries[key] = TrustRecord{Level: level, TrustedAt: time.Now().Unix()}
	return w.writeLocked(store)
}

func (w *WorkspaceTrust) load() (trustStore, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.loadLocked()
}

func (w *WorkspaceTrust) loadLocked() (trustStore, error) {
	store := trustStore{Entries: make(map[string]TrustRecord)}
	data, err := os.ReadFile(w.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return store, fmt.Errorf("reading workspace trust file: %w", err)
	}
	if len(data) == 0 {
		return store, nil
	}
	if err := json.Unmarshal(data, &store); err != nil {
		return store, fmt.Errorf("parsing workspace trust file: %w", err)
	}
	if store.Entries == nil {
		store.Entries = make(map[string]TrustRecord)
	}
	return store, nil
}

func (w *WorkspaceTrust) writeLocked(store trustStore) error {
	if err := os.MkdirAll(filepath.Dir(w.filePath), 0700); err != nil {
		return fmt.Errorf("creating workspace trust dir: %w", err)
	}
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding workspace trust file: %w", err)
	}
	tmp := w.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing workspace trust file: %w", err)
	}
	return os.Rename(tmp, w.filePath)
}

func (w *WorkspaceTrust) canonicalize(workspace string) string {
	canonical, err := filepath.Abs(workspace)
	if err != nil {
		w.logger.Warn("failed to canonicalize workspace path; using raw path as key",
			zap.String("workspace", workspace), zap.Error(err))
		return workspace
	}
	resolved, err := filepath.EvalSymlinks(canonical)
	if err != nil {
		w.logger.Warn("failed to resolve workspace symlinks; using absolute path as key",
			zap.String("workspace", canonical), zap.Error(err))
		return canonical
	}
	return resolved
}
