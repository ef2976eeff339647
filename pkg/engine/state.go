package engine

import (
	"fmt"
	"sync"
)

// Phase is the orchestrator's position in a run.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseInitializing   Phase = "initializing"
	PhaseFetching       Phase = "syncing.fetching"
	PhaseReconciling    Phase = "syncing.reconciling"
	PhaseLinking        Phase = "syncing.linking"
	PhaseComplete       Phase = "complete"
	PhaseFailed         Phase = "failed"
	PhaseSecretsSaved   Phase = "secretsSaved"
	PhaseSecretsError   Phase = "secretsError"
	PhaseSecretsCleared Phase = "secretsCleared"
)

// IsSyncing reports whether the phase belongs to an active sync.
func (p Phase) IsSyncing() bool {
	switch p {
	case PhaseInitializing, PhaseFetching, PhaseReconciling, PhaseLinking:
		return true
	}
	return false
}

// IsTerminal reports whether the phase ends a run or a credential flow.
func (p Phase) IsTerminal() bool {
	return !p.IsSyncing()
}

// restTargets are reachable from every phase in which no run is active.
var restTargets = []Phase{PhaseIdle, PhaseInitializing, PhaseSecretsSaved, PhaseSecretsError, PhaseSecretsCleared}

// transitions lists the legal next phases. Fail is handled separately since a
// run may abort from any syncing phase.
var transitions = map[Phase][]Phase{
	PhaseIdle:           restTargets,
	PhaseComplete:       restTargets,
	PhaseFailed:         restTargets,
	PhaseSecretsSaved:   restTargets,
	PhaseSecretsError:   restTargets,
	PhaseSecretsCleared: restTargets,
	PhaseInitializing:   {PhaseFetching},
	PhaseFetching:       {PhaseReconciling},
	PhaseReconciling:    {PhaseLinking},
	PhaseLinking:        {PhaseComplete},
}

// syncOrder is the linear path of a run.
var syncOrder = []Phase{PhaseInitializing, PhaseFetching, PhaseReconciling, PhaseLinking, PhaseComplete}

func canTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// SyncState is the snapshot delivered to the observer on every change.
type SyncState struct {
	Phase    Phase  `json:"phase"`
	Ready    bool   `json:"ready"`
	ShopName string `json:"shopName,omitempty"`
	Error    string `json:"error,omitempty"`
	RunID    string `json:"runId,omitempty"`

	Fetched  int `json:"fetched"`
	Synced   int `json:"synced"`
	Linked   int `json:"linked"`
	Archived int `json:"archived"`

	LastFetched   []SourceItem    `json:"lastFetched,omitempty"`
	LastOperation *SyncOperation  `json:"lastOperation,omitempty"`
	LastLink      *LinkOperation  `json:"lastLink,omitempty"`
	LastArchived  *TargetDocument `json:"lastArchived,omitempty"`
}

// StateMachine tracks the phase of one orchestrator and notifies its observer.
// Each orchestrator owns its own machine.
type StateMachine struct {
	mu       sync.Mutex
	state    SyncState
	observer Observer
}

// NewStateMachine creates a machine in the idle phase. A nil observer is allowed.
func NewStateMachine(observer Observer) *StateMachine {
	return &StateMachine{
		state:    SyncState{Phase: PhaseIdle},
		observer: observer,
	}
}

// State returns the current snapshot.
func (m *StateMachine) State() SyncState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Init records credential readiness and emits idle.
func (m *StateMachine) Init(ready bool, shopName string) error {
	return m.apply(func(s *SyncState) ([]SyncState, error) {
		if err := s.moveTo(PhaseIdle); err != nil {
			return nil, err
		}
		s.Ready = ready
		s.ShopName = shopName
		s.Error = ""
		return []SyncState{*s}, nil
	})
}

// StartSync begins a run, emitting initializing then syncing.fetching.
func (m *StateMachine) StartSync(runID string) error {
	return m.apply(func(s *SyncState) ([]SyncState, error) {
		if s.Phase.IsSyncing() {
			return nil, invalidTransition(s.Phase, PhaseInitializing)
		}
		if err := s.moveTo(PhaseInitializing); err != nil {
			return nil, err
		}
		*s = SyncState{Phase: PhaseInitializing, Ready: s.Ready, ShopName: s.ShopName, RunID: runID}
		emitted := []SyncState{*s}
		next, err := s.advance(PhaseFetching)
		if err != nil {
			return nil, err
		}
		return append(emitted, next...), nil
	})
}

// DocumentsFetched reports a page of fetched source items.
func (m *StateMachine) DocumentsFetched(page []SourceItem) error {
	return m.progress(func(s *SyncState) {
		s.Fetched += len(page)
		s.LastFetched = page
	})
}

// FetchComplete moves the run to syncing.reconciling.
func (m *StateMachine) FetchComplete() error {
	return m.apply(func(s *SyncState) ([]SyncState, error) {
		return s.advance(PhaseReconciling)
	})
}

// DocumentSynced reports one reconciled item.
func (m *StateMachine) DocumentSynced(op SyncOperation) error {
	return m.apply(func(s *SyncState) ([]SyncState, error) {
		emitted, err := s.advance(PhaseReconciling)
		if err != nil {
			return nil, err
		}
		s.Synced++
		s.LastOperation = &op
		return append(emitted, *s), nil
	})
}

// DocumentLinked reports one linked document.
func (m *StateMachine) DocumentLinked(link LinkOperation) error {
	return m.apply(func(s *SyncState) ([]SyncState, error) {
		emitted, err := s.advance(PhaseLinking)
		if err != nil {
			return nil, err
		}
		s.Linked++
		s.LastLink = &link
		return append(emitted, *s), nil
	})
}

// DocumentArchived reports one archived document.
func (m *StateMachine) DocumentArchived(doc TargetDocument) error {
	return m.progress(func(s *SyncState) {
		s.Archived++
		s.LastArchived = &doc
	})
}

// Complete finishes the run, walking any phases not yet entered.
func (m *StateMachine) Complete() error {
	return m.apply(func(s *SyncState) ([]SyncState, error) {
		return s.advance(PhaseComplete)
	})
}

// Fail ends the run with err.
func (m *StateMachine) Fail(err error) error {
	return m.apply(func(s *SyncState) ([]SyncState, error) {
		if !s.Phase.IsSyncing() {
			return nil, invalidTransition(s.Phase, PhaseFailed)
		}
		s.Phase = PhaseFailed
		if err != nil {
			s.Error = err.Error()
		}
		return []SyncState{*s}, nil
	})
}

// SecretsSaved records stored credentials for shopName.
func (m *StateMachine) SecretsSaved(shopName string) error {
	return m.secrets(PhaseSecretsSaved, func(s *SyncState) {
		s.Ready = true
		s.ShopName = shopName
		s.Error = ""
	})
}

// SecretsError records rejected credentials.
func (m *StateMachine) SecretsError(message string) error {
	return m.secrets(PhaseSecretsError, func(s *SyncState) {
		s.Error = message
	})
}

// SecretsCleared records removed credentials.
func (m *StateMachine) SecretsCleared() error {
	return m.secrets(PhaseSecretsCleared, func(s *SyncState) {
		s.Ready = false
		s.ShopName = ""
		s.Error = ""
	})
}

func (m *StateMachine) secrets(target Phase, mutate func(*SyncState)) error {
	return m.apply(func(s *SyncState) ([]SyncState, error) {
		if err := s.moveTo(target); err != nil {
			return nil, err
		}
		mutate(s)
		return []SyncState{*s}, nil
	})
}

// progress emits a snapshot in the current syncing phase.
func (m *StateMachine) progress(mutate func(*SyncState)) error {
	return m.apply(func(s *SyncState) ([]SyncState, error) {
		if !s.Phase.IsSyncing() {
			return nil, fmt.Errorf("progress outside a run: %w", invalidTransition(s.Phase, s.Phase))
		}
		mutate(s)
		return []SyncState{*s}, nil
	})
}

// apply mutates the state under the lock and notifies the observer afterwards,
// so an observer may read State without deadlocking.
func (m *StateMachine) apply(fn func(*SyncState) ([]SyncState, error)) error {
	m.mu.Lock()
	next := m.state
	emitted, err := fn(&next)
	if err == nil {
		m.state = next
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if m.observer != nil {
		for _, snapshot := range emitted {
			m.observer(snapshot)
		}
	}
	return nil
}

// moveTo performs a single checked transition.
func (s *SyncState) moveTo(target Phase) error {
	if !canTransition(s.Phase, target) {
		return invalidTransition(s.Phase, target)
	}
	s.Phase = target
	return nil
}

// advance walks the run path forward up to target, emitting each phase
// entered. Advancing to the current phase emits nothing; moving backwards or
// outside a run is an error.
func (s *SyncState) advance(target Phase) ([]SyncState, error) {
	if s.Phase == target {
		return nil, nil
	}
	if !s.Phase.IsSyncing() || runIndex(target) <= runIndex(s.Phase) {
		return nil, invalidTransition(s.Phase, target)
	}
	var emitted []SyncState
	for s.Phase != target {
		next, ok := nextInRun(s.Phase)
		if !ok || !canTransition(s.Phase, next) {
			return nil, invalidTransition(s.Phase, target)
		}
		s.Phase = next
		emitted = append(emitted, *s)
	}
	return emitted, nil
}

func nextInRun(p Phase) (Phase, bool) {
	i := runIndex(p)
	if i < 0 || i == len(syncOrder)-1 {
		return "", false
	}
	return syncOrder[i+1], true
}

func runIndex(p Phase) int {
	for i, phase := range syncOrder {
		if phase == p {
			return i
		}
	}
	return -1
}

func invalidTransition(from, to Phase) error {
	return classified(ErrorClassProgrammer, fmt.Sprintf("cannot move from %s to %s", from, to), nil).
		WithCode(ErrCodeInvalidTransition).
		WithOperation("transition")
}
