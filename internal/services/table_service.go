package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"finai/internal/cache"
	"finai/internal/core"
	"finai/internal/dashboard"
	applog "finai/internal/log"
	"finai/internal/ports"
	"finai/internal/table"
)

// Sync states reported with every table.
const (
	SyncStatusSynced   = "synced"
	SyncStatusUnsynced = "unsynced"
)

// SyncState tells whether the local snapshot of a table matches storage.
type SyncState struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func synced() SyncState { return SyncState{Status: SyncStatusSynced} }

func unsynced(err error) SyncState {
	return SyncState{Status: SyncStatusUnsynced, Error: err.Error()}
}

// TableState is a table as held in an owner's session.
type TableState struct {
	Table    core.Table `json:"table"`
	ReadOnly bool       `json:"readOnly"`
	Sync     SyncState  `json:"sync"`
}

// DeleteResult reports the outcome of a table deletion. The table is gone
// from the session either way; Sync is unsynced when storage still has it.
type DeleteResult struct {
	TableID string    `json:"tableId"`
	Sync    SyncState `json:"sync"`
}

// CreateInput describes an explicitly created table.
type CreateInput struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	ThemeColor  string             `json:"themeColor"`
	Columns     []table.ColumnSpec `json:"columns"`
}

// workspace is the session state of one owner. Every mutation holds mu for
// the whole apply-then-persist sequence, so an owner has a single writer.
type workspace struct {
	mu             sync.Mutex
	loaded         bool
	tables         []core.Table
	sync           map[string]SyncState
	readOnly       map[string]bool
	pendingDeletes map[string]string
	// gen counts changes to the table collection; cached summaries are
	// only stored for the generation they were computed from.
	gen uint64
}

func newWorkspace() *workspace {
	return &workspace{
		sync:           map[string]SyncState{},
		readOnly:       map[string]bool{},
		pendingDeletes: map[string]string{},
	}
}

func (w *workspace) index(id string) int {
	for i, t := range w.tables {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func (w *workspace) state(t core.Table) TableState {
	s, ok := w.sync[t.ID]
	if !ok {
		s = synced()
	}
	return TableState{Table: t.Clone(), ReadOnly: w.readOnly[t.ID], Sync: s}
}

// TableService keeps each owner's tables in memory, applies engine
// operations to them and persists every resulting snapshot.
type TableService struct {
	store       ports.TableStore
	provisioner ports.Provisioner
	engine      *table.Engine
	logger      *applog.Logger
	events      *applog.StructuredLogger

	mu         sync.Mutex
	workspaces map[string]*workspace

	summaries *cache.LRUCache[dashboard.Summary]
	flight    singleflight.Group
	compute   func([]core.Table) dashboard.Summary
}

// TableServiceConfig holds the optional collaborators of a TableService.
type TableServiceConfig struct {
	// Provisioner is nil when the store needs no setup.
	Provisioner ports.Provisioner
	Engine      *table.Engine
	Logger      *applog.Logger
	// DashboardCacheTTL of zero disables summary caching.
	DashboardCacheTTL time.Duration
	// DashboardCacheSize bounds the number of cached owner summaries.
	DashboardCacheSize int
}

func NewTableService(store ports.TableStore, cfg TableServiceConfig) *TableService {
	if cfg.Engine == nil {
		cfg.Engine = table.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = applog.New(applog.DefaultConfig())
	}
	if cfg.DashboardCacheSize <= 0 {
		cfg.DashboardCacheSize = 256
	}
	logger := cfg.Logger.WithComponent(applog.ComponentTable)
	s := &TableService{
		store:       store,
		provisioner: cfg.Provisioner,
		engine:      cfg.Engine,
		logger:      logger,
		events:      applog.NewStructuredLogger(logger),
		workspaces:  map[string]*workspace{},
		compute:     dashboard.Compute,
	}
	if cfg.DashboardCacheTTL > 0 {
		s.summaries = cache.NewLRUCache[dashboard.Summary](cfg.DashboardCacheSize, cfg.DashboardCacheTTL)
	}
	return s
}

// SummaryCache exposes the dashboard cache for registration with a
// cache.Manager. It is nil when caching is disabled.
func (s *TableService) SummaryCache() *cache.LRUCache[dashboard.Summary] {
	return s.summaries
}

func (s *TableService) workspace(ownerID string) *workspace {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workspaces[ownerID]
	if !ok {
		w = newWorkspace()
		s.workspaces[ownerID] = w
	}
	return w
}

// Load replaces the owner's session with what storage holds. Unsynced flags
// and read-only marks are dropped; queued deletions are kept and their
// tables stay hidden.
func (s *TableService) Load(ctx context.Context, ownerID string) error {
	w := s.workspace(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	return s.load(ctx, w, ownerID)
}

func (s *TableService) load(ctx context.Context, w *workspace, ownerID string) error {
	tables, err := s.store.List(ctx, ownerID)
	if err != nil {
		w.loaded = false
		return fmt.Errorf("load tables: %w", err)
	}
	kept := make([]core.Table, 0, len(tables))
	for _, t := range tables {
		if _, gone := w.pendingDeletes[t.ID]; gone {
			continue
		}
		kept = append(kept, s.engine.Normalize(t))
	}
	w.tables = kept
	w.sync = map[string]SyncState{}
	w.readOnly = map[string]bool{}
	w.loaded = true
	s.invalidate(w, ownerID)

	s.logger.DebugContext(ctx, "Loaded tables",
		applog.FieldOwnerID, ownerID,
		applog.FieldRowCount, len(kept))
	return nil
}

func (s *TableService) ensureLoaded(ctx context.Context, w *workspace, ownerID string) error {
	if w.loaded {
		return nil
	}
	return s.load(ctx, w, ownerID)
}

// List returns the owner's tables, newest first.
func (s *TableService) List(ctx context.Context, ownerID string) ([]TableState, error) {
	w := s.workspace(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := s.ensureLoaded(ctx, w, ownerID); err != nil {
		return nil, err
	}
	out := make([]TableState, len(w.tables))
	for i, t := range w.tables {
		out[i] = w.state(t)
	}
	return out, nil
}

func (s *TableService) Get(ctx context.Context, ownerID, tableID string) (TableState, error) {
	w := s.workspace(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := s.ensureLoaded(ctx, w, ownerID); err != nil {
		return TableState{}, err
	}
	i := w.index(tableID)
	if i < 0 {
		return TableState{}, fmt.Errorf("table %s: %w", tableID, core.ErrNotFound)
	}
	return w.state(w.tables[i]), nil
}

// TableView is a filtered view of a table with its session flags.
type TableView struct {
	table.View
	ReadOnly bool      `json:"readOnly"`
	Sync     SyncState `json:"sync"`
}

// View filters the table by query and computes the totals of the matching
// rows.
func (s *TableService) View(ctx context.Context, ownerID, tableID, query string) (TableView, error) {
	st, err := s.Get(ctx, ownerID, tableID)
	if err != nil {
		return TableView{}, err
	}
	return TableView{
		View:     table.BuildView(st.Table, query),
		ReadOnly: st.ReadOnly,
		Sync:     st.Sync,
	}, nil
}

func (s *TableService) Create(ctx context.Context, ownerID string, in CreateInput) (TableState, error) {
	t, err := s.engine.NewTable(in.Name, in.Description, in.ThemeColor, in.Columns)
	if err != nil {
		return TableState{}, fmt.Errorf("create table: %w", err)
	}
	return s.insert(ctx, ownerID, applog.OpCreate, t)
}

// CreateFromDraft assigns identities to an accepted draft and persists it.
func (s *TableService) CreateFromDraft(ctx context.Context, ownerID string, d core.TableDraft) (TableState, error) {
	t, err := s.engine.FromDraft(d)
	if err != nil {
		return TableState{}, fmt.Errorf("accept draft: %w", err)
	}
	return s.insert(ctx, ownerID, applog.OpCreate, t)
}

// Duplicate copies or projects an existing table into a new one.
func (s *TableService) Duplicate(ctx context.Context, ownerID, tableID string, mode table.Mode) (TableState, error) {
	src, err := s.Get(ctx, ownerID, tableID)
	if err != nil {
		return TableState{}, err
	}
	t, err := s.engine.Duplicate(src.Table, mode)
	if err != nil {
		return TableState{}, fmt.Errorf("duplicate table %s: %w", tableID, err)
	}
	return s.insert(ctx, ownerID, applog.OpDuplicate, t)
}

func (s *TableService) insert(ctx context.Context, ownerID, op string, t core.Table) (TableState, error) {
	w := s.workspace(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := s.ensureLoaded(ctx, w, ownerID); err != nil {
		return TableState{}, err
	}
	w.tables = append([]core.Table{t}, w.tables...)
	return s.persist(ctx, w, ownerID, op, t)
}

// mutate applies fn to the current snapshot of a table and persists the
// result. When fn fails nothing changes.
func (s *TableService) mutate(ctx context.Context, ownerID, tableID string, fn func(w *workspace, t core.Table) (core.Table, error)) (TableState, error) {
	w := s.workspace(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := s.ensureLoaded(ctx, w, ownerID); err != nil {
		return TableState{}, err
	}
	i := w.index(tableID)
	if i < 0 {
		return TableState{}, fmt.Errorf("table %s: %w", tableID, core.ErrNotFound)
	}
	next, err := fn(w, w.tables[i])
	if err != nil {
		return TableState{}, err
	}
	w.tables[i] = next
	return s.persist(ctx, w, ownerID, applog.OpUpdate, next)
}

// persist writes t, which is already applied to the session. A failed write
// keeps the local snapshot and marks it unsynced; only a missing storage
// backend is returned as an error.
func (s *TableService) persist(ctx context.Context, w *workspace, ownerID, op string, t core.Table) (TableState, error) {
	defer s.invalidate(w, ownerID)

	saved, err := s.store.Upsert(ctx, ownerID, t)
	s.events.LogTableMutation(ctx, op, ownerID, t.ID, saved.Revision, err)
	if err != nil {
		w.sync[t.ID] = unsynced(err)
		st := w.state(t)
		if errors.Is(err, core.ErrNotProvisioned) {
			return st, fmt.Errorf("persist table %s: %w", t.ID, err)
		}
		return st, nil
	}

	t.Revision = saved.Revision
	if i := w.index(t.ID); i >= 0 {
		w.tables[i] = t
	}
	delete(w.sync, t.ID)
	return w.state(t), nil
}

func (s *TableService) AddColumn(ctx context.Context, ownerID, tableID string, spec *table.ColumnSpec) (TableState, error) {
	return s.mutate(ctx, ownerID, tableID, func(_ *workspace, t core.Table) (core.Table, error) {
		if spec == nil {
			return s.engine.AddColumn(t), nil
		}
		return s.engine.AddColumnSpec(t, *spec)
	})
}

func (s *TableService) RemoveColumn(ctx context.Context, ownerID, tableID, key string) (TableState, error) {
	return s.mutate(ctx, ownerID, tableID, func(_ *workspace, t core.Table) (core.Table, error) {
		return s.engine.RemoveColumn(t, key), nil
	})
}

func (s *TableService) UpdateColumn(ctx context.Context, ownerID, tableID, key string, u table.ColumnUpdate) (TableState, error) {
	return s.mutate(ctx, ownerID, tableID, func(_ *workspace, t core.Table) (core.Table, error) {
		return s.engine.UpdateColumn(t, key, u)
	})
}

// AddRow appends a default row. Adding a row also leaves read-only mode.
func (s *TableService) AddRow(ctx context.Context, ownerID, tableID string) (TableState, error) {
	return s.mutate(ctx, ownerID, tableID, func(w *workspace, t core.Table) (core.Table, error) {
		delete(w.readOnly, t.ID)
		return s.engine.AddRow(t), nil
	})
}

func (s *TableService) RemoveRow(ctx context.Context, ownerID, tableID, rowID string) (TableState, error) {
	return s.mutate(ctx, ownerID, tableID, func(_ *workspace, t core.Table) (core.Table, error) {
		return s.engine.RemoveRow(t, rowID), nil
	})
}

// UpdateCell stores v as given. Tables in read-only mode reject the write.
func (s *TableService) UpdateCell(ctx context.Context, ownerID, tableID, rowID, key string, v core.Value) (TableState, error) {
	return s.writeCell(ctx, ownerID, tableID, rowID, key, func(core.Column) core.Value { return v })
}

// UpdateCellRaw coerces raw to the type the column has when the write is
// applied.
func (s *TableService) UpdateCellRaw(ctx context.Context, ownerID, tableID, rowID, key, raw string) (TableState, error) {
	return s.writeCell(ctx, ownerID, tableID, rowID, key, func(c core.Column) core.Value {
		return core.ParseCell(raw, c.Type)
	})
}

func (s *TableService) writeCell(ctx context.Context, ownerID, tableID, rowID, key string, value func(core.Column) core.Value) (TableState, error) {
	return s.mutate(ctx, ownerID, tableID, func(w *workspace, t core.Table) (core.Table, error) {
		if w.readOnly[t.ID] {
			return t, fmt.Errorf("table %s: %w", t.ID, core.ErrReadOnly)
		}
		col, ok := t.Column(key)
		if !ok {
			return t, fmt.Errorf("%w: %q", core.ErrColumnNotFound, key)
		}
		return s.engine.UpdateCell(t, rowID, key, value(col))
	})
}

// SetDetails edits the table metadata. Nil fields are left unchanged.
func (s *TableService) SetDetails(ctx context.Context, ownerID, tableID string, name, description, themeColor *string) (TableState, error) {
	return s.mutate(ctx, ownerID, tableID, func(_ *workspace, t core.Table) (core.Table, error) {
		return s.engine.SetDetails(t, name, description, themeColor)
	})
}

// SetReadOnly toggles view mode for a table. It is session state and is not
// persisted.
func (s *TableService) SetReadOnly(ctx context.Context, ownerID, tableID string, readOnly bool) (TableState, error) {
	w := s.workspace(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := s.ensureLoaded(ctx, w, ownerID); err != nil {
		return TableState{}, err
	}
	i := w.index(tableID)
	if i < 0 {
		return TableState{}, fmt.Errorf("table %s: %w", tableID, core.ErrNotFound)
	}
	if readOnly {
		w.readOnly[tableID] = true
	} else {
		delete(w.readOnly, tableID)
	}
	return w.state(w.tables[i]), nil
}

// Delete removes the table from the session and from storage. When storage
// fails the table stays removed locally and the deletion is queued for
// Resync.
func (s *TableService) Delete(ctx context.Context, ownerID, tableID string) (DeleteResult, error) {
	w := s.workspace(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := s.ensureLoaded(ctx, w, ownerID); err != nil {
		return DeleteResult{}, err
	}
	i := w.index(tableID)
	if i < 0 {
		return DeleteResult{}, fmt.Errorf("table %s: %w", tableID, core.ErrNotFound)
	}
	w.tables = append(w.tables[:i], w.tables[i+1:]...)
	delete(w.sync, tableID)
	delete(w.readOnly, tableID)
	return s.deleteStored(ctx, w, ownerID, tableID)
}

func (s *TableService) deleteStored(ctx context.Context, w *workspace, ownerID, tableID string) (DeleteResult, error) {
	defer s.invalidate(w, ownerID)

	err := s.store.Delete(ctx, tableID)
	s.events.LogTableMutation(ctx, applog.OpDelete, ownerID, tableID, 0, err)
	if err != nil {
		w.pendingDeletes[tableID] = err.Error()
		res := DeleteResult{TableID: tableID, Sync: unsynced(err)}
		if errors.Is(err, core.ErrNotProvisioned) {
			return res, fmt.Errorf("delete table %s: %w", tableID, err)
		}
		return res, nil
	}
	delete(w.pendingDeletes, tableID)
	return DeleteResult{TableID: tableID, Sync: synced()}, nil
}

// PendingDeletes lists the ids of tables whose deletion has not reached
// storage yet.
func (s *TableService) PendingDeletes(ownerID string) []string {
	w := s.workspace(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]string, 0, len(w.pendingDeletes))
	for id := range w.pendingDeletes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ResyncResult is the outcome of Resync: either the table was written again
// or a queued deletion was retried.
type ResyncResult struct {
	Table   *TableState   `json:"table,omitempty"`
	Deleted *DeleteResult `json:"deleted,omitempty"`
}

// Resync writes the session snapshot of a table again, or retries its
// queued deletion.
func (s *TableService) Resync(ctx context.Context, ownerID, tableID string) (ResyncResult, error) {
	w := s.workspace(ownerID)
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pendingDeletes[tableID]; ok {
		res, err := s.deleteStored(ctx, w, ownerID, tableID)
		return ResyncResult{Deleted: &res}, err
	}
	if err := s.ensureLoaded(ctx, w, ownerID); err != nil {
		return ResyncResult{}, err
	}
	i := w.index(tableID)
	if i < 0 {
		return ResyncResult{}, fmt.Errorf("table %s: %w", tableID, core.ErrNotFound)
	}
	st, err := s.persist(ctx, w, ownerID, applog.OpSync, w.tables[i])
	return ResyncResult{Table: &st}, err
}

// Provision sets up the backing storage and reloads the owner's session.
func (s *TableService) Provision(ctx context.Context, ownerID string) error {
	if s.provisioner != nil {
		if err := s.provisioner.Provision(ctx); err != nil {
			return fmt.Errorf("provision storage: %w", err)
		}
		s.logger.InfoContext(ctx, "Storage provisioned", applog.FieldOperation, applog.OpProvision)
	}
	return s.Load(ctx, ownerID)
}

// Dashboard returns the cross-table summary of the owner's tables.
func (s *TableService) Dashboard(ctx context.Context, ownerID string) (dashboard.Summary, error) {
	if s.summaries != nil {
		if sum, ok := s.summaries.Get(ownerID); ok {
			return sum, nil
		}
	}

	w := s.workspace(ownerID)
	w.mu.Lock()
	if err := s.ensureLoaded(ctx, w, ownerID); err != nil {
		w.mu.Unlock()
		return dashboard.Summary{}, err
	}
	tables := make([]core.Table, len(w.tables))
	for i, t := range w.tables {
		tables[i] = t.Clone()
	}
	gen := w.gen
	w.mu.Unlock()

	key := fmt.Sprintf("%s@%d", ownerID, gen)
	v, _, _ := s.flight.Do(key, func() (any, error) {
		sum := s.compute(tables)
		if s.summaries != nil {
			w.mu.Lock()
			if w.gen == gen {
				s.summaries.Set(ownerID, sum)
			}
			w.mu.Unlock()
		}
		return sum, nil
	})
	return v.(dashboard.Summary), nil
}

// invalidate must be called with w.mu held.
func (s *TableService) invalidate(w *workspace, ownerID string) {
	w.gen++
	if s.summaries != nil {
		s.summaries.Delete(ownerID)
	}
}

// Tables returns plain snapshots of the owner's tables, for collaborators
// that only read.
func (s *TableService) Tables(ctx context.Context, ownerID string) ([]core.Table, error) {
	states, err := s.List(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Table, len(states))
	for i, st := range states {
		out[i] = st.Table
	}
	return out, nil
}
