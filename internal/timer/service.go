// Package timer implements the per-user task timer: a state machine with
// active-task uniqueness, pause/resume with accumulated pause time, and a
// durable append-only ledger in the task spreadsheet. The ActiveTasks sheet
// and the local snapshot are materialized views; the History ledger is the
// source of truth for pause-delta computation.
package timer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/pkg/logger"
	"github.com/opsdesk/casebot/internal/sheets"
)

// Service drives timer transitions. All transitions are serialized: the
// uniqueness invariant (at most one non-finished task per user) is enforced
// under one lock, and sheet traffic is low enough that finer locking has
// never been worth it.
type Service struct {
	store         sheets.Store
	spreadsheetID string
	activeRange   string
	historyRange  string
	snapshot      *Snapshot
	gateway       chat.Gateway
	panelChannel  string
	loc           *time.Location
	now           func() time.Time
	mu            sync.Mutex
}

// NewService builds a timer service.
func NewService(store sheets.Store, spreadsheetID, activeRange, historyRange string,
	snapshot *Snapshot, gateway chat.Gateway, panelChannel string, loc *time.Location) *Service {
	return &Service{
		store:         store,
		spreadsheetID: spreadsheetID,
		activeRange:   activeRange,
		historyRange:  historyRange,
		snapshot:      snapshot,
		gateway:       gateway,
		panelChannel:  panelChannel,
		loc:           loc,
		now:           time.Now,
	}
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ActiveTask returns the caller's tracked task, if any. Used by the
// component fallback to recover identities after a restart.
func (s *Service) ActiveTask(userID string) (TaskState, bool) {
	t, ok := s.snapshot.Get(userID)
	if !ok || !t.Active() {
		return TaskState{}, false
	}
	return t, true
}

// AllActive returns every tracked task across users. Used by the admin API.
func (s *Service) AllActive() []TaskState {
	return s.snapshot.All()
}

// Start opens a task for the user. Refused while a task of theirs is still
// in progress or paused.
func (s *Service) Start(ctx context.Context, userID, displayName, taskKind, observations string) (TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.snapshot.Get(userID); ok && existing.Active() {
		return TaskState{}, fmt.Errorf("%w: %s", ErrActiveTask, existing.TaskID)
	}

	now := s.now().In(s.loc)
	t := TaskState{
		UserID:       userID,
		TaskID:       fmt.Sprintf("%s_%s", userID, now.Format("20060102150405")),
		DisplayName:  displayName,
		TaskKind:     taskKind,
		Observations: observations,
		Status:       StatusInProgress,
		StartedAt:    now,
	}

	if err := s.appendEvent(ctx, t, EventStart, now); err != nil {
		return TaskState{}, err
	}
	if err := s.appendActiveRow(ctx, t); err != nil {
		return TaskState{}, err
	}

	if s.gateway != nil && s.panelChannel != "" {
		msgID, err := s.gateway.SendMessage(ctx, s.panelChannel, renderPanel(t, s.loc))
		if err != nil {
			logger.Warn("timer: panel send failed", "task", t.TaskID, "error", err)
		} else {
			t.PanelChannelID = s.panelChannel
			t.PanelMessageID = msgID
		}
	}

	if err := s.snapshot.Put(t); err != nil {
		return TaskState{}, err
	}
	logger.Info("timer: task started", "user", userID, "task", t.TaskID, "kind", taskKind)
	return t, nil
}

// Pause suspends the caller's running task.
func (s *Service) Pause(ctx context.Context, callerID, taskID string) (TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.ownedActive(callerID, taskID)
	if err != nil {
		return TaskState{}, err
	}
	if t.Status != StatusInProgress {
		return TaskState{}, ErrNotRunning
	}

	now := s.now().In(s.loc)
	t.Status = StatusPaused
	if err := s.appendEvent(ctx, t, EventPause, now); err != nil {
		return TaskState{}, err
	}
	if err := s.updateActiveRow(ctx, t); err != nil {
		return TaskState{}, err
	}
	if err := s.snapshot.Put(t); err != nil {
		return TaskState{}, err
	}
	s.editPanel(ctx, t)
	logger.Info("timer: task paused", "user", callerID, "task", t.TaskID)
	return t, nil
}

// Resume restarts the caller's paused task, accumulating the pause delta
// computed from the ledger's most recent Pause event.
func (s *Service) Resume(ctx context.Context, callerID, taskID string) (TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.ownedActive(callerID, taskID)
	if err != nil {
		return TaskState{}, err
	}
	if t.Status != StatusPaused {
		return TaskState{}, ErrNotPaused
	}

	now := s.now().In(s.loc)
	pausedAt, err := s.lastEventAt(ctx, t.TaskID, EventPause)
	if err != nil {
		return TaskState{}, err
	}
	if !pausedAt.IsZero() {
		t.AccumulatedPause += now.Sub(pausedAt)
	}

	t.Status = StatusInProgress
	if err := s.appendEvent(ctx, t, EventResume, now); err != nil {
		return TaskState{}, err
	}
	if err := s.updateActiveRow(ctx, t); err != nil {
		return TaskState{}, err
	}
	if err := s.snapshot.Put(t); err != nil {
		return TaskState{}, err
	}
	s.editPanel(ctx, t)
	logger.Info("timer: task resumed", "user", callerID, "task", t.TaskID,
		"accumulated_pause", FormatDuration(t.AccumulatedPause))
	return t, nil
}

// Finish closes the caller's task. A finish while paused first accumulates
// the open pause delta so the pause total is complete.
func (s *Service) Finish(ctx context.Context, callerID, taskID string, caseCount int) (TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.ownedActive(callerID, taskID)
	if err != nil {
		return TaskState{}, err
	}

	now := s.now().In(s.loc)
	if t.Status == StatusPaused {
		pausedAt, err := s.lastEventAt(ctx, t.TaskID, EventPause)
		if err != nil {
			return TaskState{}, err
		}
		if !pausedAt.IsZero() {
			t.AccumulatedPause += now.Sub(pausedAt)
		}
	}

	t.Status = StatusFinished
	t.FinishedAt = &now
	t.CaseCount = caseCount

	if err := s.appendEvent(ctx, t, EventFinish, now); err != nil {
		return TaskState{}, err
	}
	if err := s.backfillCaseCount(ctx, t.TaskID, caseCount); err != nil {
		logger.Warn("timer: case count backfill failed", "task", t.TaskID, "error", err)
	}
	if err := s.updateActiveRow(ctx, t); err != nil {
		return TaskState{}, err
	}
	if err := s.snapshot.Remove(t.UserID); err != nil {
		return TaskState{}, err
	}
	s.editPanel(ctx, t)
	logger.Info("timer: task finished", "user", callerID, "task", t.TaskID,
		"cases", caseCount, "accumulated_pause", FormatDuration(t.AccumulatedPause))
	return t, nil
}

// ownedActive resolves the caller's active task and checks ownership when
// a task id is bound. Callers hold s.mu.
func (s *Service) ownedActive(callerID, taskID string) (TaskState, error) {
	t, ok := s.snapshot.Get(callerID)
	if !ok || !t.Active() {
		return TaskState{}, ErrNoActiveTask
	}
	if taskID != "" && t.TaskID != taskID {
		return TaskState{}, ErrNotOwner
	}
	return t, nil
}

func (s *Service) appendEvent(ctx context.Context, t TaskState, kind EventKind, at time.Time) error {
	row := make([]string, histWidth)
	row[histColTaskID] = t.TaskID
	row[histColUserID] = t.UserID
	row[histColAgent] = t.DisplayName
	row[histColKind] = t.TaskKind
	row[histColObservations] = t.Observations
	row[histColEventAt] = at.Format(EventLayout)
	row[histColEvent] = string(kind)
	row[histColStatus] = string(t.Status)
	row[histColPause] = FormatDuration(t.AccumulatedPause)
	if kind == EventFinish {
		row[histColCases] = strconv.Itoa(t.CaseCount)
	}
	if err := s.store.AppendRow(ctx, s.spreadsheetID, s.historyRange, row); err != nil {
		return fmt.Errorf("appending %s event: %w", kind, err)
	}
	return nil
}

func (s *Service) appendActiveRow(ctx context.Context, t TaskState) error {
	row := make([]string, activeWidth)
	row[activeColTaskID] = t.TaskID
	row[activeColUserID] = t.UserID
	row[activeColAgent] = t.DisplayName
	row[activeColKind] = t.TaskKind
	row[activeColObservations] = t.Observations
	row[activeColStartedAt] = t.StartedAt.Format(EventLayout)
	row[activeColStatus] = string(t.Status)
	row[activeColPause] = FormatDuration(t.AccumulatedPause)
	if err := s.store.AppendRow(ctx, s.spreadsheetID, s.activeRange, row); err != nil {
		return fmt.Errorf("appending active row: %w", err)
	}
	return nil
}

// updateActiveRow rewrites the mutable cells of the task's ActiveTasks row.
func (s *Service) updateActiveRow(ctx context.Context, t TaskState) error {
	rows, err := s.store.ReadRange(ctx, s.spreadsheetID, s.activeRange)
	if err != nil {
		return fmt.Errorf("reading active tasks: %w", err)
	}

	rowIdx := -1
	for i, row := range rows {
		if activeColTaskID < len(row) && row[activeColTaskID] == t.TaskID {
			rowIdx = i
			break
		}
	}
	if rowIdx < 0 {
		return fmt.Errorf("active row for task %s not found", t.TaskID)
	}

	updates := map[int]string{
		activeColStatus: string(t.Status),
		activeColPause:  FormatDuration(t.AccumulatedPause),
	}
	if t.Status == StatusFinished {
		updates[activeColCases] = strconv.Itoa(t.CaseCount)
		if t.FinishedAt != nil {
			updates[activeColFinishedAt] = t.FinishedAt.Format(EventLayout)
		}
	}
	for col, val := range updates {
		if err := s.store.UpdateCell(ctx, s.spreadsheetID, s.activeRange, rowIdx, col, val); err != nil {
			return fmt.Errorf("updating active row: %w", err)
		}
	}
	return nil
}

// lastEventAt finds the timestamp of the most recent ledger event of the
// given kind for a task.
func (s *Service) lastEventAt(ctx context.Context, taskID string, kind EventKind) (time.Time, error) {
	rows, err := s.store.ReadRange(ctx, s.spreadsheetID, s.historyRange)
	if err != nil {
		return time.Time{}, fmt.Errorf("reading ledger: %w", err)
	}

	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if histColEvent >= len(row) || row[histColTaskID] != taskID || row[histColEvent] != string(kind) {
			continue
		}
		at, err := time.ParseInLocation(EventLayout, strings.TrimSpace(row[histColEventAt]), s.loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing ledger timestamp %q: %w", row[histColEventAt], err)
		}
		return at, nil
	}
	return time.Time{}, nil
}

// backfillCaseCount writes the case count into the most recent ledger row
// for the task, covering rows appended before the count was known.
func (s *Service) backfillCaseCount(ctx context.Context, taskID string, caseCount int) error {
	rows, err := s.store.ReadRange(ctx, s.spreadsheetID, s.historyRange)
	if err != nil {
		return fmt.Errorf("reading ledger: %w", err)
	}

	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if histColTaskID >= len(row) || row[histColTaskID] != taskID {
			continue
		}
		current := ""
		if histColCases < len(row) {
			current = strings.TrimSpace(row[histColCases])
		}
		want := strconv.Itoa(caseCount)
		if current == want {
			return nil
		}
		return s.store.UpdateCell(ctx, s.spreadsheetID, s.historyRange, i, histColCases, want)
	}
	return nil
}

func (s *Service) editPanel(ctx context.Context, t TaskState) {
	if s.gateway == nil || t.PanelChannelID == "" || t.PanelMessageID == "" {
		return
	}
	if err := s.gateway.EditMessage(ctx, t.PanelChannelID, t.PanelMessageID, renderPanel(t, s.loc)); err != nil {
		logger.Warn("timer: panel edit failed", "task", t.TaskID, "error", err)
	}
}
