package timer

import (
	"errors"
	"time"
)

// Status of a task. The Spanish strings are what the sheets store.
type Status string

const (
	StatusInProgress Status = "En curso"
	StatusPaused     Status = "Pausada"
	StatusFinished   Status = "Finalizada"
)

// EventKind names a ledger event.
type EventKind string

const (
	EventStart  EventKind = "Inicio"
	EventPause  EventKind = "Pausa"
	EventResume EventKind = "Reanudación"
	EventFinish EventKind = "Fin"
)

// TaskKinds is the closed set offered by the start menu. "Otros" accepts a
// free-text kind through the form.
var TaskKinds = []string{
	"Carga de casos",
	"Respuesta de emails",
	"Reclamos",
	"Devoluciones",
	"Otros",
}

// TaskState is the live view of one user's task. The History ledger is the
// source of truth; this struct (and the ActiveTasks sheet row) is a
// materialized view of it.
type TaskState struct {
	UserID           string        `json:"user_id"`
	TaskID           string        `json:"task_id"`
	DisplayName      string        `json:"display_name"`
	TaskKind         string        `json:"task_kind"`
	Observations     string        `json:"observations"`
	Status           Status        `json:"status"`
	StartedAt        time.Time     `json:"started_at"`
	FinishedAt       *time.Time    `json:"finished_at,omitempty"`
	AccumulatedPause time.Duration `json:"accumulated_pause"`
	CaseCount        int           `json:"case_count"`

	// Live panel location, kept so transitions can edit the message in
	// place and restarts can keep serving the same buttons.
	PanelChannelID string `json:"panel_channel_id,omitempty"`
	PanelMessageID string `json:"panel_message_id,omitempty"`
}

// Active reports whether the task still accepts transitions.
func (t TaskState) Active() bool {
	return t.Status == StatusInProgress || t.Status == StatusPaused
}

// Sentinel errors for timer transitions.
var (
	ErrActiveTask   = errors.New("user already has an active task")
	ErrNoActiveTask = errors.New("user has no active task")
	ErrNotPaused    = errors.New("task is not paused")
	ErrNotRunning   = errors.New("task is not in progress")
	ErrNotOwner     = errors.New("task belongs to another user")
)

// History sheet column layout (the append-only ledger).
const (
	histColTaskID = iota
	histColUserID
	histColAgent
	histColKind
	histColObservations
	histColEventAt
	histColEvent
	histColStatus
	histColPause
	histColCases
	histWidth
)

// ActiveTasks sheet column layout (the materialized view).
const (
	activeColTaskID = iota
	activeColUserID
	activeColAgent
	activeColKind
	activeColObservations
	activeColStartedAt
	activeColStatus
	activeColPause
	activeColCases
	activeColFinishedAt
	activeWidth
)
