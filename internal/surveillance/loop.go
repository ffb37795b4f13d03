// Package surveillance runs the periodic error-reconciliation loop: each
// configured sheet range is scanned for rows whose ERROR column is filled
// but whose ErrorEnvioCheck ledger cell is empty, an alert is delivered to
// the range's channel, and the ledger cell is stamped on success.
//
// Delivery-then-ledger is not two-phase. A crash between the send and the
// ledger write re-alerts the row on the next pass; the ledger makes
// alerting at-most-once only in steady state, and that trade is accepted.
package surveillance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/osteele/liquid"

	"github.com/opsdesk/casebot/internal/cases"
	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/pkg/distlock"
	"github.com/opsdesk/casebot/internal/pkg/logger"
	"github.com/opsdesk/casebot/internal/sheets"
)

// stampLayout is the canonical timestamp written into the ledger column.
const stampLayout = "02-01-2006 15:04:05"

// alertTemplate renders one alert. Kept as a template so the wording can
// be tuned without touching reconciliation logic.
const alertTemplate = `⚠️ **Error en {{ sheet }}**
Pedido: {{ order }}{% if case != "" %} | Caso: {{ case }}{% endif %}
{% if subtype != "" %}Solicitud: {{ subtype }}
{% endif %}{% if contact != "" %}Contacto: {{ contact }}
{% endif %}Agente: {{ agent }}
Error: {{ error }}{% if observations != "" %}
Observaciones: {{ observations }}{% endif %}`

// Loop is the surveillance loop over the configured watches.
type Loop struct {
	store         sheets.Store
	spreadsheetID string
	watches       []config.SurveillanceWatch
	gateway       chat.Gateway
	guildID       string
	interval      time.Duration
	loc           *time.Location
	now           func() time.Time
	tmpl          *liquid.Template

	// Optional cross-replica lock; within one process runMu already
	// serializes passes.
	lock distlock.Lock

	// Serializes passes: a tick that overlaps its successor makes the
	// successor wait instead of racing on ledger writes.
	runMu sync.Mutex
}

// NewLoop builds a surveillance loop.
func NewLoop(store sheets.Store, spreadsheetID string, cfg config.SurveillanceConfig,
	gateway chat.Gateway, guildID string, loc *time.Location) (*Loop, error) {
	tmpl, err := liquid.NewEngine().ParseString(alertTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing alert template: %w", err)
	}
	return &Loop{
		store:         store,
		spreadsheetID: spreadsheetID,
		watches:       cfg.Watches,
		gateway:       gateway,
		guildID:       guildID,
		interval:      cfg.Interval(),
		loc:           loc,
		now:           time.Now,
		tmpl:          tmpl,
	}, nil
}

// WithClock overrides the loop clock for tests.
func (l *Loop) WithClock(now func() time.Time) *Loop {
	l.now = now
	return l
}

// WithLock adds a cross-replica lock around each pass. Deployments running
// a single instance skip this and rely on the ledger alone.
func (l *Loop) WithLock(lock distlock.Lock) *Loop {
	l.lock = lock
	return l
}

// Start runs the loop until the context is canceled. One pass runs
// immediately, then one per interval.
func (l *Loop) Start(ctx context.Context) {
	logger.Info("surveillance: starting", "watches", len(l.watches), "interval", l.interval)

	if _, err := l.RunOnce(ctx); err != nil {
		logger.Error("surveillance: initial pass failed", "error", err)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("surveillance: stopping")
			return
		case <-ticker.C:
			if _, err := l.RunOnce(ctx); err != nil {
				logger.Error("surveillance: pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs one reconciliation pass over every watch and returns how
// many alerts were delivered. Also invoked directly by the admin API and
// the verify-errors command.
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	if l.lock != nil {
		ok, err := l.lock.Acquire(ctx)
		if err != nil {
			return 0, fmt.Errorf("acquiring surveillance lock: %w", err)
		}
		if !ok {
			logger.Debug("surveillance: pass skipped, another replica holds the lock")
			return 0, nil
		}
		defer func() {
			if err := l.lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("surveillance: lock release failed", "error", err)
			}
		}()
	}

	total := 0
	for _, w := range l.watches {
		n, err := l.sweepWatch(ctx, w)
		total += n
		if err != nil {
			// Transient failures on one watch must not starve the rest;
			// the rows come back on the next tick.
			logger.Warn("surveillance: watch sweep failed", "range", w.Range, "error", err)
		}
	}
	if total > 0 {
		logger.Info("surveillance: pass complete", "alerts", total)
	}
	return total, nil
}

func (l *Loop) sweepWatch(ctx context.Context, w config.SurveillanceWatch) (int, error) {
	rows, err := l.store.ReadRange(ctx, l.spreadsheetID, w.Range)
	if err != nil {
		return 0, fmt.Errorf("reading range: %w", err)
	}
	if len(rows) < 2 {
		return 0, nil
	}
	header := rows[0]

	errCol, ok := sheets.FindColumn(header, cases.Aliases(cases.FieldError)...)
	if !ok {
		logger.Warn("surveillance: ERROR column missing", "range", w.Range)
		return 0, nil
	}
	ledgerCol, ok := sheets.FindColumn(header, cases.Aliases(cases.FieldNotifiedAt)...)
	if !ok {
		logger.Warn("surveillance: ledger column missing", "range", w.Range)
		return 0, nil
	}

	col := func(f cases.Field) int {
		idx, found := sheets.FindColumn(header, cases.Aliases(f)...)
		if !found {
			return -1
		}
		return idx
	}
	orderCol := col(cases.FieldOrderNumber)
	caseCol := col(cases.FieldCaseNumber)
	subtypeCol := col(cases.FieldSubtype)
	contactCol := col(cases.FieldContactData)
	agentCol := col(cases.FieldAgentName)
	obsCol := col(cases.FieldObservations)

	cell := func(row []string, idx int) string {
		if idx < 0 || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	sheetName := sheets.ParseRangeSpec(w.Range).Sheet
	if sheetName == "" {
		sheetName = w.Range
	}

	alerted := 0
	for i, row := range rows[1:] {
		errText := cell(row, errCol)
		if errText == "" || cell(row, ledgerCol) != "" {
			continue
		}

		agentName := cell(row, agentCol)
		agent := agentName
		if agentName != "" {
			ref, found, err := l.gateway.ResolveUser(ctx, l.guildID, agentName)
			if err != nil {
				logger.Warn("surveillance: user lookup failed", "agent", agentName, "error", err)
			} else if found {
				agent = ref.Mention()
			}
		}

		content, err := l.tmpl.RenderString(map[string]any{
			"sheet":        sheetName,
			"order":        cell(row, orderCol),
			"case":         cell(row, caseCol),
			"subtype":      cell(row, subtypeCol),
			"contact":      cell(row, contactCol),
			"agent":        agent,
			"error":        errText,
			"observations": cell(row, obsCol),
		})
		if err != nil {
			return alerted, fmt.Errorf("rendering alert: %w", err)
		}

		if _, err := l.gateway.SendMessage(ctx, w.ChannelID, chat.Message{Content: content}); err != nil {
			// Skip and revisit on the next tick.
			logger.Warn("surveillance: alert delivery failed",
				"range", w.Range, "row", i+1, "error", err)
			continue
		}

		stamp := l.now().In(l.loc).Format(stampLayout)
		if err := l.store.UpdateCell(ctx, l.spreadsheetID, w.Range, i+1, ledgerCol, stamp); err != nil {
			// Alert went out but the ledger write failed: the row may
			// re-alert next pass. Documented at-least-once in crash paths.
			logger.Error("surveillance: ledger write failed",
				"range", w.Range, "row", i+1, "error", err)
			continue
		}
		alerted++
	}
	return alerted, nil
}
