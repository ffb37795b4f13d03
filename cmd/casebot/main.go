// casebot is the customer-service operations assistant: chat-driven case
// intake into spreadsheet storage, periodic error surveillance, per-user
// task timers, and attachment linking.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/opsdesk/casebot/internal/api"
	"github.com/opsdesk/casebot/internal/attach"
	"github.com/opsdesk/casebot/internal/blob"
	"github.com/opsdesk/casebot/internal/cases"
	"github.com/opsdesk/casebot/internal/chat"
	"github.com/opsdesk/casebot/internal/config"
	"github.com/opsdesk/casebot/internal/convstore"
	"github.com/opsdesk/casebot/internal/flow"
	"github.com/opsdesk/casebot/internal/manual"
	"github.com/opsdesk/casebot/internal/parcel"
	"github.com/opsdesk/casebot/internal/permits"
	"github.com/opsdesk/casebot/internal/pkg/distlock"
	"github.com/opsdesk/casebot/internal/pkg/logger"
	"github.com/opsdesk/casebot/internal/sheets"
	"github.com/opsdesk/casebot/internal/surveillance"
	"github.com/opsdesk/casebot/internal/timer"
)

const timezone = "America/Argentina/Buenos_Aires"

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Fatalf("loading timezone %s: %v", timezone, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	graph, err := buildGraph(ctx, cfg, loc)
	if err != nil {
		log.Fatalf("wiring components: %v", err)
	}

	go graph.surveillance.Start(ctx)

	logger.Info("casebot: starting", "port", cfg.Server.Port)
	if err := graph.server.Start(ctx); err != nil {
		log.Fatalf("server: %v", err)
	}
	logger.Info("casebot: stopped")
}

// graph is the wired component set. A "reset" is a matter of building a new
// graph, never of mutating a live one.
type graph struct {
	surveillance *surveillance.Loop
	server       *api.Server
}

func buildGraph(ctx context.Context, cfg *config.Config, loc *time.Location) (*graph, error) {
	sheetsClient, err := sheets.NewClient(cfg.Sheets)
	if err != nil {
		return nil, err
	}

	var blobs blob.Store
	switch cfg.Blob.Backend {
	case "s3":
		blobs, err = blob.NewS3Store(ctx, cfg.Blob)
	default:
		blobs, err = blob.NewDriveStore(cfg.Blob, cfg.Sheets.CredentialsPath)
	}
	if err != nil {
		return nil, err
	}

	var conv convstore.Store
	var sweepLock distlock.Lock
	switch cfg.Storage.Type {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr, DB: cfg.Storage.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		conv = convstore.NewRedisStoreWithClient(rdb, cfg.Storage.ConversationTTL())
		sweepLock = distlock.NewRedisLock(rdb, "surveillance", 5*time.Minute)
	default:
		conv, err = convstore.NewFileStore(filepath.Join(cfg.Storage.LocalPath, "conversations.json"))
		if err != nil {
			return nil, err
		}
	}

	gateway := chat.NewRESTGateway(cfg.Chat)
	gate := permits.NewGate(cfg.Permissions)
	dispatcher := chat.NewDispatcher()

	taskSpreadsheet := cfg.Sheets.TaskSpreadsheetID
	if taskSpreadsheet == "" {
		taskSpreadsheet = cfg.Sheets.CaseSpreadsheetID
	}

	repo := cases.NewRepository(sheetsClient, cfg.Sheets.CaseSpreadsheetID, cfg.Sheets.Ranges, loc)

	snapshot, err := timer.OpenSnapshot(cfg.Timer.SnapshotPath)
	if err != nil {
		return nil, err
	}
	timerSvc := timer.NewService(sheetsClient, taskSpreadsheet,
		cfg.Sheets.ActiveTasksRange, cfg.Sheets.HistoryRange,
		snapshot, gateway, cfg.Channels.Tasks, loc)
	timer.NewHandlers(timerSvc, gateway, cfg.Channels.Tasks).Register(dispatcher)

	ttl := cfg.Storage.ConversationTTL()
	flow.NewEngine(repo, conv, gateway, gate, cfg.Channels, ttl).Register(dispatcher)

	attach.NewLinker(conv, blobs, repo, gateway, gate,
		cfg.Blob.ParentFolderID, cfg.Channels.InvoiceA, ttl, loc).Register(dispatcher)

	if cfg.Tracking.Enabled {
		parcel.NewHandlers(parcel.NewClient(cfg.Tracking), gateway).Register(dispatcher)
	}
	if cfg.Manual.Enabled {
		manualClient := manual.NewClient(cfg.Manual, manualSource(blobs, cfg.Manual.ManualFileID))
		manual.NewHandlers(manualClient, gateway).Register(dispatcher)
	}

	loop, err := surveillance.NewLoop(sheetsClient, cfg.Sheets.CaseSpreadsheetID,
		cfg.Surveillance, gateway, cfg.Chat.GuildID, loc)
	if err != nil {
		return nil, err
	}
	if sweepLock != nil {
		loop.WithLock(sweepLock)
	}

	timers := timerAdapter{svc: timerSvc, loc: loc}
	api.NewOpsHandlers(gateway, gate, loop, conv, ttl, timers).Register(dispatcher)

	server := api.NewServer(cfg.Server, loop, conv, ttl, timers).
		WithChatEndpoints(
			chat.NewWebhook(cfg.Chat.PublicKey, dispatcher),
			chat.NewMessageRelay(dispatcher),
		)

	return &graph{surveillance: loop, server: server}, nil
}

// timerAdapter exposes the timer service's snapshot in the API's shape.
type timerAdapter struct {
	svc *timer.Service
	loc *time.Location
}

func (a timerAdapter) AllActive() []api.TimerEntry {
	tasks := a.svc.AllActive()
	out := make([]api.TimerEntry, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, api.TimerEntry{
			UserID:      t.UserID,
			TaskID:      t.TaskID,
			DisplayName: t.DisplayName,
			TaskKind:    t.TaskKind,
			Status:      string(t.Status),
			StartedAt:   t.StartedAt.In(a.loc).Format(timer.EventLayout),
			Pause:       timer.FormatDuration(t.AccumulatedPause),
		})
	}
	return out
}

// manualSource serves the operations manual text. The manual lives as a
// document in the drive backend; other backends answer from an empty
// document.
func manualSource(blobs blob.Store, fileID string) manual.ManualSource {
	exporter, ok := blobs.(interface {
		ExportText(ctx context.Context, fileID string) (string, error)
	})
	return func(ctx context.Context) (string, error) {
		if !ok {
			return "", nil
		}
		return exporter.ExportText(ctx, fileID)
	}
}
