package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/svbcapture/internal/api/models"
	"github.com/smazurov/svbcapture/internal/events"
	"github.com/smazurov/svbcapture/internal/logging"
)

func (s *Server) registerLogRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Recent Logs",
		Description: "Recent log entries kept in memory, oldest first",
		Tags:        []string{"logs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.LogsInput) (*models.LogsResponse, error) {
		entries := logging.GetHistory().Entries()
		if input.Module != "" {
			filtered := entries[:0]
			for _, e := range entries {
				if e.Module == input.Module {
					filtered = append(filtered, e)
				}
			}
			entries = filtered
		}
		if input.Tail > 0 && len(entries) > input.Tail {
			entries = entries[len(entries)-input.Tail:]
		}
		if entries == nil {
			entries = []logging.Entry{}
		}
		return &models.LogsResponse{
			Body: models.LogsData{Entries: entries, Count: len(entries)},
		}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends historical logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// Subscribe before replaying so nothing logged in between is lost.
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		for _, entry := range logging.GetHistory().Entries() {
			if err := send.Data(events.NewLogEntryEvent(entry)); err != nil {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
