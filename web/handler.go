package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/davidoram/httpsink/adapter"
	"github.com/davidoram/httpsink/core"
	"github.com/davidoram/httpsink/view"

	// Routing proposal extension to go stdlib in go 1.22
	// See: https://github.com/golang/go/issues/61410
	"github.com/jba/muxpatterns"
)

type HandlerContext struct {
	Db     *sql.DB // nil when the failure journal is disabled
	Sender view.Sender
}

// ListFailuresHandler handles GET requests to list journaled delivery failures, oldest first
// It takes the following query parameters:
// - offset: the offset to start listing failures from, defaults to 0
// - limit: the maximum number of failures to return, defaults to 100
// Example: GET /failures?offset=10&limit=10
func (hctx HandlerContext) ListFailuresHandler(w http.ResponseWriter, r *http.Request, ctx context.Context) {
	if hctx.Db == nil {
		http.Error(w, "Failure journal is disabled", http.StatusNotFound)
		return
	}

	// retrieve the offset & limit values from URL param
	offset, ok := ParseQueryValue(r, w, "offset", 0)
	if !ok {
		return
	}
	limit, ok := ParseQueryValue(r, w, "limit", 100)
	if !ok {
		return
	}
	if offset < 0 || limit < 1 || limit > 1000 {
		http.Error(w, "offset must be >= 0 and limit between 1 and 1000", http.StatusBadRequest)
		return
	}

	failures, err := core.GetFailures(ctx, hctx.Db, int(offset), int(limit))
	if err != nil {
		slog.Error("Error reading failures", slog.Any("error", err))
		http.Error(w, "Error reading failures", http.StatusInternalServerError)
		return
	}
	total, err := core.CountFailures(ctx, hctx.Db)
	if err != nil {
		slog.Error("Error counting failures", slog.Any("error", err))
		http.Error(w, "Error counting failures", http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(adapter.CoreToViewFailures(failures, offset, limit, int64(total)))
	if err != nil {
		slog.Error("Error marshalling failures", slog.Any("error", err))
		http.Error(w, "Error marshalling failures", http.StatusInternalServerError)
		return
	}
	slog.Debug("List failures", slog.Any("offset", offset), slog.Any("limit", limit), slog.Any("failures found", len(failures)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// DescribeSenderHandler handles GET requests describing the delivery pipeline configuration
func (hctx HandlerContext) DescribeSenderHandler(w http.ResponseWriter, r *http.Request, ctx context.Context) {
	body, err := json.Marshal(hctx.Sender)
	if err != nil {
		slog.Error("Error marshalling sender", slog.Any("error", err))
		http.Error(w, "Error marshalling sender", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func ParseQueryValue(r *http.Request, w http.ResponseWriter, key string, value int64) (int64, bool) {
	valueStr := r.URL.Query().Get(key)
	if valueStr != "" {
		_, err := fmt.Sscanf(valueStr, "%d", &value)
		if err != nil {
			slog.Error("Error parsing URL param as int64", slog.Any("error", err), slog.String("key", key), slog.String("value", valueStr))
			http.Error(w, fmt.Sprintf("Error parsing URL param '%s' with value '%s' as integer", key, valueStr), http.StatusBadRequest)
			return 0, false
		}
	}
	return value, true
}

// Routes builds the admin router, ctx is passed to every handler
func (hctx HandlerContext) Routes(ctx context.Context) *muxpatterns.ServeMux {
	mux := muxpatterns.NewServeMux()
	mux.HandleFunc("GET /1/failures", func(w http.ResponseWriter, r *http.Request) {
		hctx.ListFailuresHandler(w, r, ctx)
	})
	mux.HandleFunc("GET /1/sender", func(w http.ResponseWriter, r *http.Request) {
		hctx.DescribeSenderHandler(w, r, ctx)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
