package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type HandlerContext struct {
	Db            *sql.DB
	FailEvery     int
	RetryAfter    int
	Authorization string
	ClientID      string
	ClientSecret  string
	TokenTTL      time.Duration

	done chan os.Signal

	mu       sync.Mutex
	received int
	tokens   map[string]time.Time // issued access token -> expiry
}

type SavedRequest struct {
	Seq           int64  `json:"seq"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	ContentType   string `json:"content_type"`
	Authorization string `json:"authorization"`
	Body          string `json:"body"`
}

func MigrateDB(ctx context.Context, db *sql.DB) error {

	// Create the requests table if not exists
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS requests (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			method TEXT NOT NULL,
			path TEXT NOT NULL,
			content_type TEXT,
			authorization TEXT,
			body TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

func TruncateDB(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DELETE FROM requests`)
	return err
}

func InsertRequest(ctx context.Context, db *sql.DB, req SavedRequest) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO requests (method, path, content_type, authorization, body) VALUES (?, ?, ?, ?, ?)`,
		req.Method,
		req.Path,
		req.ContentType,
		req.Authorization,
		req.Body)
	return err
}

func GetRequests(ctx context.Context, db *sql.DB) ([]SavedRequest, error) {
	rows, err := db.QueryContext(ctx, `SELECT seq, method, path, content_type, authorization, body FROM requests ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []SavedRequest{}
	for rows.Next() {
		var r SavedRequest
		if err := rows.Scan(&r.Seq, &r.Method, &r.Path, &r.ContentType, &r.Authorization, &r.Body); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (hctx *HandlerContext) authorized(r *http.Request) bool {
	got := r.Header.Get("Authorization")
	if hctx.ClientID != "" {
		hctx.mu.Lock()
		defer hctx.mu.Unlock()
		for token, expiry := range hctx.tokens {
			if got == "Bearer "+token && time.Now().Before(expiry) {
				return true
			}
		}
		return false
	}
	return hctx.Authorization == "" || got == hctx.Authorization
}

// SaveRequest handles deliveries, it saves the request and answers 200 unless the request was not
// authorized or it is time to simulate a failure
func (hctx *HandlerContext) SaveRequest(w http.ResponseWriter, r *http.Request, ctx context.Context) {
	body, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		slog.Error("Error reading request body", slog.Any("error", err))
		http.Error(w, "Error reading request body", http.StatusInternalServerError)
		return
	}

	if !hctx.authorized(r) {
		slog.Info("unauthorized request", slog.String("path", r.URL.Path))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	hctx.mu.Lock()
	hctx.received++
	n := hctx.received
	hctx.mu.Unlock()
	if hctx.FailEvery > 0 && n%hctx.FailEvery == 0 {
		slog.Info("simulated failure", slog.Int("request", n))
		w.Header().Set("Retry-After", strconv.Itoa(hctx.RetryAfter))
		http.Error(w, "Simulated failure", http.StatusServiceUnavailable)
		return
	}

	err = InsertRequest(ctx, hctx.Db, SavedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		ContentType:   r.Header.Get("Content-Type"),
		Authorization: r.Header.Get("Authorization"),
		Body:          string(body),
	})
	if err != nil {
		slog.Error("Error inserting request", slog.Any("error", err))
		http.Error(w, "Error inserting request", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Total answers with the number of saved requests
func (hctx *HandlerContext) Total(w http.ResponseWriter, r *http.Request, ctx context.Context) {
	var total int
	if err := hctx.Db.QueryRowContext(ctx, `SELECT COUNT(*) FROM requests`).Scan(&total); err != nil {
		slog.Error("Error counting requests", slog.Any("error", err))
		http.Error(w, "Error counting requests", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total":%d}`, total)
}

// IssueToken implements the client credentials grant, credentials may be in the Basic auth header
// or in the form
func (hctx *HandlerContext) IssueToken(w http.ResponseWriter, r *http.Request, ctx context.Context) {
	if hctx.ClientID == "" {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, `{"error":"invalid_request"}`, http.StatusBadRequest)
		return
	}
	id, secret, ok := r.BasicAuth()
	if !ok {
		id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
	}
	if r.PostForm.Get("grant_type") != "client_credentials" || id != hctx.ClientID || secret != hctx.ClientSecret {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
		return
	}

	token := uuid.NewString()
	hctx.mu.Lock()
	if hctx.tokens == nil {
		hctx.tokens = map[string]time.Time{}
	}
	hctx.tokens[token] = time.Now().Add(hctx.TokenTTL)
	hctx.mu.Unlock()
	slog.Info("token issued", slog.String("client_id", id))

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"expires_in":   int(hctx.TokenTTL.Seconds()),
	})
}
