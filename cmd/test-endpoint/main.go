// A simple HTTP server that receives the requests sent by httpsink and saves them to an SQLite database.
// The database is initialised and truncated on startup.
// It exposes the following endpoints:
// POST /token - Issue an OAuth2 client credentials token, when -client-id is set
// POST /total - Get the number of requests saved
// POST /shutdown - Gracefully shutdown the server
// Any other POST, PUT or PATCH is a delivery: it is saved and answered with 200, except that every
// -fail-every'th request is answered with 503 and a Retry-After header, and requests without the
// expected Authorization header are answered with 401.

package main

import (
	"context"
	"database/sql"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"

	// Routing proposal extension to go stdlib in go 1.22
	// See: https://github.com/golang/go/issues/61410
	//      https://benhoyt.com/writings/go-servemux-enhancements/
	"github.com/jba/muxpatterns"
)

func main() {

	slog.Info("test-endpoint start")
	defer slog.Info("test-endpoint exited")

	// Parse command line arguments
	dbURL := flag.String("db", "file:test-endpoint.db?vacuum=1", "URL connection to the SQLite database")
	httpAddress := flag.String("http-address", ":8081", "Host and port to start webserver on, defaults to ':8081'")
	failEvery := flag.Int("fail-every", 0, "Answer every Nth delivery with 503, 0 never fails")
	retryAfter := flag.Int("retry-after", 1, "Retry-After seconds sent with a 503")
	authorization := flag.String("authorization", "", "Expected Authorization header value, empty accepts anything")
	clientID := flag.String("client-id", "", "OAuth2 client id accepted by /token, empty disables /token")
	clientSecret := flag.String("client-secret", "", "OAuth2 client secret accepted by /token")
	tokenTTL := flag.Duration("token-ttl", time.Hour, "Lifetime of the tokens issued by /token")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the SQLite database
	db, err := sql.Open("sqlite3", *dbURL)
	if err != nil {
		slog.Error("open db", slog.Any("error", err), slog.String("url", *dbURL))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("db open ok")

	// Migrate the database
	err = MigrateDB(ctx, db)
	if err != nil {
		slog.Error("migrating db", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("db migrated ok")

	err = TruncateDB(ctx, db)
	if err != nil {
		slog.Error("truncate db", slog.Any("error", err))
		os.Exit(1)
	}

	// Set up a channel to receive signals
	done := make(chan os.Signal, 1)

	hctx := &HandlerContext{
		Db:            db,
		FailEvery:     *failEvery,
		RetryAfter:    *retryAfter,
		Authorization: *authorization,
		ClientID:      *clientID,
		ClientSecret:  *clientSecret,
		TokenTTL:      *tokenTTL,
		done:          done,
	}
	mux := hctx.Routes(ctx)

	slog.Info("http server starting", slog.Any("address", *httpAddress))
	server := &http.Server{
		Addr:              *httpAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go server.ListenAndServe()

	// Exit on these signals
	signals := []os.Signal{syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT}
	signal.Notify(done, signals...)

	// Wait for a signal to exit
	sig := <-done
	slog.Info("got signal", slog.String("signal", sig.String()))

	// Create a context with a timeout to force a graceful shutdown of the server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Info("failed http server shutdown", slog.Any("error", err))
	}
}

// Routes builds the router, ctx is passed to every handler
func (hctx *HandlerContext) Routes(ctx context.Context) *muxpatterns.ServeMux {
	mux := muxpatterns.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		hctx.IssueToken(w, r, ctx)
	})
	mux.HandleFunc("POST /total", func(w http.ResponseWriter, r *http.Request) {
		hctx.Total(w, r, ctx)
	})
	mux.HandleFunc("POST /shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("shutdown from API call")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("shutting down"))
		// Send a signal to the done channel to trigger a graceful shutdown
		hctx.done <- syscall.SIGTERM
	})
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch} {
		mux.HandleFunc(method+" /", func(w http.ResponseWriter, r *http.Request) {
			hctx.SaveRequest(w, r, ctx)
		})
	}
	return mux
}
