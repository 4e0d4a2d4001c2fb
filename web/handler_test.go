package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/davidoram/httpsink/core"
	"github.com/davidoram/httpsink/view"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFailures(t *testing.T, hc HandlerContext, n int) {
	now := time.Date(2024, time.January, 11, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		rec := core.Record{Topic: "orders", Offset: int64(i)}
		o := core.Outcome{Status: core.OutcomeFailed, Attempts: 1, Destination: "http://example.com", Err: &core.DeliveryError{StatusCode: 400, Cause: &core.StatusError{StatusCode: 400}}}
		require.NoError(t, core.InsertFailure(context.Background(), hc.Db, core.NewFailure(rec, o, now.Add(time.Duration(i)*time.Second))))
	}
}

func TestListFailuresHandler(t *testing.T) {
	hc := HandlerContext{Db: core.OpenTestDatabase(t)}
	seedFailures(t, hc, 5)

	tests := map[string]struct {
		query   string
		status  int
		offsets []int64
		next    bool
	}{
		"defaults":   {"", http.StatusOK, []int64{0, 1, 2, 3, 4}, false},
		"page":       {"?offset=1&limit=2", http.StatusOK, []int64{1, 2}, true},
		"last page":  {"?offset=4&limit=2", http.StatusOK, []int64{4}, false},
		"past end":   {"?offset=10", http.StatusOK, []int64{}, false},
		"bad offset": {"?offset=abc", http.StatusBadRequest, nil, false},
		"zero limit": {"?limit=0", http.StatusBadRequest, nil, false},
		"huge limit": {"?limit=5000", http.StatusBadRequest, nil, false},
		"neg offset": {"?offset=-1", http.StatusBadRequest, nil, false},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/1/failures"+test.query, nil)
			rr := httptest.NewRecorder()
			hc.ListFailuresHandler(rr, req, context.Background())

			require.Equal(t, test.status, rr.Code, rr.Body.String())
			if test.status != http.StatusOK {
				return
			}
			var c view.FailureCollection
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &c))
			offsets := []int64{}
			for _, f := range c.Failures {
				offsets = append(offsets, f.Offset)
				assert.Equal(t, int64(400), f.StatusCode.Int64)
			}
			assert.Equal(t, test.offsets, offsets)
			assert.Equal(t, int64(5), c.Total)
			assert.Equal(t, test.next, c.HasNextBatch())
		})
	}
}

func TestListFailuresHandlerJournalDisabled(t *testing.T) {
	rr := httptest.NewRecorder()
	HandlerContext{}.ListFailuresHandler(rr, httptest.NewRequest(http.MethodGet, "/1/failures", nil), context.Background())
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoutesRejectOtherMethods(t *testing.T) {
	mux := HandlerContext{Db: core.OpenTestDatabase(t)}.Routes(context.Background())
	for _, path := range []string{"/1/failures", "/1/sender", "/healthz"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, path)
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/1/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestDescribeSenderHandler(t *testing.T) {
	hc := HandlerContext{Sender: view.Sender{URL: "http://example.com/hook", Method: "POST", Headers: []string{}, Authorization: view.Authorization{Type: "static"}}}
	rr := httptest.NewRecorder()
	hc.DescribeSenderHandler(rr, httptest.NewRequest(http.MethodGet, "/1/sender", nil), context.Background())

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	var s view.Sender
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, hc.Sender.URL, s.URL)
	assert.Equal(t, "static", s.Authorization.Type)
}

func TestRoutes(t *testing.T) {
	hc := HandlerContext{Db: core.OpenTestDatabase(t)}
	seedFailures(t, hc, 1)
	srv := httptest.NewServer(hc.Routes(context.Background()))
	defer srv.Close()

	for _, path := range []string{"/1/failures", "/1/sender", "/healthz"} {
		resp, err := http.Get(fmt.Sprintf("%s%s", srv.URL, path))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
