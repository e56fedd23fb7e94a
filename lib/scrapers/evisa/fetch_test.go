package evisa

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchAllBatchTerminatesOnEmptyPage(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/web/applications/batch/data", r.URL.Path)
		require.NoError(t, r.ParseForm())
		offset, err := strconv.Atoi(r.Form.Get("start"))
		require.NoError(t, err)
		requests++

		var items []RawBatchItem
		switch offset {
		case 0:
			items = []RawBatchItem{{RegisterNumber: "R-1"}, {RegisterNumber: "R-2"}}
		case batchPageStep:
			items = []RawBatchItem{{RegisterNumber: "R-3"}}
		default:
			items = nil
		}
		json.NewEncoder(w).Encode(map[string]any{"data": items})
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	all, err := client.FetchAllBatch(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, 3, requests)
	require.Len(t, all, 3)
	require.Equal(t, "R-1", all[0].RegisterNumber)
	require.Equal(t, "R-3", all[2].RegisterNumber)
}

func TestFetchBatchPageBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	_, err = client.FetchBatchPage(context.Background(), "token", 0)
	require.ErrorIs(t, err, ErrTransientFetch)
}

func TestFetchAllStayPermits(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/front/applications/stay-permit/data", r.URL.Path)
		offset, err := strconv.Atoi(r.URL.Query().Get("start"))
		require.NoError(t, err)

		var items []RawStayPermitItem
		if offset == 0 {
			items = []RawStayPermitItem{{RegisterNumber: "S-1"}}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": items})
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	all, err := client.FetchAllStayPermits(context.Background(), "token")
	require.NoError(t, err)
	require.Len(t, all, 1)
}

type staticSolver struct {
	token string
	err   error
}

func (s staticSolver) SolveRecaptcha(ctx context.Context, siteKey, pageUrl string) (string, error) {
	return s.token, s.err
}

func TestLogin(t *testing.T) {
	mux := http.NewServeMux()
	// Method-qualified mux patterns ("GET /path") need Go 1.22; dispatch on
	// r.Method inside the handler so this runs on Go 1.21.
	mux.HandleFunc("/front/login", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte(`<form>
				<input name="csrf_token" value="csrf-123"/>
				<div class="g-recaptcha" data-sitekey="site-456"></div>
			</form>`))
		case http.MethodPost:
			require.NoError(t, r.ParseForm())
			require.Equal(t, "csrf-123", r.Form.Get("csrf_token"))
			require.Equal(t, "solved", r.Form.Get("g-recaptcha-response"))
			http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "fresh-session"})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(ClientOptions{
		BaseUrl: server.URL,
		Solver:  staticSolver{token: "solved"},
	})
	require.NoError(t, err)

	token, err := client.Login(context.Background(), "user", "pass")
	require.NoError(t, err)
	require.Equal(t, "fresh-session", token)
}

func TestLoginMissingCaptchaMarkup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<form><input name="csrf_token" value="csrf-123"/></form>`))
	}))
	defer server.Close()

	client, err := NewClient(ClientOptions{
		BaseUrl: server.URL,
		Solver:  staticSolver{token: "solved"},
	})
	require.NoError(t, err)

	_, err = client.Login(context.Background(), "user", "pass")
	require.ErrorIs(t, err, ErrAuthExpired)
}

func TestCheckSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/web/applications/batch", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("PHPSESSID")
		if err != nil || cookie.Value != "live" {
			http.Redirect(w, r, "/front/login", http.StatusFound)
			return
		}
		w.Write([]byte("applications"))
	})
	mux.HandleFunc("/front/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("login page"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := NewClient(ClientOptions{BaseUrl: server.URL})
	require.NoError(t, err)

	require.True(t, client.CheckSession(context.Background(), "live"))
	require.False(t, client.CheckSession(context.Background(), "dead"))
	require.False(t, client.CheckSession(context.Background(), ""))
}
