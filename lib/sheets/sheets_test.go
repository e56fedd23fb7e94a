package sheets_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/reddmonchick/VisaScraper/lib/sheets"
	"github.com/reddmonchick/VisaScraper/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func TestReadClearAppend(t *testing.T) {
	telemetry.SetupForTesting(t, "lib/sheets")

	var appended [][]string
	cleared := false

	mux := http.NewServeMux()
	mux.HandleFunc("/v4/spreadsheets/sheet1/values/", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, ":clear"):
			cleared = true
			w.Write([]byte("{}"))
		case strings.HasSuffix(r.URL.Path, ":append"):
			var body struct {
				Values [][]string `json:"values"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			appended = append(appended, body.Values...)
			w.Write([]byte("{}"))
		default:
			json.NewEncoder(w).Encode(map[string]any{
				"values": [][]string{{"a", "b"}, {"c", "d"}},
			})
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sheets.NewClient(sheets.ClientOptions{BaseUrl: server.URL})
	ctx := context.Background()

	rows, err := client.ReadAll(ctx, "sheet1", "Batch Application")
	require.NoError(t, err)
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, rows)

	require.NoError(t, client.Clear(ctx, "sheet1", "Batch Application"))
	require.True(t, cleared)

	require.NoError(t, client.AppendRows(ctx, "sheet1", "Batch Application", [][]string{{"x", "y"}}))
	require.Equal(t, [][]string{{"x", "y"}}, appended)
}

func TestTotalCells(t *testing.T) {
	telemetry.SetupForTesting(t, "lib/sheets")

	mux := http.NewServeMux()
	mux.HandleFunc("/v4/spreadsheets/sheet1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"sheets": []map[string]any{
				{"properties": map[string]any{
					"title":          "Batch Application",
					"gridProperties": map[string]int64{"rowCount": 1000, "columnCount": 26},
				}},
				{"properties": map[string]any{
					"title":          "StayPermit",
					"gridProperties": map[string]int64{"rowCount": 500, "columnCount": 10},
				}},
			},
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sheets.NewClient(sheets.ClientOptions{BaseUrl: server.URL})

	total, err := client.TotalCells(context.Background(), "sheet1")
	require.NoError(t, err)
	require.Equal(t, int64(1000*26+500*10), total)
}

func TestCreateSpreadsheetWritesHeaders(t *testing.T) {
	telemetry.SetupForTesting(t, "lib/sheets")

	headers := map[string][][]string{}

	mux := http.NewServeMux()
	mux.HandleFunc("/v4/spreadsheets", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "fresh"})
	})
	mux.HandleFunc("/v4/spreadsheets/fresh/values/", func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, ":append"))
		name := strings.TrimSuffix(
			strings.TrimPrefix(r.URL.Path, "/v4/spreadsheets/fresh/values/"),
			":append",
		)
		var body struct {
			Values [][]string `json:"values"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		headers[name] = body.Values
		w.Write([]byte("{}"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := sheets.NewClient(sheets.ClientOptions{BaseUrl: server.URL})

	id, err := client.CreateSpreadsheet(context.Background(), "Visa 2", []sheets.WorksheetSpec{
		{Title: "Batch Application", Header: []string{"Batch No", "Name"}},
		{Title: "StayPermit", Header: []string{"Register Number"}},
	})
	require.NoError(t, err)
	require.Equal(t, "fresh", id)
	require.Equal(t, [][]string{{"Batch No", "Name"}}, headers["Batch Application"])
	require.Equal(t, [][]string{{"Register Number"}}, headers["StayPermit"])
}
