// Package sheets is a thin client for the spreadsheet service backing
// the tabular sink: per-worksheet value reads, clears and chunked
// appends, plus the spreadsheet-level metadata the rotation logic
// needs.
package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/telemetry"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("lib/sheets")

const defaultBaseUrl = "https://sheets.googleapis.com"

type Client struct {
	http *resty.Client
}

type ClientOptions struct {
	// OAuth bearer token of the service account
	AccessToken string
	// BaseUrl overrides the production API host, used by tests
	BaseUrl string
}

func NewClient(opts ClientOptions) *Client {
	baseUrl := opts.BaseUrl
	if baseUrl == "" {
		baseUrl = defaultBaseUrl
	}

	client := resty.New()
	client.SetBaseURL(baseUrl)
	client.SetAuthToken(opts.AccessToken)
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "lib/sheets/http")

	return &Client{http: client}
}

func (c *Client) expectOK(res *resty.Response, what string) error {
	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s returned status %d: %s", what, res.StatusCode(), res.String())
	}
	return nil
}

type valueRange struct {
	Values [][]string `json:"values"`
}

// ReadAll returns every row of a worksheet.
func (c *Client) ReadAll(ctx context.Context, spreadsheetId, worksheet string) ([][]string, error) {
	ctx, span := tracer.Start(ctx, "client:ReadAll")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf(
			"/v4/spreadsheets/%s/values/%s",
			spreadsheetId, url.PathEscape(worksheet),
		))
	if err != nil {
		return nil, err
	}
	if err := c.expectOK(res, "values read"); err != nil {
		return nil, err
	}

	var out valueRange
	err = json.Unmarshal(res.Body(), &out)
	if err != nil {
		return nil, err
	}
	return out.Values, nil
}

// Clear wipes every value in a worksheet, leaving the worksheet
// itself in place.
func (c *Client) Clear(ctx context.Context, spreadsheetId, worksheet string) error {
	ctx, span := tracer.Start(ctx, "client:Clear")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf(
			"/v4/spreadsheets/%s/values/%s:clear",
			spreadsheetId, url.PathEscape(worksheet),
		))
	if err != nil {
		return err
	}
	return c.expectOK(res, "values clear")
}

// AppendRows appends rows after the last non-empty row of the
// worksheet.
func (c *Client) AppendRows(ctx context.Context, spreadsheetId, worksheet string, rows [][]string) error {
	ctx, span := tracer.Start(ctx, "client:AppendRows")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("valueInputOption", "USER_ENTERED").
		SetBody(valueRange{Values: rows}).
		Post(fmt.Sprintf(
			"/v4/spreadsheets/%s/values/%s:append",
			spreadsheetId, url.PathEscape(worksheet),
		))
	if err != nil {
		return err
	}
	return c.expectOK(res, "values append")
}

// UpdateCell overwrites a single cell, addressed in A1 notation.
func (c *Client) UpdateCell(ctx context.Context, spreadsheetId, worksheet, cell, value string) error {
	ctx, span := tracer.Start(ctx, "client:UpdateCell")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("valueInputOption", "USER_ENTERED").
		SetBody(valueRange{Values: [][]string{{value}}}).
		Put(fmt.Sprintf(
			"/v4/spreadsheets/%s/values/%s!%s",
			spreadsheetId, url.PathEscape(worksheet), cell,
		))
	if err != nil {
		return err
	}
	return c.expectOK(res, "cell update")
}

type gridProperties struct {
	RowCount    int64 `json:"rowCount"`
	ColumnCount int64 `json:"columnCount"`
}

type sheetProperties struct {
	Title          string         `json:"title"`
	GridProperties gridProperties `json:"gridProperties"`
}

type sheetMeta struct {
	Properties sheetProperties `json:"properties"`
}

type spreadsheetMeta struct {
	SpreadsheetId string      `json:"spreadsheetId"`
	Sheets        []sheetMeta `json:"sheets"`
}

// TotalCells returns the row*column product summed over every
// worksheet of a spreadsheet, the capacity measure the sink service
// enforces its hard limit on.
func (c *Client) TotalCells(ctx context.Context, spreadsheetId string) (int64, error) {
	ctx, span := tracer.Start(ctx, "client:TotalCells")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("fields", "sheets.properties").
		Get("/v4/spreadsheets/" + spreadsheetId)
	if err != nil {
		return 0, err
	}
	if err := c.expectOK(res, "spreadsheet metadata"); err != nil {
		return 0, err
	}

	var meta spreadsheetMeta
	err = json.Unmarshal(res.Body(), &meta)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, sheet := range meta.Sheets {
		total += sheet.Properties.GridProperties.RowCount * sheet.Properties.GridProperties.ColumnCount
	}
	return total, nil
}

// WorksheetSpec declares one worksheet of a new spreadsheet together
// with its canonical header row.
type WorksheetSpec struct {
	Title  string
	Header []string
}

// CreateSpreadsheet creates a new spreadsheet containing the given
// worksheets and writes each one's header row.
func (c *Client) CreateSpreadsheet(ctx context.Context, title string, worksheets []WorksheetSpec) (string, error) {
	ctx, span := tracer.Start(ctx, "client:CreateSpreadsheet")
	defer span.End()

	sheetsBody := make([]map[string]any, len(worksheets))
	for i, ws := range worksheets {
		sheetsBody[i] = map[string]any{
			"properties": map[string]any{"title": ws.Title},
		}
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"properties": map[string]any{"title": title},
			"sheets":     sheetsBody,
		}).
		Post("/v4/spreadsheets")
	if err != nil {
		return "", err
	}
	if err := c.expectOK(res, "spreadsheet create"); err != nil {
		return "", err
	}

	var meta spreadsheetMeta
	err = json.Unmarshal(res.Body(), &meta)
	if err != nil {
		return "", err
	}
	if meta.SpreadsheetId == "" {
		return "", fmt.Errorf("spreadsheet create returned no id")
	}

	for _, ws := range worksheets {
		err := c.AppendRows(ctx, meta.SpreadsheetId, ws.Title, [][]string{ws.Header})
		if err != nil {
			return "", err
		}
	}
	return meta.SpreadsheetId, nil
}
