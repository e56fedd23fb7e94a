package evisa

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// the portal pages its datatables by a raw row offset; these mirror
// the step the web frontend itself uses
const (
	batchPageStep = 850
	stayPageStep  = 1250
)

// RawBatchItem is one row of the batch application datatable, fields
// still carrying whatever markup the portal embeds in them.
type RawBatchItem struct {
	HeaderCode     string `json:"header_code"`
	RegisterNumber string `json:"register_number"`
	FullName       string `json:"full_name"`
	RequestCode    string `json:"request_code"`
	PassportNumber string `json:"passport_number"`
	PaidDate       string `json:"paid_date"`
	VisaType       string `json:"visa_type"`
	Status         string `json:"status"`
	Actions        string `json:"actions"`
}

// RawStayPermitItem is one row of the stay permit datatable.
type RawStayPermitItem struct {
	RegisterNumber string `json:"register_number"`
	FullName       string `json:"full_name"`
	TypeOfStay     string `json:"type_of_staypermit"`
	TypeOfVisa     string `json:"type_of_visa"`
	StartDate      string `json:"start_date"`
	IssueDate      string `json:"issue_date"`
	ExpiredDate    string `json:"expired_date"`
	PassportNumber string `json:"passport_number"`
	Status         string `json:"status"`
	Action         string `json:"action"`
}

type dataEnvelope[T any] struct {
	Data []T `json:"data"`
}

func decodePage[T any](body []byte) ([]T, error) {
	var envelope dataEnvelope[T]
	err := json.Unmarshal(body, &envelope)
	if err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// FetchBatchPage retrieves one offset's worth of batch application
// rows. An empty slice means the data ran out.
func (c *Client) FetchBatchPage(ctx context.Context, token string, offset int) ([]RawBatchItem, error) {
	ctx, span := tracer.Start(ctx, "client:FetchBatchPage")
	defer span.End()
	span.SetAttributes(attribute.Int("offset", offset))

	res, err := c.Http.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: sessionCookie, Value: token}).
		SetHeader("accept", "application/json").
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetFormData(map[string]string{
			"draw":          "1",
			"start":         strconv.Itoa(offset),
			"length":        "100000",
			"search[value]": "",
			"search[regex]": "false",
		}).
		Post("/web/applications/batch/data")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch data request failed")
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		err := fmt.Errorf("%w: batch data endpoint returned status %d", ErrTransientFetch, res.StatusCode())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return decodePage[RawBatchItem](res.Body())
}

// FetchStayPermitPage retrieves one offset's worth of stay permit rows.
func (c *Client) FetchStayPermitPage(ctx context.Context, token string, offset int) ([]RawStayPermitItem, error) {
	ctx, span := tracer.Start(ctx, "client:FetchStayPermitPage")
	defer span.End()
	span.SetAttributes(attribute.Int("offset", offset))

	res, err := c.Http.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: sessionCookie, Value: token}).
		SetHeader("accept", "application/json, text/javascript, */*; q=0.01").
		SetHeader("x-requested-with", "XMLHttpRequest").
		SetQueryParams(map[string]string{
			"draw":          "1",
			"start":         strconv.Itoa(offset),
			"length":        "100000000",
			"search[value]": "",
			"search[regex]": "false",
			"_":             strconv.FormatInt(time.Now().UnixMilli(), 10),
		}).
		Get("/front/applications/stay-permit/data")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "stay permit data request failed")
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		err := fmt.Errorf("%w: stay permit data endpoint returned status %d", ErrTransientFetch, res.StatusCode())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return decodePage[RawStayPermitItem](res.Body())
}

// FetchAllBatch walks the batch datatable offset by offset until the
// source returns an empty page, which is the sole termination
// condition.
func (c *Client) FetchAllBatch(ctx context.Context, token string) ([]RawBatchItem, error) {
	var all []RawBatchItem
	for offset := 0; ; offset += batchPageStep {
		page, err := c.FetchBatchPage(ctx, token, offset)
		if err != nil {
			return all, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
	}
}

// FetchAllStayPermits walks the stay permit datatable until an empty
// page.
func (c *Client) FetchAllStayPermits(ctx context.Context, token string) ([]RawStayPermitItem, error) {
	var all []RawStayPermitItem
	for offset := 0; ; offset += stayPageStep {
		page, err := c.FetchStayPermitPage(ctx, token, offset)
		if err != nil {
			return all, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
	}
}

// DownloadArtifact fetches a print document over the authenticated
// session and returns its raw bytes.
func (c *Client) DownloadArtifact(ctx context.Context, token, link string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "client:DownloadArtifact")
	defer span.End()

	res, err := c.Http.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: sessionCookie, Value: token}).
		Get(link)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "artifact request failed")
		return nil, err
	}
	if res.StatusCode() != http.StatusOK {
		err := fmt.Errorf("artifact endpoint returned status %d", res.StatusCode())
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return res.Body(), nil
}

// FetchBirthDate scrapes the date of birth off an application's detail
// page. A failure here only costs the single field.
func (c *Client) FetchBirthDate(ctx context.Context, token, detailLink string) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchBirthDate")
	defer span.End()

	if detailLink == "" {
		return "", nil
	}
	res, err := c.Http.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: sessionCookie, Value: token}).
		Get(detailLink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "detail page request failed")
		return "", err
	}
	return extractBirthDate(res.String()), nil
}
