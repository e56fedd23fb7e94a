package evisa

import (
	"fmt"
	"strings"

	"github.com/reddmonchick/VisaScraper/lib/htmlutil"
	"github.com/reddmonchick/VisaScraper/lib/textutil"
)

// BatchRecord is a normalized batch application. Identity is the
// externally issued register number.
type BatchRecord struct {
	BatchNo        string
	RegisterNumber string
	FullName       string
	VisaNumber     string
	PassportNumber string
	PaymentDate    string
	VisaType       string
	Status         string
	ArtifactLink   string
	Account        string
	BirthDate      string
}

// PermitRecord is a normalized stay permit. Identity is the
// registration number.
type PermitRecord struct {
	RegisterNumber string
	FullName       string
	TypeOfStay     string
	VisaType       string
	PassportNumber string
	ArrivalDate    string
	IssueDate      string
	ExpiredDate    string
	Status         string
	ArtifactLink   string
	Account        string
}

// TransformBatchItem maps one raw datatable row into a BatchRecord.
// Missing fields default to empty, only a missing natural key makes
// the item unusable.
func TransformBatchItem(item RawBatchItem, account string) (BatchRecord, error) {
	registerNumber := strings.TrimSpace(item.RegisterNumber)
	if registerNumber == "" {
		return BatchRecord{}, fmt.Errorf("%w: batch item has no register number", ErrRecordShape)
	}

	paymentDate := strings.TrimSpace(item.PaidDate)
	if paymentDate == "-" {
		paymentDate = ""
	}

	return BatchRecord{
		BatchNo:        strings.ReplaceAll(strings.TrimSpace(item.HeaderCode), "\n", ""),
		RegisterNumber: registerNumber,
		FullName:       item.FullName,
		VisaNumber:     item.RequestCode,
		PassportNumber: textutil.NormalizePassport(item.PassportNumber),
		PaymentDate:    paymentDate,
		VisaType:       item.VisaType,
		Status:         htmlutil.FirstSpanText(item.Status),
		Account:        account,
	}, nil
}

// TransformStayPermitItem maps one raw stay permit row into a
// PermitRecord.
func TransformStayPermitItem(item RawStayPermitItem, account string) (PermitRecord, error) {
	// the register number cell is an anchor into the detail page
	registerNumber := strings.TrimSpace(htmlutil.FirstAnchorText(item.RegisterNumber))
	if registerNumber == "" {
		return PermitRecord{}, fmt.Errorf("%w: stay permit item has no registration number", ErrRecordShape)
	}

	return PermitRecord{
		RegisterNumber: registerNumber,
		FullName:       item.FullName,
		TypeOfStay:     item.TypeOfStay,
		VisaType:       item.TypeOfVisa,
		PassportNumber: textutil.NormalizePassport(item.PassportNumber),
		ArrivalDate:    item.StartDate,
		IssueDate:      item.IssueDate,
		ExpiredDate:    item.ExpiredDate,
		Status:         htmlutil.FirstSpanText(item.Status),
		Account:        account,
	}, nil
}

// PrintLink resolves the printable-document href of a batch row, empty
// when the row carries no print action.
func (c *Client) PrintLink(item RawBatchItem) string {
	href := htmlutil.AnchorHref(item.Actions, "btn-outline-info", "btn-back")
	if href == "" {
		return ""
	}
	parts := strings.Split(href, "/")
	if parts[len(parts)-1] != "print" {
		return ""
	}
	return c.Absolute(href)
}

// DetailLink resolves the detail-page href of a batch row.
func (c *Client) DetailLink(item RawBatchItem) string {
	return c.Absolute(htmlutil.AnchorHref(item.Actions, "btn-primary"))
}

// PermitPrintLink resolves the printable-document href of a stay
// permit row.
func (c *Client) PermitPrintLink(item RawStayPermitItem) string {
	return c.Absolute(htmlutil.AnchorHref(item.Action, "btn-outline-info"))
}

// extractBirthDate pulls the date of birth out of a detail page. The
// page is large and its layout shifts, the one stable marker is a
// "Date of Birth" label followed by a <small> value.
func extractBirthDate(page string) string {
	_, after, found := strings.Cut(page, "Date of Birth")
	if !found {
		return ""
	}
	value, _, found := strings.Cut(after, "</small")
	if !found {
		return ""
	}
	idx := strings.LastIndex(value, "<small>")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(value[idx+len("<small>"):])
}
