package replicate

import (
	"sort"
	"time"

	"github.com/reddmonchick/VisaScraper/lib/textutil"
	"github.com/reddmonchick/VisaScraper/services/records"
)

const (
	WorksheetBatch   = "Batch Application"
	WorksheetManager = "Batch Application(Manager)"
	WorksheetPermits = "StayPermit"
)

var batchHeader = []string{
	"Batch No", "Register Number", "Full Name", "Visa Number", "Passport Number",
	"Payment Date", "Visa Type", "Status", "Last Status", "Document", "Account",
}

// the manager view carries the extra identity column
var managerHeader = []string{
	"Batch No", "Register Number", "Full Name", "Birth Date", "Visa Number",
	"Passport Number", "Payment Date", "Visa Type", "Status", "Last Status",
	"Document", "Account",
}

var permitHeader = []string{
	"Register Number", "Full Name", "Type of Stay", "Visa Type", "Passport Number",
	"Arrival Date", "Issue Date", "Expired Date", "Status", "Last Status",
	"Document", "Account",
}

func batchRow(outcome records.BatchOutcome) []string {
	r := outcome.Record
	return []string{
		r.BatchNo, r.RegisterNumber, r.FullName, r.VisaNumber, r.PassportNumber,
		r.PaymentDate, r.VisaType, r.Status, outcome.LastStatus, r.ArtifactLink, r.Account,
	}
}

func managerRow(outcome records.BatchOutcome) []string {
	r := outcome.Record
	return []string{
		r.BatchNo, r.RegisterNumber, r.FullName, r.BirthDate, r.VisaNumber,
		r.PassportNumber, r.PaymentDate, r.VisaType, r.Status, outcome.LastStatus,
		r.ArtifactLink, r.Account,
	}
}

func permitRow(outcome records.PermitOutcome) []string {
	r := outcome.Record
	return []string{
		r.RegisterNumber, r.FullName, r.TypeOfStay, r.VisaType, r.PassportNumber,
		r.ArrivalDate, r.IssueDate, r.ExpiredDate, r.Status, outcome.LastStatus,
		r.ArtifactLink, r.Account,
	}
}

// sortByDateDesc orders rows newest first on the date held in column
// dateCol. Rows whose date fits no known format sink to the bottom,
// keeping their relative order.
func sortByDateDesc(rows [][]string, dateCol int) {
	sort.SliceStable(rows, func(i, j int) bool {
		iDate, iOk := cellDate(rows[i], dateCol)
		jDate, jOk := cellDate(rows[j], dateCol)
		if iOk != jOk {
			return iOk
		}
		if !iOk {
			return false
		}
		return iDate.After(jDate)
	})
}

func cellDate(row []string, col int) (time.Time, bool) {
	if col >= len(row) {
		return time.Time{}, false
	}
	return textutil.ParseDate(row[col])
}
