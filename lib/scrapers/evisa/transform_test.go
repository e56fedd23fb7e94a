package evisa

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransformBatchItem(t *testing.T) {
	item := RawBatchItem{
		HeaderCode:     " B-2024\n",
		RegisterNumber: "2087GB0424-0001",
		FullName:       "JOHN DOE",
		RequestCode:    "VV-123",
		PassportNumber: "A1234567",
		PaidDate:       "28-03-2025",
		VisaType:       "C1",
		Status:         `<span class="badge">Pending</span>`,
	}

	record, err := TransformBatchItem(item, "account-a")
	require.NoError(t, err)
	require.Equal(t, "B-2024", record.BatchNo)
	require.Equal(t, "2087GB0424-0001", record.RegisterNumber)
	require.Equal(t, "Pending", record.Status)
	require.Equal(t, "28-03-2025", record.PaymentDate)
	require.Equal(t, "account-a", record.Account)
	require.Empty(t, record.ArtifactLink)
}

func TestTransformBatchItemDefaults(t *testing.T) {
	record, err := TransformBatchItem(RawBatchItem{
		RegisterNumber: "X-1",
		PaidDate:       " - ",
	}, "account-a")
	require.NoError(t, err)
	require.Empty(t, record.PaymentDate)
	require.Empty(t, record.Status)
	require.Empty(t, record.FullName)
}

func TestTransformBatchItemMissingKey(t *testing.T) {
	_, err := TransformBatchItem(RawBatchItem{FullName: "NO KEY"}, "account-a")
	require.ErrorIs(t, err, ErrRecordShape)
}

func TestTransformStayPermitItem(t *testing.T) {
	item := RawStayPermitItem{
		RegisterNumber: `<a href='/front/stay-permit/detail/9'>2087GB0424-0002</a>`,
		FullName:       "JANE DOE",
		TypeOfStay:     "ITK",
		TypeOfVisa:     "C2",
		StartDate:      "2025-01-01",
		IssueDate:      "2025-01-05",
		ExpiredDate:    "2025-07-05",
		PassportNumber: "B7654321",
		Status:         `<span>Approved</span>`,
	}

	record, err := TransformStayPermitItem(item, "account-b")
	require.NoError(t, err)
	require.Equal(t, "2087GB0424-0002", record.RegisterNumber)
	require.Equal(t, "Approved", record.Status)
	require.Equal(t, "ITK", record.TypeOfStay)
	require.Equal(t, "account-b", record.Account)

	// a plain-text cell works too
	record, err = TransformStayPermitItem(RawStayPermitItem{RegisterNumber: "PLAIN-1"}, "account-b")
	require.NoError(t, err)
	require.Equal(t, "PLAIN-1", record.RegisterNumber)

	_, err = TransformStayPermitItem(RawStayPermitItem{}, "account-b")
	require.ErrorIs(t, err, ErrRecordShape)
}

func TestPrintLink(t *testing.T) {
	client, err := NewClient(ClientOptions{BaseUrl: "https://portal.example.com"})
	require.NoError(t, err)

	withPrint := RawBatchItem{Actions: `
		<a class="btn btn-sm btn-primary" href="/web/batch/detail/42">Detail</a>
		<a class="fw-bold btn btn-sm btn-outline-info btn-back" href="/web/batch/42/print">Print</a>`}
	require.Equal(t, "https://portal.example.com/web/batch/42/print", client.PrintLink(withPrint))
	require.Equal(t, "https://portal.example.com/web/batch/detail/42", client.DetailLink(withPrint))

	// a download action that is not a print endpoint yields no artifact
	noPrint := RawBatchItem{Actions: `<a class="fw-bold btn btn-sm btn-outline-info btn-back" href="/web/batch/42/edit">Edit</a>`}
	require.Empty(t, client.PrintLink(noPrint))

	require.Empty(t, client.PrintLink(RawBatchItem{}))
}

func TestExtractBirthDate(t *testing.T) {
	page := `<div><label>Date of Birth</label><p><small>12/05/1990</small></p></div>`
	require.Equal(t, "12/05/1990", extractBirthDate(page))
	require.Empty(t, extractBirthDate("<div>nothing relevant</div>"))
}
