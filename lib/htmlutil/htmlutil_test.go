package htmlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFirstSpanText(t *testing.T) {
	cases := []struct {
		fragment string
		expect   string
	}{
		{`<span class="badge bg-success">Approved</span>`, "Approved"},
		{`<div><span> Pending </span><span>ignored</span></div>`, "Pending"},
		{`<div>no span here</div>`, ""},
		{``, ""},
	}
	for _, test := range cases {
		require.Equal(t, test.expect, FirstSpanText(test.fragment))
	}
}

func TestFirstAnchorText(t *testing.T) {
	require.Equal(t, "2087GB0424-0001",
		FirstAnchorText(`<a href='/front/stay-permit/detail'>2087GB0424-0001</a>`))
	// plain values pass through untouched
	require.Equal(t, "2087GB0424-0002", FirstAnchorText("2087GB0424-0002"))
	require.Equal(t, "", FirstAnchorText(""))
}

func TestAnchorHref(t *testing.T) {
	fragment := `
		<a class="btn btn-sm btn-primary" href="/web/batch/detail/42">Detail</a>
		<a class="fw-bold btn btn-sm btn-outline-info btn-back" href="/web/batch/42/print">Print</a>`

	require.Equal(t, "/web/batch/42/print",
		AnchorHref(fragment, "btn-outline-info", "btn-back"))
	require.Equal(t, "/web/batch/detail/42",
		AnchorHref(fragment, "btn-primary"))
	require.Equal(t, "", AnchorHref(fragment, "btn-danger"))
}
