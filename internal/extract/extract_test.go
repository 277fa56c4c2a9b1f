package extract

import (
	"strings"
	"testing"

	"codenerd/internal/store"

	"github.com/stretchr/testify/require"
)

func TestExtractHTML_HeadingsAndFragments(t *testing.T) {
	long := strings.Repeat("word ", 30) // well over MinFragmentLength
	body := `<html><head><title>Doc</title></head><body>
		<h1>Intro</h1>
		<p>` + long + `</p>
		<h2>Details</h2>
		<p>` + long + `</p>
		<ul><li>` + long + `</li></ul>
	</body></html>`

	res, err := Extract([]byte(body), "text/html")
	require.NoError(t, err)
	require.NotEmpty(t, res.Fragments)
	require.Equal(t, "und", res.Language) // filler text carries no stopwords
	require.Len(t, res.HeadingHierarchy, 2)

	var sawHeading, sawParagraph, sawList bool
	for _, f := range res.Fragments {
		switch f.FragmentType {
		case store.FragmentHeading:
			sawHeading = true
		case store.FragmentParagraph:
			sawParagraph = true
		case store.FragmentList:
			sawList = true
			require.Contains(t, f.HeadingContext, "Details")
		}
	}
	require.False(t, sawHeading) // headings are shorter than MinFragmentLength
	require.True(t, sawParagraph)
	require.True(t, sawList)
}

func TestExtractHTML_DropsShortFragments(t *testing.T) {
	body := `<html><body><p>too short</p></body></html>`
	res, err := Extract([]byte(body), "text/html")
	require.NoError(t, err)
	require.Empty(t, res.Fragments)
}

func TestExtractHTML_SkipsBoilerplateSubtrees(t *testing.T) {
	long := strings.Repeat("word ", 30)
	body := `<html><body>
		<nav><p>` + long + `</p></nav>
		<script>var x = "` + long + `";</script>
		<article><p>` + long + `</p></article>
	</body></html>`

	res, err := Extract([]byte(body), "text/html")
	require.NoError(t, err)
	require.Len(t, res.Fragments, 1)
}

func TestExtractHTML_StripsMarkdownLinkResidue(t *testing.T) {
	long := strings.Repeat("word ", 30)
	body := `<html><body><p>[click here](https://example.com) ` + long + `</p></body></html>`
	res, err := Extract([]byte(body), "text/html")
	require.NoError(t, err)
	require.Len(t, res.Fragments, 1)
	require.NotContains(t, res.Fragments[0].TextContent, "https://example.com")
	require.Contains(t, res.Fragments[0].TextContent, "click here")
}

func TestExtractPDF_RecoversShowTextOperators(t *testing.T) {
	long := strings.Repeat("word ", 30)
	pdf := []byte(`BT /F1 12 Tf (` + long + `) Tj ET`)
	res, err := Extract(pdf, "application/pdf")
	require.NoError(t, err)
	require.Len(t, res.Fragments, 1)
	require.Contains(t, res.Text, "word")
}

func TestNormalizeTextCollapsesWhitespace(t *testing.T) {
	require.Equal(t, "a b c", normalizeText("a   b\n\tc"))
}
