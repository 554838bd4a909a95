package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestGetText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div><span>8:00</span> - <span>8:30</span></div>`,
	))
	require.NoError(t, err)

	sel := doc.Find("div")
	require.Equal(t, 1, len(sel.Nodes))
	require.Equal(t, "8:00 - 8:30", GetText(sel.Nodes[0]))
}

func TestNormalizeText(t *testing.T) {
	require.Equal(t, "Jeremy Mayo", NormalizeText("  Jeremy\n\t  Mayo "))
	require.Equal(t, "a b", NormalizeText("a     b"))
}
