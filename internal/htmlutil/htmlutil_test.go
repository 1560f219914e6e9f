package htmlutil

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func TestGetText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<div id="buy"> <span>Add</span> to <b>Cart</b><script>var x = "hidden"</script></div>`,
	))
	require.NoError(t, err)

	node := doc.Find("#buy").Nodes[0]
	require.Equal(t, " Add to Cart", GetText(node))
	require.Equal(t, "", GetText(nil))
}
