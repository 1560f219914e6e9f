package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"restock-monitor/internal/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// ErrSelectorNotFound means the selector matched nothing in the page. This is a
// broken product configuration (or a changed page layout), never a signal that the
// product is out of stock.
var ErrSelectorNotFound = errors.New("selector not found")

// ExtractionError is returned when a stock signal cannot be read from a page.
type ExtractionError struct {
	Selector string
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract '%s': %v", e.Selector, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// ValidateSelector reports whether selector is a usable css selector.
func ValidateSelector(selector string) error {
	if strings.TrimSpace(selector) == "" {
		return fmt.Errorf("selector is empty")
	}
	_, err := cascadia.Compile(selector)
	return err
}

// Extract reports whether content is in stock, that is whether the first element
// matching selector contains marker as a case sensitive substring of its text.
// Attributes are never consulted, a sold out badge may well carry the marker in
// its class.
func Extract(content []byte, selector, marker string) (bool, error) {
	compiled, err := cascadia.Compile(selector)
	if err != nil {
		return false, &ExtractionError{Selector: selector, Err: fmt.Errorf("invalid selector: %w", err)}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return false, &ExtractionError{Selector: selector, Err: fmt.Errorf("parse content: %w", err)}
	}

	match := doc.FindMatcher(compiled).First()
	if match.Length() == 0 {
		return false, &ExtractionError{Selector: selector, Err: ErrSelectorNotFound}
	}
	return strings.Contains(htmlutil.GetText(match.Nodes[0]), marker), nil
}
