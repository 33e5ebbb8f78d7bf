package formutil

import (
	"bytes"
	"fmt"

	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// ParseError marks upstream HTML that could not be interpreted at all
// (empty body, unreadable markup). A well-formed page that simply lacks
// the requested element is not a ParseError, it yields an empty result.
type ParseError struct {
	Op  string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Op, e.Err.Error())
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errEmptyBody = fmt.Errorf("empty response body")

func Document(body []byte) (*goquery.Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, &ParseError{Op: "document", Err: errEmptyBody}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &ParseError{Op: "document", Err: err}
	}
	return doc, nil
}

// Fields returns the input name -> default value mapping of the first
// non-empty form matching `selector` ("form" when empty). A page with no
// matching form returns an empty map and no error.
func Fields(body []byte, selector string) (map[string]string, error) {
	doc, err := Document(body)
	if err != nil {
		return nil, err
	}
	return FieldsFromDoc(doc, selector), nil
}

func FieldsFromDoc(doc *goquery.Document, selector string) map[string]string {
	if selector == "" {
		selector = "form"
	}

	fields := map[string]string{}
	doc.Find(selector).EachWithBreak(func(_ int, form *goquery.Selection) bool {
		inputs := form.Find("input")
		if inputs.Length() == 0 {
			return true
		}
		inputs.Each(func(_ int, input *goquery.Selection) {
			name, ok := input.Attr("name")
			if !ok || name == "" {
				return
			}
			fields[name] = input.AttrOr("value", "")
		})
		// only the first non-empty form counts
		return false
	})
	return fields
}

type Option struct {
	Value string
	Label string
}

// Options returns the (value, label) pairs of the first element matching
// `selector`, in document order. A missing element yields a nil slice and
// no error.
func Options(body []byte, selector string) ([]Option, error) {
	doc, err := Document(body)
	if err != nil {
		return nil, err
	}
	return OptionsFromDoc(doc, selector), nil
}

func OptionsFromDoc(doc *goquery.Document, selector string) []Option {
	var options []Option
	doc.Find(selector).First().Find("option").Each(func(_ int, opt *goquery.Selection) {
		value := opt.AttrOr("value", "")
		label := htmlutil.SelectionText(opt)
		options = append(options, Option{Value: value, Label: label})
	})
	return options
}
