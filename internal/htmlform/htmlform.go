// Package htmlform extracts forms and named inputs from the intermediate
// HTML pages of the federation login chain. The scraping tolerates attribute
// ordering and whitespace differences but fails loudly when an expected form
// or input is absent, since that signals a changed upstream login page.
package htmlform

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ErrNoForm is returned when a page contains no <form> element.
var ErrNoForm = errors.New("htmlform: no form found in page")

// ErrNoAction is returned when the first form has no usable action attribute.
var ErrNoAction = errors.New("htmlform: form has no action attribute")

// Form is the first form of a page: its action URL and the name/value pairs
// of every named input, hidden or otherwise.
type Form struct {
	Action string
	Fields map[string]string
}

// FirstForm parses body and returns the first form with its input fields.
func FirstForm(body string) (*Form, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("htmlform: parse page: %w", err)
	}
	node := findElement(root, "form")
	if node == nil {
		return nil, ErrNoForm
	}
	action := attr(node, "action")
	if action == "" {
		return nil, ErrNoAction
	}
	form := &Form{Action: action, Fields: map[string]string{}}
	collectInputs(node, form.Fields)
	return form, nil
}

// InputValue returns the value of the first <input> anywhere in body whose
// name attribute equals name. Absence of the input is an error; the caller
// is expecting a field the login page contract guarantees.
func InputValue(body, name string) (string, error) {
	root, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("htmlform: parse page: %w", err)
	}
	value, found := findInput(root, name)
	if !found {
		return "", fmt.Errorf("htmlform: no input named %q in page", name)
	}
	return value, nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectInputs(n *html.Node, fields map[string]string) {
	if n.Type == html.ElementNode && n.Data == "input" {
		if name := attr(n, "name"); name != "" {
			fields[name] = attr(n, "value")
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectInputs(c, fields)
	}
}

func findInput(n *html.Node, name string) (string, bool) {
	if n.Type == html.ElementNode && n.Data == "input" && attr(n, "name") == name {
		return attr(n, "value"), true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if value, found := findInput(c, name); found {
			return value, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
