package osp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	ospderrors "github.com/anstrom/ospd/internal/errors"
)

// Element is a parsed XML element.
type Element struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Element
}

// Attr returns the named attribute and whether it was present.
func (e *Element) Attr(name string) (string, bool) {
	v, ok := e.Attrs[name]
	return v, ok
}

// Child returns the first child with the given name, or nil.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ChildMap maps child names to their text. Later duplicates win.
func (e *Element) ChildMap() map[string]string {
	out := make(map[string]string, len(e.Children))
	for _, c := range e.Children {
		out[c.Name] = c.Text
	}
	return out
}

// Parse decodes a single request document. Anything that is not exactly one
// well-formed root element is reported as a malformed request.
func Parse(data []byte) (*Element, error) {
	root, err := decode(data)
	if err != nil {
		return nil, ospderrors.ErrMalformedRequest(err)
	}
	return root, nil
}

// Complete reports whether data already holds a closed root element, or is
// broken in a way more bytes cannot repair. Readers that receive a request
// in chunks should feed a Framer instead.
func Complete(data []byte) bool {
	f := NewFramer()
	_, _ = f.Write(data)
	return f.Done()
}

var errNoRoot = errors.New("no root element")

func decode(data []byte) (*Element, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		root  *Element
		stack []*Element
		text  []*strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if root == nil {
				return nil, errNoRoot
			}
			if len(stack) > 0 {
				return nil, io.EOF
			}
			return root, nil
		}
		if err != nil {
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, fmt.Errorf("unexpected element <%s> after root", t.Name.Local)
			}
			el := &Element{
				Name:  t.Name.Local,
				Attrs: make(map[string]string, len(t.Attr)),
			}
			for _, a := range t.Attr {
				el.Attrs[a.Name.Local] = a.Value
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			} else {
				root = el
			}
			stack = append(stack, el)
			text = append(text, &strings.Builder{})

		case xml.EndElement:
			top := len(stack) - 1
			stack[top].Text = strings.TrimSpace(text[top].String())
			stack = stack[:top]
			text = text[:top]
			if len(stack) == 0 {
				// The request is framed by the root element; trailing
				// bytes must be whitespace only.
				if err := trailing(dec); err != nil {
					return nil, err
				}
				return root, nil
			}

		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, errors.New("character data outside root element")
				}
				continue
			}
			text[len(text)-1].Write(t)
		}
	}
}

func trailing(dec *xml.Decoder) error {
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.CharData:
			if len(bytes.TrimSpace(t)) > 0 {
				return errors.New("character data after root element")
			}
		case xml.Comment, xml.ProcInst:
		default:
			return errors.New("content after root element")
		}
	}
}
