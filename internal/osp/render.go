package osp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anstrom/ospd/internal/scan"
)

// Escaping follows the protocol's historical rules: element text keeps
// whitespace verbatim, attribute values also escape the double quote.
var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

// EscapeText escapes s for use as element content.
func EscapeText(s string) string {
	return textEscaper.Replace(s)
}

// EscapeAttr escapes s for use inside a double-quoted attribute.
func EscapeAttr(s string) string {
	return attrEscaper.Replace(s)
}

// RenderResponse wraps body in the response envelope of command. body must
// already be serialized XML. An empty command or status text, or a zero
// status, is a programming error and panics.
func RenderResponse(command string, status int, statusText string, body []byte) []byte {
	if command == "" || status == 0 || statusText == "" {
		panic(fmt.Sprintf("osp: invalid response envelope (command=%q status=%d status_text=%q)",
			command, status, statusText))
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 2*len(command) + len(statusText) + 48)
	fmt.Fprintf(&buf, `<%s_response status="%d" status_text="%s">`, command, status, EscapeAttr(statusText))
	buf.Write(body)
	fmt.Fprintf(&buf, "</%s_response>", command)
	return buf.Bytes()
}

// RenderError renders an error envelope carrying message as status text.
func RenderError(command string, status int, message string) []byte {
	return RenderResponse(command, status, message, nil)
}

// Value is a node of a render tree: Text, Tree, List or nil.
type Value interface {
	isValue()
}

// Text renders as escaped element content.
type Text string

// List renders as its items joined by ", ".
type List []string

// Tree renders as a sequence of nested elements, in order.
type Tree []Entry

func (Text) isValue() {}
func (List) isValue() {}
func (Tree) isValue() {}

// Attr is an attribute of a rendered element.
type Attr struct {
	Name  string
	Value string
}

// Entry is one element of a Tree. A nil Value renders an empty element.
type Entry struct {
	Name  string
	Attrs []Attr
	Value Value
}

// RenderTree serializes t into nested tags.
func RenderTree(t Tree) []byte {
	var buf bytes.Buffer
	writeTree(&buf, t)
	return buf.Bytes()
}

func writeTree(buf *bytes.Buffer, t Tree) {
	for _, e := range t {
		buf.WriteByte('<')
		buf.WriteString(e.Name)
		for _, a := range e.Attrs {
			fmt.Fprintf(buf, ` %s="%s"`, a.Name, EscapeAttr(a.Value))
		}
		buf.WriteByte('>')

		switch v := e.Value.(type) {
		case Text:
			buf.WriteString(EscapeText(string(v)))
		case List:
			buf.WriteString(EscapeText(strings.Join(v, ", ")))
		case Tree:
			writeTree(buf, v)
		case nil:
		default:
			panic(fmt.Sprintf("osp: unsupported tree value %T", v))
		}

		buf.WriteString("</")
		buf.WriteString(e.Name)
		buf.WriteByte('>')
	}
}

// ResultEntry converts a scan result to its tree entry.
func ResultEntry(r scan.Result) Entry {
	return Entry{
		Name: "result",
		Attrs: []Attr{
			{Name: "name", Value: r.Name},
			{Name: "type", Value: r.Type.String()},
			{Name: "severity", Value: r.Severity},
		},
		Value: Text(r.Value),
	}
}

// RenderResult serializes a single scan result.
func RenderResult(r scan.Result) []byte {
	return RenderTree(Tree{ResultEntry(r)})
}

// ScanEntry converts a scan snapshot to its tree entry. Without details the
// scan element is empty.
func ScanEntry(s scan.Snapshot, detailed bool) Entry {
	e := Entry{
		Name: "scan",
		Attrs: []Attr{
			{Name: "id", Value: s.ID},
			{Name: "target", Value: s.Target},
			{Name: "progress", Value: strconv.Itoa(s.Progress)},
			{Name: "start_time", Value: FormatTime(s.StartTime)},
			{Name: "end_time", Value: FormatTime(s.EndTime)},
		},
	}
	if detailed {
		results := make(Tree, 0, len(s.Results))
		for _, r := range s.Results {
			results = append(results, ResultEntry(r))
		}
		e.Value = Tree{{Name: "results", Value: results}}
	}
	return e
}

// RenderScan serializes a scan snapshot.
func RenderScan(s scan.Snapshot, detailed bool) []byte {
	return RenderTree(Tree{ScanEntry(s, detailed)})
}

// FormatTime renders t as Unix seconds, "0" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}
