package osp

import (
	"fmt"
	"strings"
)

// Command names served by every daemon.
const (
	CmdStartScan         = "start_scan"
	CmdHelp              = "help"
	CmdGetScans          = "get_scans"
	CmdDeleteScan        = "delete_scan"
	CmdGetVersion        = "get_version"
	CmdGetScannerDetails = "get_scanner_details"

	// CmdAuthenticate is a legacy tag accepted as a no-op.
	CmdAuthenticate = "authenticate"
)

const helpColumn = 22

// Field describes a command attribute.
type Field struct {
	Name        string
	Description string
}

// ElementSpec describes a command sub-element. Elements with children are
// groups, e.g. scanner_params.
type ElementSpec struct {
	Name        string
	Description string
	Children    []ElementSpec
}

// Command is the metadata of one protocol command.
type Command struct {
	Name        string
	Description string
	Attributes  []Field
	Elements    []ElementSpec
}

// Commands is the command table. It is read-only once the daemon serves
// requests; the setters are meant for initialization.
type Commands struct {
	order []string
	cmds  map[string]*Command
}

// NewCommands builds a table from cmds, keeping their order.
func NewCommands(cmds ...Command) *Commands {
	t := &Commands{cmds: make(map[string]*Command, len(cmds))}
	for i := range cmds {
		c := cmds[i]
		if _, dup := t.cmds[c.Name]; !dup {
			t.order = append(t.order, c.Name)
		}
		t.cmds[c.Name] = &c
	}
	return t
}

// DefaultCommands returns the table of built-in commands.
func DefaultCommands() *Commands {
	return NewCommands(
		Command{
			Name:        CmdStartScan,
			Description: "Start a new scan.",
			Attributes: []Field{
				{Name: "target", Description: "Target host to scan"},
			},
		},
		Command{
			Name:        CmdHelp,
			Description: "Print the commands help.",
			Attributes: []Field{
				{Name: "format", Description: "Help format. Could be text or xml."},
			},
		},
		Command{
			Name:        CmdGetScans,
			Description: "List the scans in buffer.",
			Attributes: []Field{
				{Name: "scan_id", Description: "ID of a specific scan to get."},
				{Name: "details", Description: "Whether to return the full scan report."},
			},
		},
		Command{
			Name:        CmdDeleteScan,
			Description: "Delete a finished scan.",
			Attributes: []Field{
				{Name: "scan_id", Description: "ID of scan to delete."},
			},
		},
		Command{
			Name:        CmdGetVersion,
			Description: "Return various versions.",
		},
		Command{
			Name:        CmdGetScannerDetails,
			Description: "Return scanner description and parameters",
		},
	)
}

// Exists reports whether name is a known command.
func (t *Commands) Exists(name string) bool {
	_, ok := t.cmds[name]
	return ok
}

// Get returns a copy of the command metadata.
func (t *Commands) Get(name string) (Command, bool) {
	c, ok := t.cmds[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// Names returns the command names in table order.
func (t *Commands) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// SetAttributes replaces the attributes of a command.
func (t *Commands) SetAttributes(name string, attrs []Field) error {
	c, ok := t.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	c.Attributes = attrs
	return nil
}

// SetElements replaces the elements of a command.
func (t *Commands) SetElements(name string, elems []ElementSpec) error {
	c, ok := t.cmds[name]
	if !ok {
		return fmt.Errorf("unknown command %q", name)
	}
	c.Elements = elems
	return nil
}

// HelpText renders the table as an indented plain-text listing.
func (t *Commands) HelpText() string {
	var b strings.Builder
	b.WriteString("\n")
	for _, name := range t.order {
		c := t.cmds[name]
		fmt.Fprintf(&b, "\t%-*s %s\n", helpColumn, c.Name, c.Description)
		if len(c.Attributes) > 0 {
			b.WriteString("\t Attributes:\n")
			for _, a := range c.Attributes {
				fmt.Fprintf(&b, "\t  %-*s %s\n", helpColumn, a.Name, a.Description)
			}
		}
		if len(c.Elements) > 0 {
			b.WriteString("\t Elements:\n")
			writeElementsText(&b, c.Elements, 2)
		}
	}
	return b.String()
}

func writeElementsText(b *strings.Builder, elems []ElementSpec, indent int) {
	for _, e := range elems {
		fmt.Fprintf(b, "\t%s%-*s ", strings.Repeat(" ", indent), helpColumn, e.Name)
		if len(e.Children) > 0 {
			b.WriteString("\n")
			writeElementsText(b, e.Children, indent+2)
			continue
		}
		b.WriteString(e.Description)
		b.WriteString("\n")
	}
}

// HelpTree renders the table as a tree for the XML help format.
func (t *Commands) HelpTree() Tree {
	tree := make(Tree, 0, len(t.order))
	for _, name := range t.order {
		c := t.cmds[name]

		var attrs Value
		if len(c.Attributes) > 0 {
			at := make(Tree, 0, len(c.Attributes))
			for _, a := range c.Attributes {
				at = append(at, Entry{Name: a.Name, Value: Text(a.Description)})
			}
			attrs = at
		}

		var elems Value
		if len(c.Elements) > 0 {
			elems = elementsTree(c.Elements)
		}

		tree = append(tree, Entry{
			Name: c.Name,
			Value: Tree{
				{Name: "description", Value: Text(c.Description)},
				{Name: "attributes", Value: attrs},
				{Name: "elements", Value: elems},
			},
		})
	}
	return tree
}

func elementsTree(elems []ElementSpec) Tree {
	out := make(Tree, 0, len(elems))
	for _, e := range elems {
		if len(e.Children) > 0 {
			out = append(out, Entry{Name: e.Name, Value: elementsTree(e.Children)})
			continue
		}
		out = append(out, Entry{Name: e.Name, Value: Text(e.Description)})
	}
	return out
}
