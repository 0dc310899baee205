package osp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCommands(t *testing.T) {
	cmds := DefaultCommands()

	assert.Equal(t, []string{
		CmdStartScan, CmdHelp, CmdGetScans, CmdDeleteScan, CmdGetVersion, CmdGetScannerDetails,
	}, cmds.Names())

	for _, name := range cmds.Names() {
		assert.True(t, cmds.Exists(name), name)
	}
	assert.False(t, cmds.Exists("bogus_command"))
	assert.False(t, cmds.Exists(CmdAuthenticate))

	c, ok := cmds.Get(CmdDeleteScan)
	require.True(t, ok)
	assert.Equal(t, "Delete a finished scan.", c.Description)
	require.Len(t, c.Attributes, 1)
	assert.Equal(t, "scan_id", c.Attributes[0].Name)
}

func TestSetters(t *testing.T) {
	cmds := DefaultCommands()

	require.NoError(t, cmds.SetElements(CmdStartScan, []ElementSpec{
		{Name: "scanner_params", Children: []ElementSpec{
			{Name: "ports", Description: "Ports to scan"},
		}},
	}))
	require.NoError(t, cmds.SetAttributes(CmdGetVersion, []Field{{Name: "x", Description: "y"}}))

	assert.Error(t, cmds.SetElements("nope", nil))
	assert.Error(t, cmds.SetAttributes("nope", nil))

	c, _ := cmds.Get(CmdStartScan)
	require.Len(t, c.Elements, 1)
	assert.Equal(t, "ports", c.Elements[0].Children[0].Name)
}

func TestHelpText(t *testing.T) {
	cmds := NewCommands(
		Command{
			Name:        "start_scan",
			Description: "Start a new scan.",
			Attributes:  []Field{{Name: "target", Description: "Target host to scan"}},
			Elements: []ElementSpec{
				{Name: "scanner_params", Children: []ElementSpec{
					{Name: "ports", Description: "Ports to scan"},
				}},
			},
		},
		Command{Name: "get_version", Description: "Return various versions."},
	)

	want := "\n" +
		"\tstart_scan             Start a new scan.\n" +
		"\t Attributes:\n" +
		"\t  target                 Target host to scan\n" +
		"\t Elements:\n" +
		"\t  scanner_params         \n" +
		"\t    ports                  Ports to scan\n" +
		"\tget_version            Return various versions.\n"
	assert.Equal(t, want, cmds.HelpText())
}

func TestHelpTree(t *testing.T) {
	cmds := DefaultCommands()
	require.NoError(t, cmds.SetElements(CmdStartScan, []ElementSpec{
		{Name: "scanner_params", Children: []ElementSpec{
			{Name: "ports", Description: "Ports to scan"},
		}},
	}))

	out := string(RenderTree(cmds.HelpTree()))
	assert.True(t, strings.HasPrefix(out,
		`<start_scan><description>Start a new scan.</description>`+
			`<attributes><target>Target host to scan</target></attributes>`+
			`<elements><scanner_params><ports>Ports to scan</ports></scanner_params></elements>`+
			`</start_scan>`), out)
	assert.Contains(t, out,
		`<get_version><description>Return various versions.</description><attributes></attributes><elements></elements></get_version>`)

	// The XML help must itself be parseable once wrapped.
	root, err := Parse(RenderResponse(CmdHelp, 200, "OK", []byte(out)))
	require.NoError(t, err)
	assert.Len(t, root.Children, len(cmds.Names()))
}
