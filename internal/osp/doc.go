// Package osp implements the wire side of the Open Scanner Protocol.
//
// A request is a single XML document whose root element names the command.
// Every request is answered with exactly one response envelope:
//
//	<{command}_response status="{code}" status_text="{text}">{body}</{command}_response>
//
// # Main Components
//
// ## Parsing
//
//   - Element: generic parsed XML element (name, attributes, text, children)
//   - Parse: decode one request document
//   - Complete: report whether buffered bytes already hold a closed request
//
// ## Rendering
//
//   - RenderResponse, RenderError: response envelopes
//   - RenderTree: typed recursive value (Text, Tree, List) to nested tags
//   - RenderResult, RenderScan: scan listings for get_scans
//
// ## Command Table
//
//   - Commands: command metadata used for dispatch validation and help output
//   - DefaultCommands: the commands every daemon serves
package osp
