package client

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"

	"github.com/anstrom/ospd/internal/osp"
)

// Versions is the answer to get_version.
type Versions struct {
	ProtocolName    string
	ProtocolVersion string
	DaemonName      string
	DaemonVersion   string
	ScannerName     string
	ScannerVersion  string
}

// Result is one scan result as reported by get_scans.
type Result struct {
	Name     string
	Type     string
	Severity string
	Value    string
}

// Scan is one scan as reported by get_scans. Times are Unix seconds, zero
// while unset.
type Scan struct {
	ID        string
	Target    string
	Progress  int
	StartTime int64
	EndTime   int64
	Results   []Result
}

// ScannerParam is one entry of get_scanner_details.
type ScannerParam struct {
	ID          string
	Type        string
	Name        string
	Description string
	Default     string
}

// ScannerDetails is the answer to get_scanner_details.
type ScannerDetails struct {
	Description string
	Params      []ScannerParam
}

func childText(e *osp.Element, path ...string) string {
	for _, name := range path {
		if e = e.Child(name); e == nil {
			return ""
		}
	}
	return e.Text
}

// GetVersion asks for protocol, daemon and scanner versions.
func (c *Client) GetVersion(ctx context.Context) (*Versions, error) {
	resp, err := c.Do(ctx, osp.CmdGetVersion, nil, nil)
	if err != nil {
		return nil, err
	}
	b := resp.Body
	return &Versions{
		ProtocolName:    childText(b, "protocol", "name"),
		ProtocolVersion: childText(b, "protocol", "version"),
		DaemonName:      childText(b, "daemon", "name"),
		DaemonVersion:   childText(b, "daemon", "version"),
		ScannerName:     childText(b, "scanner", "name"),
		ScannerVersion:  childText(b, "scanner", "version"),
	}, nil
}

// StartScan starts a scan of target and returns its id. Params are sent in
// key order.
func (c *Client) StartScan(ctx context.Context, target string, params map[string]string) (string, error) {
	children := make(osp.Tree, 0, len(params))
	for _, k := range slices.Sorted(maps.Keys(params)) {
		children = append(children, osp.Entry{Name: k, Value: osp.Text(params[k])})
	}

	resp, err := c.Do(ctx, osp.CmdStartScan,
		[]osp.Attr{{Name: "target", Value: target}},
		osp.Tree{{Name: "scanner_params", Value: children}})
	if err != nil {
		return "", err
	}

	id := childText(resp.Body, "id")
	if id == "" {
		return "", fmt.Errorf("start_scan response carries no id")
	}
	return id, nil
}

// GetScans lists scans. An empty scanID lists all of them; without details
// results are omitted.
func (c *Client) GetScans(ctx context.Context, scanID string, details bool) ([]Scan, error) {
	var attrs []osp.Attr
	if scanID != "" {
		attrs = append(attrs, osp.Attr{Name: "scan_id", Value: scanID})
	}
	if !details {
		attrs = append(attrs, osp.Attr{Name: "details", Value: "0"})
	}

	resp, err := c.Do(ctx, osp.CmdGetScans, attrs, nil)
	if err != nil {
		return nil, err
	}

	var scans []Scan
	for _, e := range resp.Body.Children {
		if e.Name != "scan" {
			continue
		}
		s, err := decodeScan(e)
		if err != nil {
			return nil, err
		}
		scans = append(scans, s)
	}
	return scans, nil
}

func decodeScan(e *osp.Element) (Scan, error) {
	s := Scan{}
	s.ID, _ = e.Attr("id")
	s.Target, _ = e.Attr("target")

	var err error
	progress, _ := e.Attr("progress")
	if s.Progress, err = strconv.Atoi(progress); err != nil {
		return Scan{}, fmt.Errorf("scan %s: invalid progress %q", s.ID, progress)
	}
	start, _ := e.Attr("start_time")
	if s.StartTime, err = strconv.ParseInt(start, 10, 64); err != nil {
		return Scan{}, fmt.Errorf("scan %s: invalid start_time %q", s.ID, start)
	}
	end, _ := e.Attr("end_time")
	if s.EndTime, err = strconv.ParseInt(end, 10, 64); err != nil {
		return Scan{}, fmt.Errorf("scan %s: invalid end_time %q", s.ID, end)
	}

	if results := e.Child("results"); results != nil {
		for _, r := range results.Children {
			res := Result{Value: r.Text}
			res.Name, _ = r.Attr("name")
			res.Type, _ = r.Attr("type")
			res.Severity, _ = r.Attr("severity")
			s.Results = append(s.Results, res)
		}
	}
	return s, nil
}

// DeleteScan removes a finished scan.
func (c *Client) DeleteScan(ctx context.Context, scanID string) error {
	_, err := c.Do(ctx, osp.CmdDeleteScan, []osp.Attr{{Name: "scan_id", Value: scanID}}, nil)
	return err
}

// Help returns the command help. With format "xml" the response body
// element is returned as well.
func (c *Client) Help(ctx context.Context, format string) (string, *osp.Element, error) {
	var attrs []osp.Attr
	if format != "" {
		attrs = append(attrs, osp.Attr{Name: "format", Value: format})
	}
	resp, err := c.Do(ctx, osp.CmdHelp, attrs, nil)
	if err != nil {
		return "", nil, err
	}
	return resp.Body.Text, resp.Body, nil
}

// GetScannerDetails returns the scanner description and parameter schema.
func (c *Client) GetScannerDetails(ctx context.Context) (*ScannerDetails, error) {
	resp, err := c.Do(ctx, osp.CmdGetScannerDetails, nil, nil)
	if err != nil {
		return nil, err
	}

	details := &ScannerDetails{Description: childText(resp.Body, "description")}
	if params := resp.Body.Child("scanner_params"); params != nil {
		for _, p := range params.Children {
			param := ScannerParam{
				Name:        childText(p, "name"),
				Description: childText(p, "description"),
				Default:     childText(p, "default"),
			}
			param.ID, _ = p.Attr("id")
			param.Type, _ = p.Attr("type")
			details.Params = append(details.Params, param)
		}
	}
	return details, nil
}
