// Package scanner defines the contract between the daemon core and a wrapped
// scanner. The daemon never knows how a scan is executed; it only calls the
// hooks below and exposes a Controller the scanner reports through.
package scanner

//go:generate mockgen -source=scanner.go -destination=mocks/mock_scanner.go -package=mocks

import (
	"context"
	"maps"
)

// Parameter types advertised in the scanner details.
const (
	ParamString    = "string"
	ParamInteger   = "integer"
	ParamBoolean   = "boolean"
	ParamSelection = "selection"
)

// Param describes one scanner parameter accepted under scanner_params.
type Param struct {
	ID          string
	Name        string
	Type        string
	Description string
	Default     string
}

// Controller is the view of the daemon a running scan reports through.
// Every method addresses a scan by id.
type Controller interface {
	Target(scanID string) (string, error)
	Options(scanID string) (map[string]string, error)
	AddLog(scanID, name, value string) error
	AddAlarm(scanID, name, value, severity string) error
	AddError(scanID, name, value string) error
	SetProgress(scanID string, progress int) error
	FinishScan(scanID string) error
	HandleTimeout(scanID string) error
}

// Scanner is implemented by every scanner wrapper.
type Scanner interface {
	// Name returns the scanner name reported by get_version.
	Name() string
	// Version returns the scanner version reported by get_version.
	Version() string
	// Description is returned by get_scanner_details.
	Description() string
	// Params declares the parameters the scanner accepts, with defaults.
	Params() []Param
	// Check verifies the scanner is usable before the daemon serves.
	Check(ctx context.Context) error
	// Exec runs a scan. It reads target and options through ctl, reports
	// results as they come and finishes the scan when done.
	Exec(ctx context.Context, scanID string, ctl Controller) error
}

// ParamProcessor is optionally implemented by scanners that validate or
// rewrite the merged parameters of a new scan.
type ParamProcessor interface {
	ProcessParams(params map[string]string) (map[string]string, error)
}

// TargetValidator is optionally implemented by scanners that check the
// target of a new scan before it is stored.
type TargetValidator interface {
	ValidateTarget(target string) error
}

// Defaults returns the declared default of every parameter.
func Defaults(params []Param) map[string]string {
	out := make(map[string]string, len(params))
	for _, p := range params {
		out[p.ID] = p.Default
	}
	return out
}

// MergeDefaults overlays given onto the declared defaults. Parameters not
// declared by the scanner are passed through.
func MergeDefaults(params []Param, given map[string]string) map[string]string {
	out := Defaults(params)
	maps.Copy(out, given)
	return out
}
