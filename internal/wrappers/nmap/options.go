package nmap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	nmaplib "github.com/Ullaakut/nmap/v3"

	ospderrors "github.com/anstrom/ospd/internal/errors"
	"github.com/anstrom/ospd/internal/osp"
	"github.com/anstrom/ospd/internal/scanner"
)

// Scanner parameter ids.
const (
	ParamPorts         = "ports"
	ParamScanType      = "scan_type"
	ParamTiming        = "timing"
	ParamSkipDiscovery = "skip_discovery"
	ParamServiceInfo   = "service_info"
)

// Scan types accepted by scan_type.
const (
	ScanConnect = "connect"
	ScanSYN     = "syn"
	ScanVersion = "version"
)

const (
	defaultPorts  = "1-1000"
	defaultTiming = 3
	maxTiming     = 5
)

var (
	portsPattern = regexp.MustCompile(`^([TU]:)?[0-9]+(-[0-9]+)?(,([TU]:)?[0-9]+(-[0-9]+)?)*$`)

	// Host names, IPv4/IPv6 addresses, CIDR blocks and nmap octet ranges
	// (10.0.0-255.*). A leading '-' would be read by nmap as an option.
	targetPattern = regexp.MustCompile(`^[A-Za-z0-9:*][A-Za-z0-9.:/%*_-]*$`)
)

var params = []scanner.Param{
	{
		ID:          ParamPorts,
		Name:        "Port range",
		Type:        scanner.ParamString,
		Description: "Ports to scan, in nmap syntax (22,80,1000-2000)",
		Default:     defaultPorts,
	},
	{
		ID:          ParamScanType,
		Name:        "Scan type",
		Type:        scanner.ParamSelection,
		Description: "Port scan technique: connect, syn or version",
		Default:     ScanConnect,
	},
	{
		ID:          ParamTiming,
		Name:        "Timing template",
		Type:        scanner.ParamInteger,
		Description: "nmap timing template from 0 (paranoid) to 5 (insane)",
		Default:     strconv.Itoa(defaultTiming),
	},
	{
		ID:          ParamSkipDiscovery,
		Name:        "Skip host discovery",
		Type:        scanner.ParamBoolean,
		Description: "Treat all hosts as up and skip the ping phase",
		Default:     "1",
	},
	{
		ID:          ParamServiceInfo,
		Name:        "Service detection",
		Type:        scanner.ParamBoolean,
		Description: "Detect service and version information on open ports",
		Default:     "0",
	},
}

// plan is a validated scan request.
type plan struct {
	Targets       []string
	Ports         string
	ScanType      string
	Timing        int
	SkipDiscovery bool
	ServiceInfo   bool
}

func invalid(format string, args ...any) error {
	return ospderrors.ErrInvalidValue(osp.CmdStartScan, fmt.Sprintf(format, args...))
}

func parseBool(id, v string) (bool, error) {
	switch v {
	case "1", "true", "yes":
		return true, nil
	case "0", "false", "no", "":
		return false, nil
	}
	return false, invalid("Invalid %s value '%s'", id, v)
}

// parseOptions validates the merged scan options.
func parseOptions(opts map[string]string) (*plan, error) {
	p := &plan{
		Ports:    strings.ReplaceAll(opts[ParamPorts], " ", ""),
		ScanType: opts[ParamScanType],
		Timing:   defaultTiming,
	}

	if p.Ports == "" {
		p.Ports = defaultPorts
	}
	if !portsPattern.MatchString(p.Ports) {
		return nil, invalid("Invalid ports value '%s'", opts[ParamPorts])
	}

	switch p.ScanType {
	case "":
		p.ScanType = ScanConnect
	case ScanConnect, ScanSYN, ScanVersion:
	default:
		return nil, invalid("Invalid scan_type value '%s'", p.ScanType)
	}

	if v := opts[ParamTiming]; v != "" {
		timing, err := strconv.Atoi(v)
		if err != nil || timing < 0 || timing > maxTiming {
			return nil, invalid("Invalid timing value '%s'", v)
		}
		p.Timing = timing
	}

	var err error
	if p.SkipDiscovery, err = parseBool(ParamSkipDiscovery, opts[ParamSkipDiscovery]); err != nil {
		return nil, err
	}
	if p.ServiceInfo, err = parseBool(ParamServiceInfo, opts[ParamServiceInfo]); err != nil {
		return nil, err
	}
	return p, nil
}

// splitTargets accepts comma or whitespace separated host specs.
func splitTargets(target string) []string {
	return strings.FieldsFunc(target, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// parseTargets splits target into host specs and rejects anything nmap
// could interpret as a command line option.
func parseTargets(target string) ([]string, error) {
	targets := splitTargets(target)
	if len(targets) == 0 {
		return nil, invalid("Invalid target '%s'", target)
	}
	for _, t := range targets {
		if !targetPattern.MatchString(t) {
			return nil, invalid("Invalid target '%s'", t)
		}
	}
	return targets, nil
}

// options converts the plan into nmap options.
func (p *plan) options(binaryPath string) []nmaplib.Option {
	options := []nmaplib.Option{
		nmaplib.WithTargets(p.Targets...),
		nmaplib.WithPorts(p.Ports),
		nmaplib.WithTimingTemplate(nmaplib.Timing(p.Timing)),
	}
	if binaryPath != "" {
		options = append(options, nmaplib.WithBinaryPath(binaryPath))
	}

	switch p.ScanType {
	case ScanSYN:
		options = append(options, nmaplib.WithSYNScan())
	case ScanVersion:
		options = append(options,
			nmaplib.WithConnectScan(),
			nmaplib.WithServiceInfo(),
		)
	default:
		options = append(options, nmaplib.WithConnectScan())
	}
	if p.ServiceInfo && p.ScanType != ScanVersion {
		options = append(options, nmaplib.WithServiceInfo())
	}
	if p.SkipDiscovery {
		options = append(options, nmaplib.WithSkipHostDiscovery())
	}
	return options
}
