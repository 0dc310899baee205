package daemon

import (
	"time"

	ospderrors "github.com/anstrom/ospd/internal/errors"
	"github.com/anstrom/ospd/internal/osp"
	"github.com/anstrom/ospd/internal/scan"
)

const statusTextOK = "OK"

// response is a handler outcome before it is wrapped in an envelope.
type response struct {
	status int
	text   string
	body   []byte
}

func ok(body []byte) response {
	return response{status: ospderrors.StatusOK, text: statusTextOK, body: body}
}

type handlerFunc func(req *osp.Element) (response, error)

func (s *Service) handlerTable() map[string]handlerFunc {
	return map[string]handlerFunc{
		osp.CmdGetVersion:        s.handleGetVersion,
		osp.CmdStartScan:         s.handleStartScan,
		osp.CmdGetScans:          s.handleGetScans,
		osp.CmdDeleteScan:        s.handleDeleteScan,
		osp.CmdHelp:              s.handleHelp,
		osp.CmdGetScannerDetails: s.handleGetScannerDetails,
		osp.CmdAuthenticate:      s.handleAuthenticate,
	}
}

// HandleCommand answers one raw request with exactly one response envelope.
// Protocol errors become error envelopes; they never escape.
func (s *Service) HandleCommand(data []byte) []byte {
	start := time.Now()

	command, resp, err := s.dispatch(data)
	if err != nil {
		pe := s.protocolError(command, err)
		command = pe.Command
		resp = response{status: pe.Status, text: pe.Message}
		s.logger.Debug("Command rejected", "command", command, "status", pe.Status, "error", err)
	}

	s.metrics.IncrementCommands(command, resp.status)
	s.metrics.RecordCommandDuration(command, time.Since(start))
	return osp.RenderResponse(command, resp.status, resp.text, resp.body)
}

func (s *Service) dispatch(data []byte) (string, response, error) {
	req, err := osp.Parse(data)
	if err != nil {
		return ospderrors.DefaultCommand, response{}, err
	}

	if !s.commands.Exists(req.Name) && req.Name != osp.CmdAuthenticate {
		return ospderrors.DefaultCommand, response{}, ospderrors.ErrUnknownCommand(req.Name)
	}
	handler, found := s.handlers[req.Name]
	if !found {
		// Advertised in the table but not served by this daemon.
		return ospderrors.DefaultCommand, response{}, ospderrors.ErrUnknownCommand(req.Name)
	}

	resp, err := handler(req)
	return req.Name, resp, err
}

// protocolError maps any handler error onto a client-facing error.
func (s *Service) protocolError(command string, err error) *ospderrors.ProtocolError {
	if pe, found := ospderrors.AsProtocolError(err); found {
		return pe
	}
	switch ospderrors.GetCode(err) {
	case ospderrors.CodeNotFound:
		return ospderrors.WrapProtocolError(ospderrors.CodeNotFound, command,
			ospderrors.StatusNotFound, "Resource not found", err)
	case ospderrors.CodeValidation:
		return ospderrors.WrapProtocolError(ospderrors.CodeValidation, command,
			ospderrors.StatusBadRequest, err.Error(), err)
	default:
		s.logger.Error("Command failed", "command", command, "error", err)
		return ospderrors.WrapProtocolError(ospderrors.CodeFatal, command,
			ospderrors.StatusBadRequest, "Internal error", err)
	}
}

func (s *Service) handleGetVersion(_ *osp.Element) (response, error) {
	return ok(osp.RenderTree(osp.Tree{
		{Name: "protocol", Value: osp.Tree{
			{Name: "name", Value: osp.Text(ProtocolName)},
			{Name: "version", Value: osp.Text(ProtocolVersion)},
		}},
		{Name: "daemon", Value: osp.Tree{
			{Name: "name", Value: osp.Text(DaemonName)},
			{Name: "version", Value: osp.Text(DaemonVersion)},
		}},
		{Name: "scanner", Value: osp.Tree{
			{Name: "name", Value: osp.Text(s.scanner.Name())},
			{Name: "version", Value: osp.Text(s.scanner.Version())},
		}},
	})), nil
}

func (s *Service) handleStartScan(req *osp.Element) (response, error) {
	target, _ := req.Attr("target")
	if target == "" {
		return response{}, ospderrors.ErrMissingAttribute(osp.CmdStartScan, "target")
	}
	params := req.Child("scanner_params")
	if params == nil {
		return response{}, ospderrors.ErrMissingElement(osp.CmdStartScan, "scanner_params")
	}

	id, err := s.CreateScan(target, params.ChildMap())
	if err != nil {
		return response{}, err
	}
	if err := s.StartScan(id); err != nil {
		return response{}, err
	}

	return ok(osp.RenderTree(osp.Tree{{Name: "id", Value: osp.Text(id)}})), nil
}

func (s *Service) handleGetScans(req *osp.Element) (response, error) {
	detailed := true
	if details, _ := req.Attr("details"); details == "0" {
		detailed = false
	}

	ids := s.registry.IDs()
	if scanID, _ := req.Attr("scan_id"); scanID != "" {
		if !s.registry.Exists(scanID) {
			return response{}, ospderrors.ErrScanNotFound(osp.CmdGetScans, scanID)
		}
		ids = []string{scanID}
	}

	snaps := s.snapshots(ids)
	tree := make(osp.Tree, 0, len(snaps))
	for _, snap := range snaps {
		tree = append(tree, osp.ScanEntry(snap, detailed))
	}

	return ok(osp.RenderTree(tree)), nil
}

func (s *Service) handleDeleteScan(req *osp.Element) (response, error) {
	scanID, _ := req.Attr("scan_id")
	if scanID == "" {
		return response{}, ospderrors.ErrMissingAttribute(osp.CmdDeleteScan, "scan_id")
	}
	if !s.registry.Exists(scanID) {
		return response{}, ospderrors.ErrScanNotFound(osp.CmdDeleteScan, scanID)
	}

	if _, err := s.CheckLiveness(scanID); err != nil {
		return response{}, ospderrors.ErrScanNotFound(osp.CmdDeleteScan, scanID)
	}
	deleted, err := s.registry.Delete(scanID)
	if err != nil {
		return response{}, ospderrors.ErrScanNotFound(osp.CmdDeleteScan, scanID)
	}
	if !deleted {
		return response{}, ospderrors.ErrScanInProgress(osp.CmdDeleteScan)
	}

	s.logger.InfoScan("Scan deleted", scanID)
	return ok(nil), nil
}

func (s *Service) handleHelp(req *osp.Element) (response, error) {
	switch format, _ := req.Attr("format"); format {
	case "", "text":
		return ok([]byte(osp.EscapeText(s.commands.HelpText()))), nil
	case "xml":
		return ok(osp.RenderTree(s.commands.HelpTree())), nil
	default:
		return response{}, ospderrors.ErrInvalidValue(osp.CmdHelp, "Bogus help format")
	}
}

func (s *Service) handleGetScannerDetails(_ *osp.Element) (response, error) {
	params := s.scanner.Params()
	entries := make(osp.Tree, 0, len(params))
	for _, p := range params {
		entries = append(entries, osp.Entry{
			Name: "scanner_param",
			Attrs: []osp.Attr{
				{Name: "id", Value: p.ID},
				{Name: "type", Value: p.Type},
			},
			Value: osp.Tree{
				{Name: "name", Value: osp.Text(p.Name)},
				{Name: "description", Value: osp.Text(p.Description)},
				{Name: "default", Value: osp.Text(p.Default)},
			},
		})
	}

	return ok(osp.RenderTree(osp.Tree{
		{Name: "description", Value: osp.Text(s.scanner.Description())},
		{Name: "scanner_params", Value: entries},
	})), nil
}

// handleAuthenticate accepts the legacy authenticate tag; authentication
// happens on the TLS layer.
func (s *Service) handleAuthenticate(_ *osp.Element) (response, error) {
	return ok(nil), nil
}

// ScanSummaries returns snapshots of every registered scan after reconciling
// their liveness.
func (s *Service) ScanSummaries() []scan.Snapshot {
	return s.snapshots(s.registry.IDs())
}

func (s *Service) snapshots(ids []string) []scan.Snapshot {
	out := make([]scan.Snapshot, 0, len(ids))
	for _, id := range ids {
		// scans deleted since ids was taken are skipped
		if _, err := s.CheckLiveness(id); err != nil {
			continue
		}
		if snap, err := s.registry.Snapshot(id); err == nil {
			out = append(out, snap)
		}
	}
	return out
}
