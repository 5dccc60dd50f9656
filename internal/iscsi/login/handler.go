// Package login implements the Login phase (C7): the CSG/NSG state
// machine that carries key=value text negotiation from a fresh TCP
// connection through to the Full Feature Phase, per RFC 3720 section 5.3.
//
// Grounded on dittofs's pkg/auth handshake sequencing (a small explicit
// state machine gating a connection before it can serve requests),
// adapted from dittofs's single-shot auth check to iSCSI's multi-PDU,
// multi-stage login conversation.
package login

import (
	"fmt"

	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
	"github.com/istgtd/istgtd/internal/iscsi/pdu"
	"github.com/istgtd/istgtd/internal/iscsi/protoerr"
	"github.com/istgtd/istgtd/internal/iscsi/session"
	"github.com/istgtd/istgtd/internal/iscsi/target"
)

// Result is the outcome of processing one inbound Login-Request PDU.
type Result struct {
	// NeedMore is true when the request carried the Continue bit: no
	// response should be sent yet, the caller should read the next PDU
	// and call HandleRequest again.
	NeedMore bool

	Response     pdu.LoginResponse
	ResponseData []byte

	// Complete is true once the Full Feature Phase has been entered: the
	// connection may start dispatching SCSI/Text/NOP PDUs, using Session
	// and Settings.
	Complete bool
	Session  *session.Session
	Settings negotiate.Settings

	// Close is true when, after the response above is sent, the
	// connection must be closed (login failed).
	Close bool
	Err   error
}

// Handler drives one connection's Login phase from first PDU to Full
// Feature Phase (or failure).
type Handler struct {
	targets  *target.Registry
	sessions *session.Registry
	prefs    negotiate.TargetPreferences

	negotiator *negotiate.Negotiator
	pending    []byte

	started       bool
	isid          [6]byte
	cid           uint16
	reqTSIH       uint16
	targetName    string
	initiatorName string
	sessionType   negotiate.SessionType
	firstCmdSN    uint32
	session       *session.Session
}

// NewHandler creates a Handler for one connection, resolving targets and
// sessions against the given registries with prefs as the target-wide
// negotiation defaults.
func NewHandler(targets *target.Registry, sessions *session.Registry, prefs negotiate.TargetPreferences) *Handler {
	return &Handler{
		targets:    targets,
		sessions:   sessions,
		prefs:      prefs,
		negotiator: negotiate.NewNegotiator(prefs),
	}
}

// HandleRequest processes one Login-Request PDU and its text data
// segment, returning the response to send (and whether the connection
// should close after sending it).
func (h *Handler) HandleRequest(req pdu.LoginRequest, data []byte) Result {
	if !h.started {
		h.started = true
		h.isid = req.ISID
		h.cid = req.CID
		h.reqTSIH = req.TSIH
		h.firstCmdSN = req.CmdSN
	}

	h.pending = append(h.pending, data...)
	if req.Continue {
		return Result{NeedMore: true}
	}
	full := h.pending
	h.pending = nil

	pairs, err := negotiate.DecodeTextData(full)
	if err != nil {
		return h.fail(req, StatusClassInitiatorError, StatusDetailInvalidLoginRequest,
			protoerr.Wrap(protoerr.ErrCodeNegotiationFailed, "malformed login text", err))
	}

	respPairs := make([][2]string, 0, len(pairs))
	for _, p := range pairs {
		key, value := p[0], p[1]
		resolved, err := h.negotiator.Offer(key, value)
		if err != nil {
			return h.fail(req, StatusClassInitiatorError, StatusDetailInvalidLoginRequest,
				protoerr.Wrap(protoerr.ErrCodeNegotiationFailed, "negotiation failed", err))
		}
		respPairs = append(respPairs, [2]string{key, resolved})

		switch key {
		case negotiate.KeyTargetName:
			h.targetName = value
		case negotiate.KeyInitiatorName:
			h.initiatorName = value
		case negotiate.KeySessionType:
			st, err := negotiate.ParseSessionType(value)
			if err != nil {
				return h.fail(req, StatusClassInitiatorError, StatusDetailInvalidLoginRequest, err)
			}
			h.sessionType = st
		}
	}

	if h.reqTSIH != 0 {
		return h.fail(req, StatusClassInitiatorError, StatusDetailNotFound,
			protoerr.New(protoerr.ErrCodeSessionReinstatementUnsupported, "session reinstatement unsupported"))
	}

	if req.Transit && req.NSG == pdu.StageFullFeature {
		if h.sessionType != negotiate.SessionTypeDiscovery {
			if h.targetName == "" {
				return h.fail(req, StatusClassInitiatorError, StatusDetailMissingParameter,
					protoerr.New(protoerr.ErrCodeNegotiationFailed, "TargetName not declared"))
			}
			if _, err := h.targets.Lookup(h.targetName); err != nil {
				return h.fail(req, StatusClassInitiatorError, StatusDetailNotFound,
					protoerr.Wrap(protoerr.ErrCodeUnknownTarget, h.targetName, err))
			}
		}

		settings, err := h.negotiator.Finalize()
		if err != nil {
			return h.fail(req, StatusClassInitiatorError, StatusDetailInvalidLoginRequest, err)
		}
		settings.InitiatorName = h.initiatorName
		settings.TargetName = h.targetName
		settings.SessionType = h.sessionType

		key := session.Key{ISID: h.isid, TargetName: h.targetName, TargetPortalGroupTag: settings.TargetPortalGroupTag}
		sess, err := h.sessions.Create(key, h.isid, h.initiatorName, h.sessionType, h.firstCmdSN)
		if err != nil {
			return h.fail(req, StatusClassTargetError, StatusDetailServiceUnavailable,
				protoerr.Wrap(protoerr.ErrCodeNegotiationFailed, "session create", err))
		}
		sess.SettingsID = settings.SettingsID
		h.session = sess

		exp, max := sess.Window()
		resp := pdu.LoginResponse{
			Transit:          true,
			CSG:              req.CSG,
			NSG:              pdu.StageFullFeature,
			VersionMax:       0x00,
			VersionActive:    0x00,
			ISID:             h.isid,
			TSIH:             sess.TSIH,
			InitiatorTaskTag: req.InitiatorTaskTag,
			StatSN:           0,
			ExpCmdSN:         exp,
			MaxCmdSN:         max,
			StatusClass:      byte(StatusClassSuccess),
			StatusDetail:     byte(StatusDetailSuccess),
		}
		return Result{
			Response:     resp,
			ResponseData: negotiate.EncodeTextData(respPairs),
			Complete:     true,
			Session:      sess,
			Settings:     settings,
		}
	}

	resp := pdu.LoginResponse{
		Transit:          req.Transit,
		CSG:              req.CSG,
		NSG:              req.NSG,
		VersionMax:       0x00,
		VersionActive:    0x00,
		ISID:             h.isid,
		TSIH:             0,
		InitiatorTaskTag: req.InitiatorTaskTag,
		ExpCmdSN:         req.CmdSN,
		MaxCmdSN:         req.CmdSN + session.DefaultWindowSize - 1,
		StatusClass:      byte(StatusClassSuccess),
		StatusDetail:     byte(StatusDetailSuccess),
	}
	return Result{Response: resp, ResponseData: negotiate.EncodeTextData(respPairs)}
}

func (h *Handler) fail(req pdu.LoginRequest, class StatusClass, detail StatusDetail, err error) Result {
	resp := pdu.LoginResponse{
		CSG:              req.CSG,
		NSG:              req.CSG,
		VersionMax:       0x00,
		VersionActive:    0x00,
		ISID:             h.isid,
		TSIH:             0,
		InitiatorTaskTag: req.InitiatorTaskTag,
		ExpCmdSN:         req.CmdSN,
		MaxCmdSN:         req.CmdSN,
		StatusClass:      byte(class),
		StatusDetail:     byte(detail),
	}
	return Result{Response: resp, Close: true, Err: fmt.Errorf("login: %w", err)}
}
