package login_test

import (
	"testing"

	"github.com/istgtd/istgtd/internal/iscsi/login"
	"github.com/istgtd/istgtd/internal/iscsi/negotiate"
	"github.com/istgtd/istgtd/internal/iscsi/pdu"
	"github.com/istgtd/istgtd/internal/iscsi/session"
	"github.com/istgtd/istgtd/internal/iscsi/target"
	"github.com/istgtd/istgtd/pkg/blockstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistries(t *testing.T) (*target.Registry, *session.Registry) {
	t.Helper()
	sessions := session.NewRegistry()
	targets := target.NewRegistry(sessions.HasSessionForTarget)
	targets.Add(&target.Target{Name: "iqn.test.target", Store: blockstore.NewMemoryStore(8, 512)})
	return targets, sessions
}

func textFor(pairs map[string]string) []byte {
	out := make([][2]string, 0, len(pairs))
	for k, v := range pairs {
		out = append(out, [2]string{k, v})
	}
	return negotiate.EncodeTextData(out)
}

func TestLoginSucceedsAndCreatesSession(t *testing.T) {
	targets, sessions := newRegistries(t)
	h := login.NewHandler(targets, sessions, negotiate.DefaultTargetPreferences())

	req := pdu.LoginRequest{
		Transit: true, CSG: pdu.StageLoginOperational, NSG: pdu.StageFullFeature,
		ISID: [6]byte{1, 2, 3, 4, 5, 6}, CID: 1, CmdSN: 0, ExpStatSN: 0,
	}
	data := textFor(map[string]string{
		"InitiatorName": "iqn.test.initiator",
		"TargetName":    "iqn.test.target",
		"SessionType":   "Normal",
		"HeaderDigest":  "None",
		"DataDigest":    "None",
	})

	res := h.HandleRequest(req, data)
	require.False(t, res.Close)
	require.True(t, res.Complete)
	require.NotNil(t, res.Session)
	assert.Equal(t, byte(login.StatusClassSuccess), res.Response.StatusClass)
	assert.NotZero(t, res.Response.TSIH)
	assert.Equal(t, "iqn.test.target", res.Settings.TargetName)
}

func TestLoginFailsForUnknownTarget(t *testing.T) {
	targets, sessions := newRegistries(t)
	h := login.NewHandler(targets, sessions, negotiate.DefaultTargetPreferences())

	req := pdu.LoginRequest{Transit: true, CSG: pdu.StageLoginOperational, NSG: pdu.StageFullFeature}
	data := textFor(map[string]string{
		"InitiatorName": "iqn.test.initiator",
		"TargetName":    "iqn.does.not.exist",
		"SessionType":   "Normal",
	})

	res := h.HandleRequest(req, data)
	assert.True(t, res.Close)
	assert.Equal(t, byte(login.StatusClassInitiatorError), res.Response.StatusClass)
	assert.Equal(t, byte(login.StatusDetailNotFound), res.Response.StatusDetail)
}

func TestLoginRejectsNonzeroTSIH(t *testing.T) {
	targets, sessions := newRegistries(t)
	h := login.NewHandler(targets, sessions, negotiate.DefaultTargetPreferences())

	req := pdu.LoginRequest{Transit: true, CSG: pdu.StageLoginOperational, NSG: pdu.StageFullFeature, TSIH: 42}
	data := textFor(map[string]string{
		"InitiatorName": "iqn.test.initiator",
		"TargetName":    "iqn.test.target",
		"SessionType":   "Normal",
	})

	res := h.HandleRequest(req, data)
	assert.True(t, res.Close)
	assert.Equal(t, byte(login.StatusClassInitiatorError), res.Response.StatusClass)
}

func TestLoginContinueBitDefersResponse(t *testing.T) {
	targets, sessions := newRegistries(t)
	h := login.NewHandler(targets, sessions, negotiate.DefaultTargetPreferences())

	req := pdu.LoginRequest{Continue: true, CSG: pdu.StageLoginOperational, NSG: pdu.StageLoginOperational}
	res := h.HandleRequest(req, []byte("InitiatorName=iqn.test.initiator\x00"))
	assert.True(t, res.NeedMore)
}

func TestLoginMalformedTextFails(t *testing.T) {
	targets, sessions := newRegistries(t)
	h := login.NewHandler(targets, sessions, negotiate.DefaultTargetPreferences())

	req := pdu.LoginRequest{Transit: true, CSG: pdu.StageLoginOperational, NSG: pdu.StageFullFeature}
	res := h.HandleRequest(req, []byte("NotAKeyValuePair\x00"))
	assert.True(t, res.Close)
}
