package engine

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/toeirei/pairmaster/internal/bootstrap"
	"github.com/toeirei/pairmaster/internal/bridge"
	"github.com/toeirei/pairmaster/internal/i18n"
	"github.com/toeirei/pairmaster/internal/pairing"
	"github.com/toeirei/pairmaster/internal/transport"
)

func TestRemedyByErrorKind(t *testing.T) {
	i18n.Init("en")
	cases := []struct {
		name string
		err  error
		id   string
	}{
		{"peer key timeout", &pairing.Error{Kind: pairing.PeerKeyTimeout}, "remedy.pairing.peer_key_timeout"},
		{"key changed", pairing.ErrKeyChangedSinceLastPairing, "remedy.pairing.key_changed"},
		{"store", &pairing.Error{Kind: pairing.StoreFailure, Err: errors.New("disk full")}, "remedy.pairing.store_failure"},
		{"bridge under transport", &pairing.Error{Kind: pairing.TransportFailure, Err: &transport.Error{Kind: transport.Unreachable, Err: &bridge.Error{Kind: bridge.StartFailed}}}, "remedy.bridge.start_failed"},
		{"bridge frozen", fmt.Errorf("devices: %w", &bridge.Error{Kind: bridge.Frozen}), "remedy.bridge.frozen"},
		{"transport timeout", &transport.Error{Kind: transport.Timeout}, "remedy.transport.timeout"},
		{"push failed", &bootstrap.InstallError{Kind: bootstrap.PushFailed}, "remedy.install.push_failed"},
		{"unknown", errors.New("boom"), "remedy.unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got, want := Remedy(tc.err), i18n.T(tc.id); got != want {
				t.Fatalf("Remedy = %q, want %q", got, want)
			}
		})
	}
}

func TestPolicyBlockedRemedyNamesFallback(t *testing.T) {
	i18n.Init("en")
	err := &bootstrap.InstallError{Kind: bootstrap.PolicyBlocked, Fallback: "http://127.0.0.1:41000/pairmaster.apk"}
	if got := Remedy(err); !strings.Contains(got, err.Fallback) {
		t.Fatalf("remedy does not name the fallback: %q", got)
	}
}
