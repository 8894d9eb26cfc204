package discovery

import (
	"testing"

	"github.com/sebas/conductor/internal/focus/bridge"
)

func ptrF(v float64) *float64 { return &v }

func TestUpRegistersBridge(t *testing.T) {
	reg := bridge.NewRegistry()
	ing := NewIngestor(reg)

	ing.Up(BridgeUp{
		JID:     "jvb1@bridges",
		Addr:    "localhost:9090",
		Region:  "us-east",
		Version: "2.3",
		RelayID: "relay-1",
	})

	snap, ok := reg.Get("jvb1@bridges")
	if !ok {
		t.Fatal("bridge not registered after Up")
	}
	if snap.Addr != "localhost:9090" {
		t.Errorf("addr = %q, want localhost:9090", snap.Addr)
	}
	if snap.Region != "us-east" || snap.Version != "2.3" || snap.RelayID != "relay-1" {
		t.Errorf("snapshot = %+v, want region/version/relay applied", snap)
	}
	if !snap.Operational {
		t.Error("fresh bridge not operational")
	}
}

func TestUpWithoutOptionalFields(t *testing.T) {
	reg := bridge.NewRegistry()
	ing := NewIngestor(reg)

	ing.Up(BridgeUp{JID: "jvb1@bridges", Addr: "localhost:9090"})

	snap, _ := reg.Get("jvb1@bridges")
	if snap.Region != "" || snap.Version != "" || snap.RelayID != "" {
		t.Errorf("snapshot = %+v, want empty optional fields", snap)
	}
}

func TestStatsRefreshesKnownBridge(t *testing.T) {
	reg := bridge.NewRegistry()
	ing := NewIngestor(reg)
	ing.Up(BridgeUp{JID: "jvb1@bridges", Addr: "localhost:9090", Region: "us-east"})

	ing.Stats(BridgeStats{
		JID:   "jvb1@bridges",
		Stats: bridge.Stats{StressLevel: ptrF(0.42)},
	})

	snap, _ := reg.Get("jvb1@bridges")
	if snap.Stress != 0.42 {
		t.Errorf("stress = %v, want 0.42", snap.Stress)
	}
	// Fields absent from the report keep their values.
	if snap.Region != "us-east" {
		t.Errorf("region = %q, want us-east", snap.Region)
	}
}

func TestStatsForUnknownBridgeDropped(t *testing.T) {
	reg := bridge.NewRegistry()
	ing := NewIngestor(reg)

	ing.Stats(BridgeStats{
		JID:   "ghost@bridges",
		Stats: bridge.Stats{StressLevel: ptrF(0.1)},
	})

	if _, ok := reg.Get("ghost@bridges"); ok {
		t.Error("stats report registered an unknown bridge")
	}
}

func TestDownRemovesBridge(t *testing.T) {
	reg := bridge.NewRegistry()
	ing := NewIngestor(reg)
	ing.Up(BridgeUp{JID: "jvb1@bridges", Addr: "localhost:9090"})

	ing.Down(BridgeDown{JID: "jvb1@bridges"})

	if _, ok := reg.Get("jvb1@bridges"); ok {
		t.Error("bridge still present after Down")
	}
}
