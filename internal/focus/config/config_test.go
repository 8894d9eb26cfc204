package config

import "testing"

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		in   string
		want StrategyConfig
	}{
		{"region", StrategyConfig{Kind: StrategyRegion}},
		{"intra-region", StrategyConfig{Kind: StrategyIntraRegion}},
		{"single", StrategyConfig{Kind: StrategySingle}},
		{"split", StrategyConfig{Kind: StrategySplit}},
		{" region ", StrategyConfig{Kind: StrategyRegion}},
		{"visitor:region,single", StrategyConfig{Kind: StrategyVisitor, Participant: StrategyRegion, Visitor: StrategySingle}},
		{"visitor:split, intra-region", StrategyConfig{Kind: StrategyVisitor, Participant: StrategySplit, Visitor: StrategyIntraRegion}},
	}
	for _, tt := range tests {
		got, err := ParseStrategy(tt.in)
		if err != nil {
			t.Errorf("ParseStrategy(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseStrategy(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseStrategyErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"round-robin",
		"visitor",
		"visitor:region",
		"visitor:region,bogus",
		"visitor:bogus,single",
	} {
		if _, err := ParseStrategy(in); err == nil {
			t.Errorf("ParseStrategy(%q): expected error, got nil", in)
		}
	}
}

func TestStrategyConfigString(t *testing.T) {
	simple := StrategyConfig{Kind: StrategySplit}
	if got := simple.String(); got != "split" {
		t.Errorf("String() = %q, want %q", got, "split")
	}
	composite := StrategyConfig{Kind: StrategyVisitor, Participant: StrategyRegion, Visitor: StrategySingle}
	if got := composite.String(); got != "visitor:region,single" {
		t.Errorf("String() = %q, want %q", got, "visitor:region,single")
	}
}

func TestParseBridgeAddresses(t *testing.T) {
	got := parseBridgeAddresses("jvb1@bridges=localhost:9090, jvb2@bridges=localhost:9091")
	want := map[string]string{
		"jvb1@bridges": "localhost:9090",
		"jvb2@bridges": "localhost:9091",
	}
	if len(got) != len(want) {
		t.Fatalf("parsed %d entries, want %d", len(got), len(want))
	}
	for jid, addr := range want {
		if got[jid] != addr {
			t.Errorf("addr[%q] = %q, want %q", jid, got[jid], addr)
		}
	}
}

func TestParseBridgeAddressesMalformed(t *testing.T) {
	got := parseBridgeAddresses("no-equals, =localhost:9090, jvb1@bridges=, ,jvb2@bridges=localhost:9091")
	if len(got) != 1 {
		t.Fatalf("parsed %d entries, want 1: %v", len(got), got)
	}
	if got["jvb2@bridges"] != "localhost:9091" {
		t.Errorf("addr[jvb2@bridges] = %q, want localhost:9091", got["jvb2@bridges"])
	}
}

func TestParseBridgeAddressesEmpty(t *testing.T) {
	if got := parseBridgeAddresses(""); got != nil {
		t.Errorf("parseBridgeAddresses(\"\") = %v, want nil", got)
	}
}
