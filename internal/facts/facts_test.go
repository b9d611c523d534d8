package facts

import (
	"reflect"
	"testing"
)

func TestIsValidMAC(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"aa:bb:cc:dd:ee:ff", true},
		{"AA:BB:CC:DD:EE:FF", true},
		{"00:1a:2B:3c:4D:5e", true},
		{"zz:invalid", false},
		{"aa-bb-cc-dd-ee-ff", false},
		{"aa:bb:cc:dd:ee", false},
		{"aa:bb:cc:dd:ee:ff:00", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsValidMAC(tt.in); got != tt.want {
			t.Errorf("IsValidMAC(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizePXEMAC(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"01-AA-BB-CC-DD-EE-FF", "aa:bb:cc:dd:ee:ff"},
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
		{"aa:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:ff"},
	}

	for _, tt := range tests {
		if got := NormalizePXEMAC(tt.in); got != tt.want {
			t.Errorf("NormalizePXEMAC(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseAndDerive(t *testing.T) {
	raw := []byte(`{
		"cpus": 4,
		"cpu_arch": "x86_64",
		"memory_mb": 8192,
		"local_gb": 40,
		"interfaces": {
			"eth1": {"mac": "11:22:33:44:55:66"},
			"eth0": {"mac": "aa:bb:cc:dd:ee:ff", "ip": "10.0.0.5"}
		},
		"ipmi_address": "10.1.0.10",
		"data": {"inventory": {"bmc_address": "10.1.0.10"}}
	}`)

	f, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if f.CPUs != 4 || f.CPUArch != "x86_64" || f.MemoryMB != 8192 || f.LocalGB != 40 {
		t.Errorf("scheduler fields not decoded: %+v", f)
	}
	if len(f.Data) == 0 {
		t.Error("extended data should be kept")
	}

	f.DeriveMACs()
	want := []string{"aa:bb:cc:dd:ee:ff", "11:22:33:44:55:66"}
	if !reflect.DeepEqual(f.MACs, want) {
		t.Errorf("MACs = %v, want %v", f.MACs, want)
	}
	if f.BMCAddress() != "10.1.0.10" {
		t.Errorf("BMCAddress() = %q", f.BMCAddress())
	}
}

func TestBMCAddress_Unknown(t *testing.T) {
	if got := (&Facts{}).BMCAddress(); got != "unknown" {
		t.Errorf("BMCAddress() = %q, want unknown", got)
	}
}
