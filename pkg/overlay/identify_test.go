package overlay

import "testing"

func TestMajorVersionCompatible(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		want   bool
	}{
		{"exact match", ProtocolVersion, true},
		{"compatible minor", "/AGENTSWARM-IDENTITY/0.9", true},
		{"incompatible major", "/AGENTSWARM-IDENTITY/1.0", false},
		{"empty", "", false},
		{"garbage", "not-a-version", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := majorVersionCompatible(tt.remote); got != tt.want {
				t.Errorf("majorVersionCompatible(%q) = %v, want %v", tt.remote, got, tt.want)
			}
		})
	}
}

func TestProtocolMajor(t *testing.T) {
	major, ok := protocolMajor("/AGENTSWARM-IDENTITY/0.1")
	if !ok || major != 0 {
		t.Errorf("protocolMajor = %d, %v; want 0, true", major, ok)
	}

	if _, ok := protocolMajor("no-slash"); ok {
		t.Error("expected protocolMajor to reject a string with no slash")
	}
}
