package ep

import (
	"errors"
	"testing"
)

func TestVersionNumber(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		version string
		want    int
		wantErr bool
	}{
		{name: "v1", version: "v1", want: 1},
		{name: "v9", version: "v9", want: 9},
		{name: "v10 parses past a single digit", version: "v10", want: 10},
		{name: "missing prefix", version: "10", wantErr: true},
		{name: "empty string", version: "", wantErr: true},
		{name: "bare v", version: "v", wantErr: true},
		{name: "non-numeric tail", version: "vfinal", wantErr: true},
		{name: "negative number", version: "v-1", wantErr: true},
		{name: "uppercase prefix", version: "V2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := VersionNumber(tt.version)
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedVersion) {
					t.Errorf("VersionNumber(%q) error = %v, want ErrMalformedVersion", tt.version, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("VersionNumber(%q) unexpected error: %v", tt.version, err)
			}

			if got != tt.want {
				t.Errorf("VersionNumber(%q) = %d, want %d", tt.version, got, tt.want)
			}
		})
	}
}

func TestVersionOrdering(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// "v10" sorts before "v9" as text; numerically it must order after.
	v9, err := VersionNumber("v9")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v10, err := VersionNumber("v10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if v10 <= v9 {
		t.Errorf("v10 (%d) should order after v9 (%d)", v10, v9)
	}
}

func TestStatus(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name       string
		status     Status
		valid      bool
		failed     bool
		reason     string
	}{
		{name: "pending", status: StatusPending, valid: true},
		{name: "processing", status: StatusProcessing, valid: true},
		{name: "done", status: StatusDone, valid: true},
		{name: "reprocess", status: StatusReprocess, valid: true},
		{name: "failed carries reason", status: FailedStatus("catalog timeout"), valid: true, failed: true, reason: "catalog timeout"},
		{name: "bare failed prefix is invalid", status: Status("failed:"), valid: false, failed: true},
		{name: "unknown state", status: Status("archived"), valid: false},
		{name: "empty", status: Status(""), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.valid {
				t.Errorf("IsValid() = %v, want %v", got, tt.valid)
			}

			if got := tt.status.IsFailed(); got != tt.failed {
				t.Errorf("IsFailed() = %v, want %v", got, tt.failed)
			}

			if got := tt.status.FailureReason(); got != tt.reason {
				t.Errorf("FailureReason() = %q, want %q", got, tt.reason)
			}
		})
	}
}
