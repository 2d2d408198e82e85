package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSatisfies(t *testing.T) {
	testCases := []struct {
		name       string
		constraint string
		current    string
		wantErr    bool
	}{
		{"empty constraint", "", "1.0.0", false},
		{"dev build always passes", ">=9.0.0", "dev", false},
		{"satisfied", ">=0.2.0, <1.0.0", "0.3.1", false},
		{"too old", ">=0.4.0", "v0.3.1", true},
		{"invalid constraint", "not a constraint", "0.3.1", true},
		{"invalid version", ">=0.1.0", "banana", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := Satisfies(tc.constraint, tc.current)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildInfoString(t *testing.T) {
	info := BuildInfo{Version: "1.2.3", GitCommit: "0123456789abcdef", GoVersion: "go1.24", Platform: "linux/amd64"}
	assert.Equal(t, "weft 1.2.3 (0123456) go1.24 linux/amd64", info.String())
}
