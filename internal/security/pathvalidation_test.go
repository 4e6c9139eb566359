package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "plots"), 0o755))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"file in dir", filepath.Join(dir, "rover.db"), false},
		{"new file in subdir", filepath.Join(dir, "plots", "a.png"), false},
		{"missing parents", filepath.Join(dir, "x", "y", "z.png"), false},
		{"dot dot escape", filepath.Join(dir, "..", "etc", "passwd"), true},
		{"absolute elsewhere", "/etc/passwd", true},
		{"the dir itself", dir, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, dir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory_Symlink(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(dir, "evil")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(link, "backup.db"), dir))
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"":                    "unknown",
		"rover":               "rover",
		"0f8e2c4a":            "0f8e2c4a",
		"../../etc/passwd":    "etc_passwd",
		"run id with spaces":  "run_id_with_spaces",
		"a//b::c":             "a_b_c",
		"__hidden.":           "hidden",
		"///":                 "unknown",
		"telemetry.db-backup": "telemetry.db-backup",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeFilename(in), "input %q", in)
	}
	assert.Len(t, SanitizeFilename(strings.Repeat("a", 500)), maxFilenameLen)
}
