package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestList(t *testing.T) {
	files, err := List()
	require.NoError(t, err)
	require.NotEmpty(t, files, "expected at least one embedded migration")

	// Lexicographic order doubles as sequence order under the naming standard.
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1], files[i], "migration files must be sorted")
	}

	for _, file := range files {
		assert.True(t, strings.HasSuffix(file, ".sql"), "unexpected file %s", file)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		filename  string
		wantSeq   int
		wantName  string
		wantDir   string
		wantError bool
	}{
		{"valid up migration", "001_create_cases.up.sql", 1, "create_cases", "up", false},
		{"valid down migration", "002_add_search_vector.down.sql", 2, "add_search_vector", "down", false},
		{"missing sequence", "create_cases.up.sql", 0, "", "", true},
		{"short sequence", "1_create_cases.up.sql", 0, "", "", true},
		{"missing direction", "001_create_cases.sql", 0, "", "", true},
		{"invalid direction", "001_create_cases.sideways.sql", 0, "", "", true},
		{"hyphenated name", "001_create-cases.up.sql", 0, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Parse(tt.filename)
			if tt.wantError {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantSeq, info.Sequence)
			assert.Equal(t, tt.wantName, info.Name)
			assert.Equal(t, tt.wantDir, info.Direction)
			assert.Equal(t, tt.filename, info.Filename)
		})
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(), "embedded migrations must pass startup validation")
}

func TestEmbeddedFilesReadable(t *testing.T) {
	files, err := List()
	require.NoError(t, err)

	for _, file := range files {
		content, err := fs.ReadFile(FS(), file)
		require.NoError(t, err, "failed to read %s", file)
		assert.NotEmpty(t, content, "migration file %s is empty", file)
	}
}
