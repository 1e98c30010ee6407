package inference

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabels(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    LabelMap
		wantErr bool
	}{
		{
			name:  "one per line",
			input: "person\nbicycle\ncar\n",
			want:  LabelMap{0: "person", 1: "bicycle", 2: "car"},
		},
		{
			name:  "crlf and trailing spaces",
			input: "person \r\ntraffic light\t\r\n",
			want:  LabelMap{0: "person", 1: "traffic light"},
		},
		{
			name:  "trailing blank lines",
			input: "a\nb\n\n\n",
			want:  LabelMap{0: "a", 1: "b"},
		},
		{
			name:  "inner blank line keeps its id",
			input: "a\n\nc",
			want:  LabelMap{0: "a", 1: "", 2: "c"},
		},
		{
			name:    "empty",
			input:   "\n\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLabels(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()

	t.Run("ok", func(t *testing.T) {
		path := filepath.Join(dir, "coco.names")
		require.NoError(t, os.WriteFile(path, []byte("person\nbicycle\n"), 0o600))

		labels, err := LoadLabels(path)
		require.NoError(t, err)
		assert.Len(t, labels, 2)
		assert.Equal(t, "bicycle", labels.Name(1))
	})

	t.Run("missing", func(t *testing.T) {
		_, err := LoadLabels(filepath.Join(dir, "missing.names"))
		assert.ErrorIs(t, err, ErrResource)
	})

	t.Run("empty", func(t *testing.T) {
		path := filepath.Join(dir, "empty.names")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		_, err := LoadLabels(path)
		assert.ErrorIs(t, err, ErrResource)
	})
}

func TestLabelMapName(t *testing.T) {
	labels := COCOLabels()

	assert.Len(t, labels, 80)
	assert.Equal(t, "person", labels.Name(0))
	assert.Equal(t, "toothbrush", labels.Name(79))
	assert.Equal(t, UnknownLabel, labels.Name(80))
	assert.Equal(t, UnknownLabel, labels.Name(-1))
	assert.Equal(t, UnknownLabel, LabelMap(nil).Name(0))
}
