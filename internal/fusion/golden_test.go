package fusion

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/address-normalizer/app/models"
)

// goldenCase is one testdata/golden/*.json file.
type goldenCase struct {
	Raw    string `json:"raw"`
	Expect struct {
		Status models.Status               `json:"status"`
		Fields map[models.Component]string `json:"fields"`
		Flags  []string                    `json:"flags,omitempty"`
	} `json:"expect"`
}

func TestGolden(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "golden", "*.json"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	e := newEngine(t, nil, nil)
	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			data, err := os.ReadFile(file)
			require.NoError(t, err)
			var gc goldenCase
			require.NoError(t, json.Unmarshal(data, &gc))

			na := fuseText(e, gc.Raw)
			if diff := cmp.Diff(gc.Expect.Fields, values(na)); diff != "" {
				t.Fatalf("%q fields mismatch (-want +got):\n%s", gc.Raw, diff)
			}
			assert.Equal(t, gc.Expect.Status, na.Status)
			for _, f := range gc.Expect.Flags {
				assert.True(t, na.HasFlag(f), "missing flag %s", f)
			}
		})
	}
}
