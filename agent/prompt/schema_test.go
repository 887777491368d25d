package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchemaFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schemas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadSchemaSet(t *testing.T) {
	path := writeSchemaFile(t, `
risk_scoring:
  required: [student_id]
  fields:
    student_id: string
    attendance_rate: number
    grades: array
seating:
  strict: true
  fields:
    rows: integer
`)

	set, err := LoadSchemaSet(path)
	require.NoError(t, err)
	require.Len(t, set, 2)
	assert.Equal(t, []string{"student_id"}, set["risk_scoring"].Required)
	assert.Equal(t, KindNumber, set["risk_scoring"].Fields["attendance_rate"])
	assert.True(t, set["seating"].Strict)

	assert.NoError(t, set.Validate("risk_scoring", map[string]any{"student_id": "S-1", "grades": []any{90}}))
	assert.Error(t, set.Validate("risk_scoring", map[string]any{"attendance_rate": 0.9}))
}

func TestLoadSchemaSet_Errors(t *testing.T) {
	_, err := LoadSchemaSet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadSchemaSet(writeSchemaFile(t, "risk_scoring: [not, a, map"))
	assert.Error(t, err)

	_, err = LoadSchemaSet(writeSchemaFile(t, "risk_scoring:\n  fields:\n    student_id: uuid\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "uuid"`)
}
