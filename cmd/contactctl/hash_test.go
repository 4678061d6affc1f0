package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/contacthub/internal/fingerprint"
)

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.Execute()
	return out.String(), err
}

func TestHash_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.csv")
	require.NoError(t, os.WriteFile(path, []byte("First Name, Work  Email\nAda,ada@example.com\n"), 0o600))

	out, err := runCLI(t, "", "hash", path)
	require.NoError(t, err)

	want := fingerprint.Headers([]string{"first name", "work email"})
	assert.Contains(t, out, "normalized: first name | work email")
	assert.Contains(t, out, "hash:       "+want)
}

func TestHash_JSONFromStdin(t *testing.T) {
	out, err := runCLI(t, "Name,Email\n", "hash", "--json", "-")
	require.NoError(t, err)

	var layout headerLayout
	require.NoError(t, json.Unmarshal([]byte(out), &layout))
	assert.Equal(t, []string{"Name", "Email"}, layout.Headers)
	assert.Equal(t, []string{"name", "email"}, layout.HeaderNormalized)
	assert.Equal(t, fingerprint.Headers(layout.HeaderNormalized), layout.HeaderHash)
	assert.Equal(t, fingerprint.Algorithm, layout.HeaderHashAlgorithm)
}

func TestHash_Errors(t *testing.T) {
	_, err := runCLI(t, "", "hash", filepath.Join(t.TempDir(), "missing.csv"))
	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitUsage, ee.code)

	_, err = runCLI(t, "", "hash", "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty file")
}

func TestImport_RejectsBadFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad tenant", []string{"import", "--tenant", "acme", "--owner", "00000000-0000-4000-8000-000000000001", "x.csv"}},
		{"bad match", []string{"import", "--tenant", "00000000-0000-4000-8000-000000000001",
			"--owner", "00000000-0000-4000-8000-000000000001", "--match", "phone", "x.csv"}},
		{"stdin", []string{"import", "--tenant", "00000000-0000-4000-8000-000000000001",
			"--owner", "00000000-0000-4000-8000-000000000001", "-"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, "", tt.args...)
			var ee *exitError
			require.True(t, errors.As(err, &ee), "err = %v", err)
			assert.Equal(t, exitUsage, ee.code)
		})
	}
}
