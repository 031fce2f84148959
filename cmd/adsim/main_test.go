package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/spf13/cobra"

	"github.com/dimdimlv/mt-project/simapi"
)

// newTestRootCmd creates a root command with persistent flags for testing subcommands
func newTestRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "adsim",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.AddCommand(newVersionCmd(), newRunCmd(), newSweepCmd(), newVerifyCmd(), newKeygenCmd())
	return rootCmd
}

// execute runs args against a fresh command tree and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newTestRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// isolate moves the test into a temp directory so no .env file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

type signedRunFiles struct {
	key, pub, events, summary string
}

// signedRun generates a key, runs a small simulation writing events and a
// signed summary, and returns the paths involved.
func signedRun(t *testing.T, dir, eventsFormat, signedFormat string) signedRunFiles {
	t.Helper()
	files := signedRunFiles{
		key:     filepath.Join(dir, "key.pem"),
		pub:     filepath.Join(dir, "key.pub.pem"),
		events:  filepath.Join(dir, "events."+eventsFormat),
		summary: filepath.Join(dir, "run.cose"),
	}

	_, err := execute(t, "keygen", "--out", files.key)
	assert.NoError(t, err)

	_, err = execute(t, "run",
		"--seed", "7", "--iterations", "2", "--rounds", "25",
		"--events", files.events, "--events-format", eventsFormat,
		"--sign-key", files.key, "--signed-out", files.summary, "--signed-format", signedFormat)
	assert.NoError(t, err)
	return files
}

func TestNewCommands(t *testing.T) {
	tests := []struct {
		cmd *cobra.Command
		use string
	}{
		{newVersionCmd(), "version"},
		{newRunCmd(), "run"},
		{newSweepCmd(), "sweep"},
		{newVerifyCmd(), "verify"},
		{newKeygenCmd(), "keygen"},
	}
	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			check.Equal(t, tt.use, tt.cmd.Use)
		})
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	assert.NoError(t, err)
	check.Equal(t, "adsim version "+version+"\n", out)

	out, err = execute(t, "version", "--json")
	assert.NoError(t, err)
	var parsed map[string]string
	assert.NoError(t, json.Unmarshal([]byte(out), &parsed))
	check.Equal(t, version, parsed["version"])
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil", nil, exitOK},
		{"plain error", errors.New("boom"), exitRuntimeError},
		{"validation failed", &exitError{code: exitInvalid, err: errors.New("x")}, exitInvalid},
		{"wrapped", errors.Join(errors.New("ctx"), &exitError{code: exitInvalid, err: errors.New("x")}), exitInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check.Equal(t, tt.expected, exitCode(tt.err))
		})
	}
}

func TestPublicKeyPath(t *testing.T) {
	check.Equal(t, "key.pub.pem", publicKeyPath("key.pem"))
	check.Equal(t, "/keys/signer.pub", publicKeyPath("/keys/signer"))
}

func TestKeygenCmd(t *testing.T) {
	dir := isolate(t)
	keyPath := filepath.Join(dir, "key.pem")

	out, err := execute(t, "keygen", "--out", keyPath, "--json")
	assert.NoError(t, err)

	var parsed map[string]string
	assert.NoError(t, json.Unmarshal([]byte(out), &parsed))
	check.Equal(t, keyPath, parsed["private_key"])
	check.Equal(t, filepath.Join(dir, "key.pub.pem"), parsed["public_key"])
	check.Equal(t, 16, len(parsed["key_id"]))

	info, err := os.Stat(keyPath)
	assert.NoError(t, err)
	check.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Refuses to overwrite without --force
	_, err = execute(t, "keygen", "--out", keyPath)
	check.Error(t, err)
	check.Equal(t, exitRuntimeError, exitCode(err))

	_, err = execute(t, "keygen", "--out", keyPath, "--force")
	check.NoError(t, err)
}

func TestRunCmd_Text(t *testing.T) {
	isolate(t)

	out, err := execute(t, "run", "--seed", "3", "--iterations", "2", "--rounds", "10")
	assert.NoError(t, err)
	check.True(t, strings.Contains(out, "Seed:          3"))
	check.True(t, strings.Contains(out, "Digest:"))
	check.True(t, strings.Contains(out, "agent_oracle"))
}

func TestRunCmd_JSONIsReproducible(t *testing.T) {
	isolate(t)

	run := func() simapi.RunSummary {
		out, err := execute(t, "run", "--seed", "5", "--iterations", "2", "--rounds", "15", "--json")
		assert.NoError(t, err)
		var summary simapi.RunSummary
		assert.NoError(t, json.Unmarshal([]byte(out), &summary))
		return summary
	}

	first, second := run(), run()
	check.Equal(t, uint64(5), first.Seed)
	check.Equal(t, 2, len(first.Reports))
	check.Equal(t, first.Digest, second.Digest)
	check.NotEqual(t, first.RunID, second.RunID)
}

func TestRunCmd_InvalidInput(t *testing.T) {
	dir := isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{"zero rounds", []string{"run", "--rounds", "0"}},
		{"missing config", []string{"run", "--config", filepath.Join(dir, "missing.yaml")}},
		{"sign key without output", []string{"run", "--sign-key", "key.pem"}},
		{"unknown signed format", []string{"run", "--signed-format", "pem"}},
		{"unknown events format", []string{"run", "--events", filepath.Join(dir, "e"), "--events-format", "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			check.Error(t, err)
			check.Equal(t, exitRuntimeError, exitCode(err))
		})
	}
}

func TestRunCmd_ConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "sim.yaml")
	yaml := `seed: 11
iterations: 1
rounds_per_iteration: 12
auction:
  mechanism: first_price
`
	assert.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	out, err := execute(t, "run", "--config", path, "--json")
	assert.NoError(t, err)

	var summary simapi.RunSummary
	assert.NoError(t, json.Unmarshal([]byte(out), &summary))
	check.Equal(t, uint64(11), summary.Seed)
	check.Equal(t, "first_price", summary.Mechanism)
	check.Equal(t, 12, summary.RoundsPerIteration)
}

func TestVerifyCmd_Passes(t *testing.T) {
	tests := []struct {
		eventsFormat string
		signedFormat string
	}{
		{"cbor", signedFormatRaw},
		{"jsonl", signedFormatGzip},
	}
	for _, tt := range tests {
		t.Run(tt.eventsFormat+"/"+tt.signedFormat, func(t *testing.T) {
			dir := isolate(t)
			files := signedRun(t, dir, tt.eventsFormat, tt.signedFormat)

			out, err := execute(t, "verify",
				"--summary", files.summary, "--public-key", files.pub,
				"--events", files.events, "--events-format", tt.eventsFormat, "--seed", "7")
			assert.NoError(t, err)
			check.True(t, strings.Contains(out, "VALIDATION: ✓ PASSED"))
			check.True(t, strings.Contains(out, "Digest Chain Valid:      true"))
		})
	}
}

func TestVerifyCmd_JSON(t *testing.T) {
	dir := isolate(t)
	files := signedRun(t, dir, "cbor", signedFormatRaw)

	out, err := execute(t, "verify", "--summary", files.summary, "--public-key", files.pub, "--json")
	assert.NoError(t, err)

	var parsed struct {
		Valid         bool     `json:"valid"`
		EventsChecked bool     `json:"events_checked"`
		Seed          uint64   `json:"seed"`
		Details       []string `json:"details"`
	}
	assert.NoError(t, json.Unmarshal([]byte(out), &parsed))
	check.True(t, parsed.Valid)
	check.False(t, parsed.EventsChecked)
	check.Equal(t, uint64(7), parsed.Seed)
	check.True(t, len(parsed.Details) > 0)
}

func TestVerifyCmd_Fails(t *testing.T) {
	dir := isolate(t)
	files := signedRun(t, dir, "jsonl", signedFormatRaw)

	otherKey := filepath.Join(dir, "other.pem")
	_, err := execute(t, "keygen", "--out", otherKey)
	assert.NoError(t, err)

	// Rewrite the stream with one price changed
	tampered := filepath.Join(dir, "tampered.jsonl")
	f, err := os.Open(files.events)
	assert.NoError(t, err)
	events, err := simapi.ReadEvents(f, simapi.FormatJSONL)
	f.Close()
	assert.NoError(t, err)
	events[0].Price += 1
	tf, err := os.Create(tampered)
	assert.NoError(t, err)
	w, err := simapi.NewEventWriter(tf, simapi.FormatJSONL)
	assert.NoError(t, err)
	for _, e := range events {
		assert.NoError(t, w.WriteEvent(e))
	}
	assert.NoError(t, w.Flush())
	assert.NoError(t, tf.Close())

	tests := []struct {
		name string
		args []string
	}{
		{"wrong key", []string{"--public-key", filepath.Join(dir, "other.pub.pem")}},
		{"wrong seed", []string{"--public-key", files.pub, "--seed", "8"}},
		{"tampered events", []string{"--public-key", files.pub, "--events", tampered, "--events-format", "jsonl"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"verify", "--summary", files.summary}, tt.args...)
			out, err := execute(t, args...)
			check.Error(t, err)
			check.Equal(t, exitInvalid, exitCode(err))
			check.True(t, strings.Contains(out, "VALIDATION: ✗ FAILED"))
		})
	}
}

func TestVerifyCmd_InvalidInput(t *testing.T) {
	dir := isolate(t)
	files := signedRun(t, dir, "cbor", signedFormatRaw)

	garbage := filepath.Join(dir, "garbage.cose")
	assert.NoError(t, os.WriteFile(garbage, []byte("not a summary"), 0o644))

	tests := []struct {
		name string
		args []string
	}{
		{"missing flags", []string{"verify"}},
		{"missing summary file", []string{"verify", "--summary", filepath.Join(dir, "none"), "--public-key", files.pub}},
		{"garbage summary", []string{"verify", "--summary", garbage, "--public-key", files.pub}},
		{"missing events file", []string{"verify", "--summary", files.summary, "--public-key", files.pub, "--events", filepath.Join(dir, "none")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			check.Error(t, err)
			check.Equal(t, exitRuntimeError, exitCode(err))
		})
	}
}

func TestSweepCmd(t *testing.T) {
	isolate(t)

	out, err := execute(t, "sweep", "--seeds", "4,5,4", "--workers", "2",
		"--iterations", "1", "--rounds", "10", "--json")
	assert.NoError(t, err)

	var rows []sweepRow
	assert.NoError(t, json.Unmarshal([]byte(out), &rows))
	assert.Equal(t, 3, len(rows))
	check.Equal(t, uint64(4), rows[0].Seed)
	check.Equal(t, uint64(5), rows[1].Seed)
	check.Equal(t, rows[0].Digest, rows[2].Digest)
	check.NotEqual(t, rows[0].Digest, rows[1].Digest)

	_, err = execute(t, "sweep")
	check.Error(t, err)
	check.Equal(t, exitRuntimeError, exitCode(err))
}
