package builder

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeHelperScript returns a shell helper program used to drive Helper
// against a real child process without depending on any real xenguest
// binary: it emits canned debug/progress/result frames on stdout.
func fakeHelperScript(t *testing.T, body string) string {
	t.Helper()
	path := t.TempDir() + "/helper.sh"
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestBuildParsesResultTokens(t *testing.T) {
	script := fakeHelperScript(t, `
echo "debug starting"
echo "progress 50"
echo "result 1024 2048 x86_64-abi"
`)

	h := New(script)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctlR, ctlW, err := os.Pipe()
	require.NoError(t, err)
	defer ctlR.Close()
	defer ctlW.Close()

	res, err := h.Build(ctx, nil, nil, ctlR, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1024), res.StoreMfn)
	require.Equal(t, uint64(2048), res.ConsoleMfn)
	require.Equal(t, ProtocolX86_64, res.Protocol)
}

func TestBuildSurfacesHelperReportedError(t *testing.T) {
	script := fakeHelperScript(t, `echo "error disk not found"`)

	h := New(script)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctlR, ctlW, err := os.Pipe()
	require.NoError(t, err)
	defer ctlR.Close()
	defer ctlW.Close()

	_, err = h.Build(ctx, nil, nil, ctlR, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk not found")
}

func TestBuildRejectsWrongTokenCount(t *testing.T) {
	script := fakeHelperScript(t, `echo "result 1024"`)

	h := New(script)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctlR, ctlW, err := os.Pipe()
	require.NoError(t, err)
	defer ctlR.Close()
	defer ctlW.Close()

	_, err = h.Build(ctx, nil, nil, ctlR, nil)
	require.Error(t, err)
}

func TestSaveInvokesOnSuspendThenSucceeds(t *testing.T) {
	script := fakeHelperScript(t, `
echo "progress 10"
echo "suspend"
echo "result ok"
`)

	h := New(script)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ctlR, ctlW, err := os.Pipe()
	require.NoError(t, err)
	defer ctlR.Close()
	defer ctlW.Close()
	imgR, imgW, err := os.Pipe()
	require.NoError(t, err)
	defer imgR.Close()
	defer imgW.Close()

	var suspended bool
	err = h.Save(ctx, nil, nil, ctlR, imgW, nil, false, func() error {
		suspended = true
		return nil
	}, nil)
	require.NoError(t, err)
	require.True(t, suspended)
}

func TestDMStateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	blob := []byte("qemu-device-model-state-bytes")

	require.NoError(t, WriteDMState(&buf, blob))

	got, err := ReadDMState(&buf)
	require.NoError(t, err)
	require.Equal(t, blob, got)
}

func TestReadDMStateRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBufferString("not the right magic at all....")
	_, err := ReadDMState(buf)
	require.Error(t, err)
}

func TestVerifySaveMagic(t *testing.T) {
	buf := bytes.NewBufferString(SaveMagic)
	require.NoError(t, VerifySaveMagic(buf))

	bad := bytes.NewBufferString("wrong magic bytes here.......")
	require.Error(t, VerifySaveMagic(bad))
}

func TestParsePercentClamps(t *testing.T) {
	pct, err := parsePercent("\b\b\b\b150")
	require.NoError(t, err)
	require.Equal(t, 100, pct)

	pct, err = parsePercent("-10")
	require.NoError(t, err)
	require.Equal(t, 0, pct)
}
