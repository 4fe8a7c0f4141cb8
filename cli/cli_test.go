package cli

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/georgepadayatti/tokenstamp/internal/testpdf"
	"github.com/georgepadayatti/tokenstamp/locate"
	"github.com/georgepadayatti/tokenstamp/workflow"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand(&out, &errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func writeP12(t *testing.T, dir, commonName, password string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	pfx, err := pkcs12.Modern.Encode(key, cert, nil, password)
	require.NoError(t, err)

	path := filepath.Join(dir, "id.p12")
	require.NoError(t, os.WriteFile(path, pfx, 0o600))
	return path
}

func writeInput(t *testing.T, dir, text string) string {
	t.Helper()
	return testpdf.WriteFile(t, dir, "in.pdf",
		testpdf.Build(t, testpdf.Options{}, testpdf.Text(72, 700, 12, text)))
}

func TestVersionCommand(t *testing.T) {
	Version = "1.2.3"
	defer func() { Version = "dev" }()

	out, _, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tokenstamp version 1.2.3")
	assert.Contains(t, out, "Build time: unknown")
}

func TestStampWithPKCS12(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "Approved by AUTHORISED SIGNATORY")
	out := filepath.Join(dir, "out.pdf")
	p12 := writeP12(t, dir, "CAROL", "secret")
	t.Setenv("TOKENSTAMP_TOKEN_PFX_PASSPHRASE", "secret")

	stdout, _, err := execute(t, "stamp", "--source", "pkcs12", "--pkcs12", p12, "--log-level", "error", in, out)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Signed by: CAROL")
	assert.Contains(t, stdout, "Stamp: page 1 at (152.704, 738.616)")

	occ, err := locate.FindFile(out, "Digitally Signed by: CAROL")
	require.NoError(t, err)
	assert.Len(t, occ, 1)
}

func TestStampJSONReport(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "Nothing here")
	out := filepath.Join(dir, "out.pdf")
	p12 := writeP12(t, dir, "CAROL", "secret")
	t.Setenv("TOKENSTAMP_TOKEN_PFX_PASSPHRASE", "secret")

	stdout, _, err := execute(t, "stamp", "--json", "--source", "pkcs12", "--pkcs12", p12,
		"--verify=false", "--log-level", "error", in, out)
	require.NoError(t, err)

	var report struct {
		RunID    string `json:"run_id"`
		Fallback bool   `json:"fallback"`
		Identity struct {
			Username string `json:"username"`
		} `json:"identity"`
		InputDigest string `json:"input_blake2b"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.True(t, report.Fallback)
	assert.Equal(t, "CAROL", report.Identity.Username)
	assert.Len(t, report.InputDigest, 64)
	assert.NotEmpty(t, report.RunID)
}

func TestStampPhraseNotFound(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "AUTHORISED SIGNATORIES")
	out := filepath.Join(dir, "out.pdf")

	_, _, err := execute(t, "stamp", "--fallback=false", "--source", "pkcs12", "--pkcs12", "unused.p12",
		"--log-level", "error", in, out)
	assert.ErrorIs(t, err, workflow.ErrPhraseNotFound)

	_, err = os.Stat(out)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestStampTokenFailure(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "AUTHORISED SIGNATORY")
	out := filepath.Join(dir, "out.pdf")

	_, _, err := execute(t, "stamp", "--source", "pkcs12", "--pkcs12", filepath.Join(dir, "missing.p12"),
		"--log-level", "error", in, out)
	assert.ErrorIs(t, err, workflow.ErrTokenRead)

	_, err = os.Stat(out)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLocateCommand(t *testing.T) {
	dir := t.TempDir()
	in := writeInput(t, dir, "Approved by AUTHORISED SIGNATORY")

	stdout, _, err := execute(t, "locate", in)
	require.NoError(t, err)
	assert.Contains(t, stdout, "page 1 [")
	assert.Contains(t, stdout, "(142.704 ")

	stdout, _, err = execute(t, "locate", "--phrase", "SIGNATORIES", in)
	require.NoError(t, err)
	assert.Contains(t, stdout, "not found")

	stdout, _, err = execute(t, "locate", "--json", in)
	require.NoError(t, err)
	var results []LocateResult
	require.NoError(t, json.Unmarshal([]byte(stdout), &results))
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Page)
}

func TestTokenCommandPKCS12(t *testing.T) {
	dir := t.TempDir()
	p12 := writeP12(t, dir, "DAVE", "pw")
	t.Setenv("TOKENSTAMP_TOKEN_PFX_PASSPHRASE", "pw")

	stdout, _, err := execute(t, "token", "--source", "pkcs12", "--pkcs12", p12, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Username:  DAVE")
	assert.Regexp(t, `Timestamp: \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}`, stdout)
}

func TestTokenCommandNeedsModule(t *testing.T) {
	_, _, err := execute(t, "token", "--log-level", "error")
	assert.ErrorContains(t, err, "token.module-path")
}

func TestConfigShowRedactsPIN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tokenstamp.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token:\n  user-pin: \"98765\"\n"), 0o600))

	stdout, _, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.NotContains(t, stdout, "98765")
	assert.Contains(t, stdout, "<redacted>")
	assert.Contains(t, stdout, "phrase: AUTHORISED SIGNATORY")
}

func TestRunExitsNonZero(t *testing.T) {
	code := 0
	osExit = func(c int) { code = c }
	defer func() { osExit = os.Exit }()

	Run([]string{"tokenstamp", "stamp", "--log-level", "error"})
	assert.Equal(t, 1, code)
}
