package token

import (
	"context"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/georgepadayatti/tokenstamp/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

func staticPIN(pin string) config.PINSource {
	return func() (string, error) { return pin, nil }
}

func newTestReader(t *testing.T, m *mockModule, clock clockwork.Clock) *Reader {
	cfg := config.TokenConfig{Source: config.SourcePKCS11, ModulePath: "/usr/lib/mock.so"}
	return NewReader(cfg, staticPIN("1234")).
		WithLoader(m.loader()).
		WithClock(clock).
		WithLogger(zaptest.NewLogger(t))
}

func TestReadIdentity(t *testing.T) {
	m := newMockModule("ALICE")
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC))

	res := newTestReader(t, m, clock).Read(context.Background())
	require.True(t, res.OK(), "read failed: %v", res.Err)

	id, err := res.Get()
	require.NoError(t, err)
	assert.Equal(t, "ALICE", id.Username)
	assert.Equal(t, "2024-03-05 14:07:09", id.Timestamp)
	assert.Regexp(t, timestampPattern, id.Timestamp)
	assert.Equal(t, uint(7), id.Slot)
	assert.Equal(t, "ALICE at 2024-03-05 14:07:09", res.String())

	for _, call := range []string{"Logout", "CloseSession", "Finalize", "Destroy"} {
		assert.Equal(t, 1, m.count(call), call)
	}
}

func TestReadRealClockTimestamp(t *testing.T) {
	m := newMockModule("ALICE")
	res := newTestReader(t, m, clockwork.NewRealClock()).Read(context.Background())
	require.True(t, res.OK())
	assert.Regexp(t, timestampPattern, res.Identity.Timestamp)
}

func TestReadNoCertificate(t *testing.T) {
	m := newMockModule("ALICE")
	m.tokens[0].certs = nil

	res := newTestReader(t, m, clockwork.NewFakeClock()).Read(context.Background())
	assert.False(t, res.OK())
	assert.Nil(t, res.Identity)
	assert.ErrorIs(t, res.Err, ErrNoCertificate)
	assert.Contains(t, res.String(), "failure")

	_, err := res.Get()
	assert.ErrorIs(t, err, ErrNoCertificate)
	assert.Equal(t, 1, m.count("Logout"))
	assert.True(t, m.balanced(), "calls %v", m.calls)
}

func TestReadLoginFailure(t *testing.T) {
	m := newMockModule("ALICE")
	m.loginErr = errors.New("CKR_PIN_LOCKED")

	res := newTestReader(t, m, clockwork.NewFakeClock()).Read(context.Background())
	assert.ErrorIs(t, res.Err, ErrLoginFailed)
	assert.Zero(t, m.count("FindObjectsInit"))
	assert.True(t, m.balanced(), "calls %v", m.calls)
}

func TestReadPINFailureSkipsModule(t *testing.T) {
	loaded := false
	r := NewReader(config.TokenConfig{ModulePath: "/x.so"}, func() (string, error) {
		return "", config.ErrNoTerminal
	}).WithLoader(func(string) (Module, error) {
		loaded = true
		return nil, errNoModule
	})

	res := r.Read(context.Background())
	assert.ErrorIs(t, res.Err, config.ErrNoTerminal)
	assert.False(t, loaded)
}

func TestReadNilPINSource(t *testing.T) {
	res := NewReader(config.TokenConfig{}, nil).Read(context.Background())
	assert.ErrorIs(t, res.Err, config.ErrEmptyPIN)
}

func TestReadModuleLoadFailure(t *testing.T) {
	r := NewReader(config.TokenConfig{ModulePath: "/x.so"}, staticPIN("1234")).
		WithLoader(func(path string) (Module, error) {
			return nil, errors.Join(ErrModuleLoad, errNoModule)
		})

	res := r.Read(context.Background())
	assert.ErrorIs(t, res.Err, ErrModuleLoad)
}

func TestDefaultLoaderMissingLibrary(t *testing.T) {
	_, err := DefaultLoader(filepath.Join(t.TempDir(), "missing.so"))
	assert.ErrorIs(t, err, ErrModuleLoad)
}

func TestReadRecoversDriverPanic(t *testing.T) {
	m := newMockModule("ALICE")
	m.panicOn = "FindObjects"

	res := newTestReader(t, m, clockwork.NewFakeClock()).Read(context.Background())
	assert.ErrorIs(t, res.Err, ErrDriver)
	assert.Equal(t, 1, m.count("CloseSession"), "the session is still released")
}

func TestReadReleasesSessionOnLoginPanic(t *testing.T) {
	m := newMockModule("ALICE")
	m.panicOn = "Login"

	res := newTestReader(t, m, clockwork.NewFakeClock()).Read(context.Background())
	assert.ErrorIs(t, res.Err, ErrDriver)
	assert.Equal(t, 1, m.count("CloseSession"))
	assert.True(t, m.balanced(), "module not released: %v", m.calls)
}

func TestResultZeroValue(t *testing.T) {
	var r Result
	assert.False(t, r.OK())
	_, err := r.Get()
	assert.Error(t, err)
}

func writePKCS12(t *testing.T, commonName, password string) string {
	t.Helper()
	der, key := selfSigned(t, commonName)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	pfx, err := pkcs12.Modern.Encode(key, cert, nil, password)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "id.p12")
	require.NoError(t, os.WriteFile(path, pfx, 0o600))
	return path
}

func TestPKCS12Reader(t *testing.T) {
	path := writePKCS12(t, "BOB", "secret")
	clock := clockwork.NewFakeClockAt(time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC))

	res := NewPKCS12Reader(path, "secret").
		WithClock(clock).
		WithLogger(zaptest.NewLogger(t)).
		Read(context.Background())
	require.True(t, res.OK(), "read failed: %v", res.Err)
	assert.Equal(t, "BOB", res.Identity.Username)
	assert.Equal(t, "2025-12-31 23:59:59", res.Identity.Timestamp)
	assert.Contains(t, res.Identity.CertificateSubject, "CN=BOB")
}

func TestPKCS12ReaderErrors(t *testing.T) {
	path := writePKCS12(t, "BOB", "secret")

	res := NewPKCS12Reader(path, "wrong").Read(context.Background())
	assert.ErrorIs(t, res.Err, ErrPKCS12)

	res = NewPKCS12Reader(filepath.Join(t.TempDir(), "none.p12"), "secret").Read(context.Background())
	assert.ErrorIs(t, res.Err, ErrPKCS12)

	noName := writePKCS12(t, "", "secret")
	res = NewPKCS12Reader(noName, "secret").Read(context.Background())
	assert.ErrorIs(t, res.Err, ErrNoUsername)
}

func TestSourcesImplementInterface(t *testing.T) {
	var _ Source = (*Reader)(nil)
	var _ Source = (*PKCS12Reader)(nil)
}
