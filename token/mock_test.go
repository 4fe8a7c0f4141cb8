package token

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/miekg/pkcs11"
)

// mockCert is one certificate object on a mockModule token.
type mockCert struct {
	label string
	der   []byte
}

// mockToken is a token in one slot of a mockModule.
type mockToken struct {
	slot   uint
	label  string
	serial string
	certs  []mockCert
}

// mockModule is an in-memory PKCS#11 module that records every call.
type mockModule struct {
	mu sync.Mutex

	tokens   []mockToken
	pin      string
	loginErr    error
	finalizeErr error
	panicOn     string

	calls   []string
	session uint
	finding bool
	found   bool
}

func newMockModule(label string) *mockModule {
	return &mockModule{
		pin: "1234",
		tokens: []mockToken{{
			slot:   7,
			label:  "ePass2003       ",
			serial: "0001            ",
			certs:  []mockCert{{label: label}},
		}},
	}
}

func (m *mockModule) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if m.panicOn == call {
		panic("driver crashed in " + call)
	}
}

func (m *mockModule) count(call string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (m *mockModule) tokenFor(slot uint) *mockToken {
	for i := range m.tokens {
		if m.tokens[i].slot == slot {
			return &m.tokens[i]
		}
	}
	return nil
}

func (m *mockModule) Initialize() error { m.record("Initialize"); return nil }
func (m *mockModule) Finalize() error   { m.record("Finalize"); return m.finalizeErr }
func (m *mockModule) Destroy()          { m.record("Destroy") }

func (m *mockModule) GetSlotList(bool) ([]uint, error) {
	m.record("GetSlotList")
	slots := make([]uint, 0, len(m.tokens))
	for _, t := range m.tokens {
		slots = append(slots, t.slot)
	}
	return slots, nil
}

func (m *mockModule) GetTokenInfo(slot uint) (pkcs11.TokenInfo, error) {
	m.record("GetTokenInfo")
	t := m.tokenFor(slot)
	if t == nil {
		return pkcs11.TokenInfo{}, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	return pkcs11.TokenInfo{Label: t.label, SerialNumber: t.serial}, nil
}

func (m *mockModule) OpenSession(slot uint, flags uint) (pkcs11.SessionHandle, error) {
	m.record("OpenSession")
	if m.tokenFor(slot) == nil {
		return 0, pkcs11.Error(pkcs11.CKR_SLOT_ID_INVALID)
	}
	m.session = slot
	return pkcs11.SessionHandle(slot + 100), nil
}

func (m *mockModule) CloseSession(pkcs11.SessionHandle) error {
	m.record("CloseSession")
	return nil
}

func (m *mockModule) Login(_ pkcs11.SessionHandle, _ uint, pin string) error {
	m.record("Login")
	if m.loginErr != nil {
		return m.loginErr
	}
	if pin != m.pin {
		return pkcs11.Error(pkcs11.CKR_PIN_INCORRECT)
	}
	return nil
}

func (m *mockModule) Logout(pkcs11.SessionHandle) error {
	m.record("Logout")
	return nil
}

func (m *mockModule) FindObjectsInit(pkcs11.SessionHandle, []*pkcs11.Attribute) error {
	m.record("FindObjectsInit")
	if m.finding {
		return pkcs11.Error(pkcs11.CKR_OPERATION_ACTIVE)
	}
	m.finding = true
	m.found = false
	return nil
}

func (m *mockModule) FindObjects(_ pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error) {
	m.record("FindObjects")
	t := m.tokenFor(m.session)
	if t == nil || m.found {
		return nil, false, nil
	}
	m.found = true
	var objs []pkcs11.ObjectHandle
	for i := range t.certs {
		if len(objs) == max {
			break
		}
		objs = append(objs, pkcs11.ObjectHandle(i+1))
	}
	return objs, false, nil
}

func (m *mockModule) FindObjectsFinal(pkcs11.SessionHandle) error {
	m.record("FindObjectsFinal")
	m.finding = false
	return nil
}

func (m *mockModule) GetAttributeValue(_ pkcs11.SessionHandle, o pkcs11.ObjectHandle, attrs []*pkcs11.Attribute) ([]*pkcs11.Attribute, error) {
	m.record("GetAttributeValue")
	t := m.tokenFor(m.session)
	idx := int(o) - 1
	if t == nil || idx < 0 || idx >= len(t.certs) {
		return nil, pkcs11.Error(pkcs11.CKR_OBJECT_HANDLE_INVALID)
	}
	cert := t.certs[idx]
	out := make([]*pkcs11.Attribute, 0, len(attrs))
	for _, a := range attrs {
		switch a.Type {
		case pkcs11.CKA_LABEL:
			out = append(out, pkcs11.NewAttribute(pkcs11.CKA_LABEL, []byte(cert.label)))
		case pkcs11.CKA_VALUE:
			out = append(out, pkcs11.NewAttribute(pkcs11.CKA_VALUE, cert.der))
		}
	}
	return out, nil
}

func (m *mockModule) loader() Loader {
	return func(string) (Module, error) { return m, nil }
}

// balanced reports whether every Initialize was undone.
func (m *mockModule) balanced() bool {
	return m.count("Initialize") == m.count("Finalize") && m.count("Destroy") == 1
}

var errNoModule = errors.New("dlopen failed")

// selfSigned returns a DER certificate and its key for commonName.
func selfSigned(t *testing.T, commonName string) ([]byte, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{"Example"}},
		NotBefore:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2034, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("CreateCertificate: %v", err)
	}
	return der, key
}
