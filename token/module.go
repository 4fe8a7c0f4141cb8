// Package token reads the signer identity from a PKCS#11 token or a
// PKCS#12 file.
package token

import (
	"errors"
	"fmt"

	"github.com/miekg/pkcs11"
)

// Common errors
var (
	ErrModuleLoad    = errors.New("failed to load PKCS#11 module")
	ErrNoToken       = errors.New("no PKCS#11 token found")
	ErrSessionFailed = errors.New("failed to open PKCS#11 session")
	ErrLoginFailed   = errors.New("PKCS#11 login failed")
	ErrNoCertificate = errors.New("no certificate on token")
	ErrNoUsername    = errors.New("certificate has no label or common name")
	ErrDriver        = errors.New("PKCS#11 driver fault")
)

// Module is the part of a PKCS#11 context the reader uses. *pkcs11.Ctx
// implements it.
type Module interface {
	Initialize() error
	Finalize() error
	Destroy()
	GetSlotList(tokenPresent bool) ([]uint, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error
	Logout(sh pkcs11.SessionHandle) error
	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)
}

var _ Module = (*pkcs11.Ctx)(nil)

// Loader loads the PKCS#11 module at path.
type Loader func(path string) (Module, error)

// DefaultLoader loads a shared library through miekg/pkcs11.
func DefaultLoader(path string) (Module, error) {
	ctx := pkcs11.New(path)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleLoad, path)
	}
	return ctx, nil
}
