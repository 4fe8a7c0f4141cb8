package token

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/miekg/pkcs11"

	"github.com/georgepadayatti/tokenstamp/config"
)

// Session is one open, logged-in PKCS#11 session. Close releases it and
// the module exactly once.
type Session struct {
	module   Module
	handle   pkcs11.SessionHandle
	slotID   uint
	loggedIn bool

	once     sync.Once
	closeErr error
}

// SlotID returns the slot the session was opened on.
func (s *Session) SlotID() uint { return s.slotID }

// Close logs out, closes the session and finalizes the module. Every step
// runs even if an earlier one fails; the failures are joined.
func (s *Session) Close() error {
	s.once.Do(func() {
		var errs []error
		if s.loggedIn {
			if err := s.module.Logout(s.handle); err != nil {
				errs = append(errs, fmt.Errorf("logout: %w", err))
			}
		}
		if err := s.module.CloseSession(s.handle); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
		if err := s.module.Finalize(); err != nil {
			errs = append(errs, fmt.Errorf("finalize: %w", err))
		}
		s.module.Destroy()
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// release undoes Initialize on an error path before a Session exists.
func release(m Module) error {
	err := m.Finalize()
	m.Destroy()
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	return nil
}

// OpenSession initializes m, selects a slot, opens a read-write session and
// logs in as the normal user. On failure, including a panic in the driver,
// everything acquired so far is released.
func OpenSession(ctx context.Context, m Module, cfg config.TokenConfig, pin string) (_ *Session, err error) {
	var (
		initialized bool
		s           *Session
		done        bool
	)
	defer func() {
		if done {
			return
		}
		var cerr error
		switch {
		case s != nil:
			cerr = s.Close()
		case initialized:
			cerr = release(m)
		default:
			m.Destroy()
		}
		if cerr != nil && err != nil {
			err = errors.Join(err, cerr)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.Initialize(); err != nil {
		return nil, fmt.Errorf("PKCS#11 initialize failed: %w", err)
	}
	initialized = true

	// Only slots with tokens
	slots, err := m.GetSlotList(true)
	if err != nil {
		return nil, fmt.Errorf("failed to get slots: %w", err)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: no slots with tokens available", ErrNoToken)
	}

	slot, err := FindToken(m, slots, cfg.SlotNo, cfg.TokenCriteria)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	handle, err := m.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION|pkcs11.CKF_RW_SESSION)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}

	s = &Session{module: m, handle: handle, slotID: slot}
	if err := m.Login(handle, pkcs11.CKU_USER, pin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	s.loggedIn = true
	done = true
	return s, nil
}

// FindToken picks a slot from those holding a token: the one at slotNo if
// given, else the first matching criteria, else the first slot.
func FindToken(m Module, slots []uint, slotNo *int, criteria config.TokenCriteria) (uint, error) {
	if slotNo != nil {
		if *slotNo < 0 || *slotNo >= len(slots) {
			return 0, fmt.Errorf("%w: slot %d not found (only %d slots available)", ErrNoToken, *slotNo, len(slots))
		}
		slot := slots[*slotNo]
		if !criteria.IsEmpty() {
			info, err := m.GetTokenInfo(slot)
			if err != nil {
				return 0, fmt.Errorf("failed to get token info: %w", err)
			}
			if !tokenMatchesCriteria(info, criteria) {
				return 0, fmt.Errorf("%w: token in slot %d does not match criteria %s", ErrNoToken, *slotNo, criteria)
			}
		}
		return slot, nil
	}

	if criteria.IsEmpty() {
		return slots[0], nil
	}

	for _, slot := range slots {
		info, err := m.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if tokenMatchesCriteria(info, criteria) {
			return slot, nil
		}
	}
	return 0, fmt.Errorf("%w: no token matching criteria %s", ErrNoToken, criteria)
}

// tokenMatchesCriteria checks if a token matches the given criteria.
func tokenMatchesCriteria(info pkcs11.TokenInfo, criteria config.TokenCriteria) bool {
	if criteria.Label != "" && trimPKCS11String(info.Label) != criteria.Label {
		return false
	}
	if criteria.Serial != "" && trimPKCS11String(info.SerialNumber) != criteria.Serial {
		return false
	}
	return true
}

// trimPKCS11String drops the space and NUL padding of fixed-width PKCS#11
// fields.
func trimPKCS11String(s string) string {
	return strings.TrimRight(s, " \x00")
}

// FirstCertificateLabel returns the CKA_LABEL of the first certificate on
// the token, falling back to the subject common name when the label is
// empty. The certificate subject is returned as well when it parses.
func (s *Session) FirstCertificateLabel() (label, subject string, err error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
	}
	if err := s.module.FindObjectsInit(s.handle, template); err != nil {
		return "", "", fmt.Errorf("FindObjectsInit failed: %w", err)
	}
	defer func() {
		if ferr := s.module.FindObjectsFinal(s.handle); ferr != nil && err == nil {
			err = fmt.Errorf("FindObjectsFinal failed: %w", ferr)
		}
	}()

	objs, _, err := s.module.FindObjects(s.handle, 1)
	if err != nil {
		return "", "", fmt.Errorf("FindObjects failed: %w", err)
	}
	if len(objs) == 0 {
		return "", "", ErrNoCertificate
	}

	attrs, err := s.module.GetAttributeValue(s.handle, objs[0], []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, nil),
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return "", "", fmt.Errorf("GetAttributeValue failed: %w", err)
	}

	var der []byte
	for _, a := range attrs {
		switch a.Type {
		case pkcs11.CKA_LABEL:
			label = decodeLabel(a.Value)
		case pkcs11.CKA_VALUE:
			der = a.Value
		}
	}

	var cn string
	if len(der) > 0 {
		if cert, perr := x509.ParseCertificate(der); perr == nil {
			subject = cert.Subject.String()
			cn = cert.Subject.CommonName
		}
	}
	if label == "" {
		label = cn
	}
	if label == "" {
		return "", subject, ErrNoUsername
	}
	return label, subject, nil
}

// decodeLabel reads a CKA_LABEL value as UTF-8.
func decodeLabel(b []byte) string {
	s := trimPKCS11String(string(b))
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return s
}
