package token

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"software.sslmate.com/src/go-pkcs12"
)

// ErrPKCS12 wraps failures to read a PKCS#12 file.
var ErrPKCS12 = errors.New("failed to load PKCS#12 identity")

// PKCS12Reader takes the identity from the leaf certificate of a PKCS#12
// file, for machines without a hardware token.
type PKCS12Reader struct {
	path       string
	passphrase string
	clock      clockwork.Clock
	logger     *zap.Logger
}

// NewPKCS12Reader creates a reader for the file at path.
func NewPKCS12Reader(path, passphrase string) *PKCS12Reader {
	return &PKCS12Reader{
		path:       path,
		passphrase: passphrase,
		clock:      clockwork.NewRealClock(),
		logger:     zap.NewNop(),
	}
}

// WithClock replaces the clock used for timestamps.
func (r *PKCS12Reader) WithClock(c clockwork.Clock) *PKCS12Reader {
	r.clock = c
	return r
}

// WithLogger sets the logger.
func (r *PKCS12Reader) WithLogger(l *zap.Logger) *PKCS12Reader {
	r.logger = l
	return r
}

// Read decodes the file and uses the leaf common name as username.
func (r *PKCS12Reader) Read(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Failure(err)
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return Failure(fmt.Errorf("%w: %v", ErrPKCS12, err))
	}

	_, cert, _, err := pkcs12.DecodeChain(data, r.passphrase)
	if err != nil {
		return Failure(fmt.Errorf("%w: failed to decode P12: %v", ErrPKCS12, err))
	}
	if cert == nil {
		return Failure(ErrNoCertificate)
	}
	if cert.Subject.CommonName == "" {
		return Failure(ErrNoUsername)
	}

	id := Identity{
		Username:           cert.Subject.CommonName,
		Timestamp:          r.clock.Now().Format(TimestampLayout),
		CertificateSubject: cert.Subject.String(),
	}
	r.logger.Info("identity read from PKCS#12 file",
		zap.String("file", r.path),
		zap.String("username", id.Username))
	return Success(id)
}
