package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/georgepadayatti/tokenstamp/config"
)

// TimestampLayout formats the stamp timestamp as YYYY-MM-DD HH:MM:SS.
const TimestampLayout = "2006-01-02 15:04:05"

// Identity is what a token read yields for the stamp.
type Identity struct {
	Username           string `json:"username"`
	Timestamp          string `json:"timestamp"`
	Slot               uint   `json:"slot"`
	CertificateSubject string `json:"certificate_subject,omitempty"`
}

// Result is the outcome of one read: an Identity or an error, never both.
type Result struct {
	Identity *Identity
	Err      error
}

// Success wraps id.
func Success(id Identity) Result { return Result{Identity: &id} }

// Failure wraps err.
func Failure(err error) Result { return Result{Err: err} }

// OK reports whether the read produced an identity.
func (r Result) OK() bool { return r.Err == nil && r.Identity != nil }

// Get returns the identity or the error.
func (r Result) Get() (Identity, error) {
	if r.Err != nil {
		return Identity{}, r.Err
	}
	if r.Identity == nil {
		return Identity{}, errors.New("empty token result")
	}
	return *r.Identity, nil
}

func (r Result) String() string {
	if !r.OK() {
		return fmt.Sprintf("failure: %v", r.Err)
	}
	return fmt.Sprintf("%s at %s", r.Identity.Username, r.Identity.Timestamp)
}

// Source produces identities. Reader and PKCS12Reader implement it.
type Source interface {
	Read(ctx context.Context) Result
}

// Reader reads the identity from the first certificate of a PKCS#11 token.
type Reader struct {
	cfg    config.TokenConfig
	pin    config.PINSource
	load   Loader
	clock  clockwork.Clock
	logger *zap.Logger
}

// NewReader creates a reader for cfg. pin is asked for the PIN once per
// read, before the module is loaded.
func NewReader(cfg config.TokenConfig, pin config.PINSource) *Reader {
	return &Reader{
		cfg:    cfg,
		pin:    pin,
		load:   DefaultLoader,
		clock:  clockwork.NewRealClock(),
		logger: zap.NewNop(),
	}
}

// WithLoader replaces the module loader.
func (r *Reader) WithLoader(l Loader) *Reader {
	r.load = l
	return r
}

// WithClock replaces the clock used for timestamps.
func (r *Reader) WithClock(c clockwork.Clock) *Reader {
	r.clock = c
	return r
}

// WithLogger sets the logger.
func (r *Reader) WithLogger(l *zap.Logger) *Reader {
	r.logger = l
	return r
}

// Read opens one session, reads the first certificate label and closes the
// session again. A panic in the driver is reported as ErrDriver.
func (r *Reader) Read(ctx context.Context) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("PKCS#11 driver panicked", zap.Any("panic", p))
			res = Failure(fmt.Errorf("%w: %v", ErrDriver, p))
		}
	}()

	if r.pin == nil {
		return Failure(fmt.Errorf("%w: no PIN source", config.ErrEmptyPIN))
	}
	pin, err := r.pin()
	if err != nil {
		return Failure(fmt.Errorf("failed to obtain PIN: %w", err))
	}

	r.logger.Debug("loading PKCS#11 module", zap.String("module", r.cfg.ModulePath))
	module, err := r.load(r.cfg.ModulePath)
	if err != nil {
		return Failure(err)
	}

	sess, err := OpenSession(ctx, module, r.cfg, pin)
	if err != nil {
		return Failure(err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			r.logger.Warn("failed to release PKCS#11 session", zap.Error(cerr))
		}
	}()

	label, subject, err := sess.FirstCertificateLabel()
	if err != nil {
		return Failure(err)
	}

	id := Identity{
		Username:           label,
		Timestamp:          r.clock.Now().Format(TimestampLayout),
		Slot:               sess.SlotID(),
		CertificateSubject: subject,
	}
	r.logger.Info("token read",
		zap.String("username", id.Username),
		zap.String("timestamp", id.Timestamp),
		zap.Uint("slot", id.Slot))
	return Success(id)
}
