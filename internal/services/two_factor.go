package services

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"net/url"
	"strings"
	"time"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/qr"
	"github.com/huangang/gatehouse/backend/internal/config"
	"github.com/huangang/gatehouse/backend/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpPeriod = 30
	qrSize     = 300
)

// Enrollment is shown once so the user can add the secret to an authenticator app.
type Enrollment struct {
	Secret string
	URI    string
	QRCode []byte // PNG
}

type TwoFactorService struct {
	users  *UserService
	issuer string
	skew   uint
	now    func() time.Time
	qrCode func(content string) ([]byte, error)
}

func NewTwoFactorService(users *UserService, cfg config.TwoFactorConfig) *TwoFactorService {
	return &TwoFactorService{
		users:  users,
		issuer: cfg.Issuer,
		skew:   cfg.Skew,
		now:    time.Now,
		qrCode: QRCode,
	}
}

// Required reports whether user must pass a second factor under settings.
func (s *TwoFactorService) Required(settings Settings, user *models.User) bool {
	switch settings.TwoFactor {
	case TwoFactorRequired:
		return true
	case TwoFactorOptional:
		return user.TwoFactorOptin
	}
	return false
}

// Enroll stores a fresh, unconfirmed secret. A confirmed device is left alone.
func (s *TwoFactorService) Enroll(ctx context.Context, user *models.User, siteName string) (*Enrollment, error) {
	if user.HasTwoFactorDevice() {
		return nil, ErrTwoFactorAlreadyEnrolled
	}

	issuer := s.issuer
	if issuer == "" {
		issuer = siteName
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: user.Username,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := key.Secret()

	// the pending secret is only replaced once the QR code exists
	uri := ProvisioningURI(siteName, user.Username, secret, issuer)
	img, err := s.qrCode(uri)
	if err != nil {
		return nil, err
	}

	if err := s.users.SetTwoFactorSecret(ctx, user, secret); err != nil {
		return nil, fmt.Errorf("store secret: %w", err)
	}

	return &Enrollment{Secret: secret, URI: uri, QRCode: img}, nil
}

// RequireEnrolled returns ErrTwoFactorNotEnrolled until a secret has been issued.
func (s *TwoFactorService) RequireEnrolled(user *models.User) error {
	if user.TwoFactorSecret == "" {
		return ErrTwoFactorNotEnrolled
	}
	return nil
}

// Verify checks code against the stored secret. The first success confirms
// enrollment; failures change nothing.
func (s *TwoFactorService) Verify(ctx context.Context, user *models.User, code string) error {
	if err := s.RequireEnrolled(user); err != nil {
		return err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrTwoFactorCodeRequired
	}

	ok, err := totp.ValidateCustom(code, user.TwoFactorSecret, s.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      s.skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil || !ok {
		return ErrTwoFactorInvalidCode
	}

	if !user.TwoFactorEnrolled {
		if _, err := s.users.ConfirmTwoFactor(ctx, user); err != nil {
			return fmt.Errorf("confirm enrollment: %w", err)
		}
	}
	return nil
}

// ProvisioningURI builds the otpauth URI understood by authenticator apps.
func ProvisioningURI(site, username, secret, issuer string) string {
	return "otpauth://totp/" + url.QueryEscape(site) + ":" + url.QueryEscape(username) +
		"?secret=" + url.QueryEscape(secret) +
		"&issuer=" + url.QueryEscape(issuer) +
		"&period=" + fmt.Sprint(totpPeriod)
}

// QRCode renders content as a square PNG.
func QRCode(content string) ([]byte, error) {
	code, err := qr.Encode(content, qr.M, qr.Auto)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	code, err = barcode.Scale(code, qrSize, qrSize)
	if err != nil {
		return nil, fmt.Errorf("scale qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, code); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
