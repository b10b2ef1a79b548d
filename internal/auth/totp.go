package auth

import (
	"bytes"
	"encoding/base64"
	"image/png"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const qrImageSize = 256

type TOTPVerifier interface {
	Verify(secret, code string) bool
	Generate(email string) (secret string, otpauthURL string, qrDataURL string, err error)
}

// TOTPService issues and checks authenticator-app codes.
type TOTPService struct {
	issuer string
}

func NewTOTPService(issuer string) *TOTPService {
	return &TOTPService{issuer: issuer}
}

func (t *TOTPService) Verify(secret, code string) bool {
	return totp.Validate(code, secret)
}

// Generate creates a fresh secret for email and returns it together with the
// otpauth:// URL and a data-URL QR code for enrollment.
func (t *TOTPService) Generate(email string) (string, string, string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.issuer,
		AccountName: email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", "", "", err
	}

	img, err := key.Image(qrImageSize, qrImageSize)
	if err != nil {
		return key.Secret(), key.URL(), "", err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return key.Secret(), key.URL(), "", err
	}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())

	return key.Secret(), key.URL(), dataURL, nil
}
