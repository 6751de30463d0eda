package domain

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/billingcore/pkg/errs"
)

const (
	// SignatureHeader carries "sha256=<hex>", the HMAC-SHA256 of the raw
	// request body keyed by the endpoint secret.
	SignatureHeader = "X-Billing-Signature"
	// TimestampHeader carries the unix send time for replay checks.
	TimestampHeader = "X-Billing-Timestamp"
	EventIDHeader   = "X-Billing-Event-Id"
	EventTypeHeader = "X-Billing-Event-Type"

	DefaultSignatureTolerance = 5 * time.Minute

	signaturePrefix = "sha256="
)

var (
	ErrMalformedSignature = errs.New(errs.KindValidation, "malformed_signature")
	ErrSignatureMismatch  = errs.New(errs.KindValidation, "signature_mismatch")
	ErrMalformedTimestamp = errs.New(errs.KindValidation, "malformed_timestamp")
	ErrSignatureExpired   = errs.New(errs.KindValidation, "signature_expired")
)

// Sign returns the SignatureHeader value for body.
func Sign(secret string, body []byte) string {
	return signaturePrefix + hex.EncodeToString(computeMAC(secret, body))
}

// VerifySignature checks header against body. The header may list several
// comma separated signatures while a secret is being rotated; any match
// passes. The "sha256=" prefix is optional.
func VerifySignature(header, secret string, body []byte) error {
	expected := computeMAC(secret, body)
	decoded := 0
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimPrefix(strings.TrimSpace(part), signaturePrefix)
		if part == "" {
			continue
		}
		candidate, err := hex.DecodeString(part)
		if err != nil {
			continue
		}
		decoded++
		if hmac.Equal(expected, candidate) {
			return nil
		}
	}
	if decoded == 0 {
		return ErrMalformedSignature
	}
	return ErrSignatureMismatch
}

// VerifyTimestamp rejects a TimestampHeader value further than tolerance
// from now.
func VerifyTimestamp(value string, tolerance time.Duration, now time.Time) error {
	unix, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return ErrMalformedTimestamp
	}
	if age := now.Sub(time.Unix(unix, 0)); age > tolerance || age < -tolerance {
		return ErrSignatureExpired
	}
	return nil
}

func computeMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
