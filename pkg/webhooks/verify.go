package webhooks

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

const scheme = "hmac-sha256-hex/v1"

// VerificationResult describes a received delivery. Valid=false is data, not
// an error: the caller decides whether to reject the request.
type VerificationResult struct {
	Valid      bool           `json:"valid"`
	Scheme     string         `json:"scheme"`
	Details    map[string]any `json:"details"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	EventType  string         `json:"event_type,omitempty"`
}

// Verify authenticates a delivery made by this service. It only errors when
// the receiver is misconfigured.
func Verify(headers http.Header, rawBody []byte, secret string) (VerificationResult, error) {
	if strings.TrimSpace(secret) == "" {
		return VerificationResult{}, fmt.Errorf("webhook verifier secret is empty")
	}

	res := VerificationResult{
		Scheme: scheme,
		Details: map[string]any{
			"signature_header_present": false,
			"signature_hex_decodable":  false,
			"used_header":              SignatureHeader,
		},
		DeliveryID: strings.TrimSpace(headers.Get(DeliveryHeader)),
		EventType:  strings.TrimSpace(headers.Get(EventHeader)),
	}
	if res.EventType == "" {
		res.EventType = "unknown"
	}

	sigHex := strings.TrimSpace(headers.Get(SignatureHeader))
	if sigHex == "" {
		return res, nil
	}
	res.Details["signature_header_present"] = true
	if _, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(sigHex), "sha256=")); err != nil {
		return res, nil
	}
	res.Details["signature_hex_decodable"] = true
	res.Valid = VerifySignature(secret, rawBody, sigHex)
	return res, nil
}
