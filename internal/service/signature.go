package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
)

const (
	HeaderTransmissionID   = "PAYPAL-TRANSMISSION-ID"
	HeaderTransmissionTime = "PAYPAL-TRANSMISSION-TIME"
	HeaderCertURL          = "PAYPAL-CERT-URL"
	HeaderAuthAlgo         = "PAYPAL-AUTH-ALGO"
	HeaderTransmissionSig  = "PAYPAL-TRANSMISSION-SIG"
)

type signatureHeaders struct {
	TransmissionID   string
	TransmissionTime string
	CertURL          string
	AuthAlgo         string
	TransmissionSig  string
}

// extractSignatureHeaders reports false unless all five PayPal headers are present.
func extractSignatureHeaders(h http.Header) (signatureHeaders, bool) {
	sh := signatureHeaders{
		TransmissionID:   strings.TrimSpace(h.Get(HeaderTransmissionID)),
		TransmissionTime: strings.TrimSpace(h.Get(HeaderTransmissionTime)),
		CertURL:          strings.TrimSpace(h.Get(HeaderCertURL)),
		AuthAlgo:         strings.TrimSpace(h.Get(HeaderAuthAlgo)),
		TransmissionSig:  strings.TrimSpace(h.Get(HeaderTransmissionSig)),
	}

	ok := sh.TransmissionID != "" &&
		sh.TransmissionTime != "" &&
		sh.CertURL != "" &&
		sh.AuthAlgo != "" &&
		sh.TransmissionSig != ""
	return sh, ok
}

// Sign computes the shared-secret signature of a transmission:
// base64(HMAC-SHA256(secret, id|time|webhookID|body)).
func Sign(secret, transmissionID, transmissionTime, webhookID string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(transmissionID + "|" + transmissionTime + "|" + webhookID + "|"))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func verifyLocalSignature(secret, webhookID string, sh signatureHeaders, body []byte) bool {
	expected := Sign(secret, sh.TransmissionID, sh.TransmissionTime, webhookID, body)
	return hmac.Equal([]byte(sh.TransmissionSig), []byte(expected))
}
