package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of message under secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares in constant time. An empty secret never verifies.
func Verify(secret string, message []byte, signature string) bool {
	if secret == "" {
		return false
	}
	signature = strings.ToLower(strings.TrimSpace(signature))
	if signature == "" {
		return false
	}
	expected := Sign(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// PaymentMessage is the checkout callback payload: "<orderID>|<paymentID>".
func PaymentMessage(remoteOrderID, remotePaymentID string) []byte {
	return []byte(remoteOrderID + "|" + remotePaymentID)
}
