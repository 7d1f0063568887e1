// Package credential generates the scannable credential issued per ticket:
// a human-presentable ticket number and the HMAC-signed QR payload derived
// from it. Uniqueness of ticket numbers is ultimately enforced by the
// tickets table constraint; the random space here only makes collisions
// negligible.
package credential

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

// No 0/O/1/I so numbers survive being read out loud at the gate.
const ticketNumberAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const ticketNumberGroups = 3
const ticketNumberGroupLen = 4

// NewTicketNumber returns a number like "TKT-7FQ2-MNPX-4KJH". The random
// space is 32^12, large enough that the table's uniqueness constraint is a
// backstop rather than a working mechanism.
func NewTicketNumber() (string, error) {
	raw := make([]byte, ticketNumberGroups*ticketNumberGroupLen)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("TKT")
	for i, b := range raw {
		if i%ticketNumberGroupLen == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(ticketNumberAlphabet[int(b)%len(ticketNumberAlphabet)])
	}

	return sb.String(), nil
}

// QRPayload derives the scannable payload deterministically from the ticket
// number and the signing secret. It is never stored as an image.
func QRPayload(ticketNumber string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ticketNumber))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return ticketNumber + "." + sig
}

// VerifyQRPayload checks the payload signature and returns the embedded
// ticket number when it is authentic.
func VerifyQRPayload(payload string, secret []byte) (string, bool) {
	idx := strings.LastIndexByte(payload, '.')
	if idx <= 0 || idx == len(payload)-1 {
		return "", false
	}

	ticketNumber := payload[:idx]
	expected := QRPayload(ticketNumber, secret)

	if subtle.ConstantTimeCompare([]byte(payload), []byte(expected)) != 1 {
		return "", false
	}

	return ticketNumber, true
}
