package github

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// Webhook header names.
const (
	EventHeader     = "X-GitHub-Event"
	SignatureHeader = "X-Hub-Signature-256"
	DeliveryHeader  = "X-GitHub-Delivery"
)

// ErrInvalidSignature is returned when a webhook payload signature does not
// match the configured secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ValidateSignature checks a "sha256=<hex>" payload signature against the
// shared secret in constant time.
func ValidateSignature(payload []byte, signature, secret string) error {
	hexSig, ok := strings.CutPrefix(signature, "sha256=")
	if !ok {
		return ErrInvalidSignature
	}
	got, err := hex.DecodeString(hexSig)
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

// Sign returns the "sha256=<hex>" signature GitHub sends for payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// PushEvent is the subset of the push webhook payload used to decide
// whether a build is needed.
type PushEvent struct {
	Ref        string `json:"ref"`
	After      string `json:"after"`
	Deleted    bool   `json:"deleted"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// IsTag reports whether the push created, moved or deleted a tag.
func (e *PushEvent) IsTag() bool {
	return strings.HasPrefix(e.Ref, "refs/tags/")
}

// Branch returns the pushed branch name, or "" for tag pushes.
func (e *PushEvent) Branch() string {
	b, ok := strings.CutPrefix(e.Ref, "refs/heads/")
	if !ok {
		return ""
	}
	return b
}
