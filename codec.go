package qlink

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Wire framing.
const (
	framePrefix    = "MESSAGE:"
	frameSeparator = "|HMAC:"
)

// Reply tokens.
const (
	TokenAuthFailed     = "AUTH_FAILED"
	TokenBadPayload     = "BAD_PAYLOAD"
	TokenMalformed      = "MALFORMED"
	TokenTeleportFailed = "TELEPORT_FAILED"
)

// Kind classifies an inbound frame.
type Kind int

const (
	KindPlain Kind = iota
	KindAuthenticated
	KindMalformed
	KindBadPayload
	KindAuthFailed
)

func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindAuthenticated:
		return "authenticated"
	case KindMalformed:
		return "malformed"
	case KindBadPayload:
		return "bad_payload"
	case KindAuthFailed:
		return "auth_failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

/*
Message is a decoded inbound frame. Payload is only set for authenticated
frames, Text only for plain ones.
*/
type Message struct {
	Kind    Kind
	Payload []byte
	Text    string
}

// Err maps the classification to its sentinel error, nil for plain and
// authenticated frames.
func (m Message) Err() error {
	switch m.Kind {
	case KindMalformed:
		return ErrMalformed
	case KindBadPayload:
		return ErrBadPayload
	case KindAuthFailed:
		return ErrAuthFailed
	default:
		return nil
	}
}

// Token returns the fixed reply for a rejected frame.
func (m Message) Token() string {
	switch m.Kind {
	case KindMalformed:
		return TokenMalformed
	case KindBadPayload:
		return TokenBadPayload
	case KindAuthFailed:
		return TokenAuthFailed
	default:
		return ""
	}
}

/*
Codec verifies and builds MESSAGE:<base64>|HMAC:<hex> frames with a
pre-shared secret. The MAC is HMAC-SHA256 over the raw payload bytes.
*/
type Codec struct {
	secret []byte
}

// NewCodec copies secret, so the caller may reuse its slice.
func NewCodec(secret []byte) *Codec {
	s := make([]byte, len(secret))
	copy(s, secret)
	return &Codec{secret: s}
}

// Sign returns the MAC of payload.
func (c *Codec) Sign(payload []byte) []byte {
	h := hmac.New(sha256.New, c.secret)
	h.Write(payload)
	return h.Sum(nil)
}

// Encode frames payload for the wire, without a trailing newline.
func (c *Codec) Encode(payload []byte) string {
	return framePrefix + base64.StdEncoding.EncodeToString(payload) +
		frameSeparator + hex.EncodeToString(c.Sign(payload))
}

/*
Decode classifies one inbound frame. Trailing CR/LF is ignored. Anything
without the HMAC separator is plain text.
*/
func (c *Codec) Decode(frame string) Message {
	frame = strings.TrimRight(frame, "\r\n")

	left, right, found := strings.Cut(frame, frameSeparator)
	if !found {
		return Message{Kind: KindPlain, Text: frame}
	}

	encoded, ok := strings.CutPrefix(left, framePrefix)
	if !ok {
		return Message{Kind: KindMalformed}
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Message{Kind: KindBadPayload}
	}

	claimed, err := hex.DecodeString(right)
	if err != nil {
		return Message{Kind: KindBadPayload}
	}

	if !hmac.Equal(claimed, c.Sign(payload)) {
		return Message{Kind: KindAuthFailed}
	}

	return Message{Kind: KindAuthenticated, Payload: payload}
}

// ResultLine formats the reply for a teleported payload.
func ResultLine(r PipelineResult) string {
	return fmt.Sprintf("TELEPORT_RESULT: success=%d/%d backend=%s", r.Success, r.Total, r.Backend)
}

// HeartbeatLine formats a fidelity telemetry line, newline included.
func HeartbeatLine(fidelity float64) string {
	return fmt.Sprintf("FIDELITY:%.4f\n", fidelity)
}
