package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Ping and Pong are the literal keepalive frames.
const (
	Ping = "ping"
	Pong = "pong"
)

// Protocol error strings.
const (
	ErrUnknownCommand = "unknown_command"
	ErrInvalidFrame   = "invalid_frame"
	ErrInvalidToken   = "invalid_token"
	ErrTokenInUse     = "token_in_use"
	ErrReplaced       = "session_replaced"
)

// Token is the caller's identity token. Clients send it as a JSON string;
// a bare JSON number is accepted too.
type Token string

// UnmarshalJSON accepts "2" and 2 alike.
func (t *Token) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = Token(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*t = Token(n.String())
	return nil
}

var errBadToken = errors.New("token is not an identity id")

// Identity parses the token as a positive identity id.
func (t Token) Identity() (int64, error) {
	id, err := strconv.ParseInt(string(t), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadToken
	}
	return id, nil
}

// Canonical returns the registry key for the token's identity, so "02",
// "+2" and 2 all name the same session.
func (t Token) Canonical() (Token, int64, error) {
	id, err := t.Identity()
	if err != nil {
		return "", 0, err
	}
	return TokenFor(id), id, nil
}

// TokenFor returns the canonical token of an identity id.
func TokenFor(id int64) Token {
	return Token(strconv.FormatInt(id, 10))
}

// Frame is an inbound tagged frame.
type Frame struct {
	Token   Token   `json:"token"`
	Command string  `json:"command"`
	Payload Payload `json:"payload"`
}

// Payload carries the optional command arguments.
type Payload struct {
	PeerUserID *int64  `json:"peer_user_id,omitempty"`
	Message    *string `json:"message,omitempty"`
}

// Response is an outbound frame: either a command result or an error.
type Response struct {
	Command string `json:"command,omitempty"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PeerPayload names the counterpart of a command.
type PeerPayload struct {
	PeerUserID int64 `json:"peer_user_id"`
}

// MessagePayload is the result of message_friend, and the push a live peer
// receives.
type MessagePayload struct {
	PeerUserID int64  `json:"peer_user_id"`
	Message    string `json:"message,omitempty"`
	Delivered  *bool  `json:"delivered,omitempty"`
}

// decodeFrame parses a tagged frame. Unknown fields are ignored.
func decodeFrame(raw []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}

func encode(r Response) []byte {
	b, err := json.Marshal(r)
	if err != nil {
		// Payloads are built from plain values; fall back to a bare error.
		b, _ = json.Marshal(Response{Error: ErrInvalidFrame})
	}
	return b
}
