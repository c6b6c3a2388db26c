// Package protocol decodes and encodes the line-oriented serial protocol
// spoken by the gate's RFID microcontroller.
//
// Device to host:
//
//	UID:<token>   - card detected, token cleaned to uppercase alphanumerics
//	CMD:<token>   - acknowledgment of a previously sent command
//
// Every other line is ignored. Host to device messages are plain ASCII
// tokens terminated by a newline.
package protocol

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	UIDPrefix = "UID:"
	AckPrefix = "CMD:"

	// CmdSystemCheck asks the device to run its self-check sequence.
	CmdSystemCheck = "SYS_CHECK"
	// AckCheckOK is acknowledged by the device after a successful self-check.
	AckCheckOK = "CHECK_OK"
)

var (
	ErrEmptyCommand = errors.New("empty command")
	ErrNonASCII     = errors.New("command contains non-ASCII characters")
)

// Kind identifies what a decoded line represents.
type Kind int

const (
	Unrecognized Kind = iota
	CardDetected
	Acknowledged
)

func (k Kind) String() string {
	switch k {
	case CardDetected:
		return "card"
	case Acknowledged:
		return "ack"
	default:
		return "unrecognized"
	}
}

// Message is the result of decoding one line.
type Message struct {
	Kind  Kind
	UID   string // set for CardDetected
	Token string // set for Acknowledged

	// Text is the decoded, trimmed line. Kept for diagnostics.
	Text string
	// Warning is non-empty when the line looked meaningful but could not be
	// used, e.g. a UID line with nothing left after cleaning.
	Warning string
}

// Decode interprets one raw line read from the device. It never fails:
// malformed input is reported as Unrecognized.
func Decode(raw []byte) Message {
	line := strings.TrimSpace(asciiString(raw))
	if line == "" {
		return Message{Kind: Unrecognized}
	}

	switch {
	case strings.HasPrefix(line, UIDPrefix):
		uid := CleanUID(line[len(UIDPrefix):])
		if uid == "" {
			return Message{
				Kind:    Unrecognized,
				Text:    line,
				Warning: "uid empty after cleaning",
			}
		}
		return Message{Kind: CardDetected, UID: uid, Text: line}

	case strings.HasPrefix(line, AckPrefix):
		token := strings.TrimSpace(line[len(AckPrefix):])
		return Message{Kind: Acknowledged, Token: token, Text: line}

	default:
		return Message{Kind: Unrecognized, Text: line}
	}
}

// CleanUID drops every non-alphanumeric character and uppercases the rest.
func CleanUID(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'Z':
			b.WriteByte(c)
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		}
	}
	return b.String()
}

// Encode frames a command for transmission.
func Encode(cmd string) ([]byte, error) {
	if cmd == "" {
		return nil, ErrEmptyCommand
	}
	for i := 0; i < len(cmd); i++ {
		if cmd[i] >= utf8.RuneSelf {
			return nil, ErrNonASCII
		}
	}
	out := make([]byte, 0, len(cmd)+1)
	out = append(out, cmd...)
	return append(out, '\n'), nil
}

// asciiString converts raw bytes, replacing anything outside 7-bit ASCII
// with the Unicode replacement character.
func asciiString(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c >= utf8.RuneSelf {
			b.WriteRune(utf8.RuneError)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
