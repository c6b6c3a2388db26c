// Package eventpipe reads operator commands, one per line, from a named
// pipe. The same command syntax is accepted on the MQTT command topic.
package eventpipe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"schoolgate/admission"
	"schoolgate/protocol"
)

// DefaultLogCount is how many entries "logs" lists without a count.
const DefaultLogCount = 10

// ErrBlank is returned by ParseLine for empty and comment lines.
var ErrBlank = errors.New("blank line")

// Kind identifies an operator command.
type Kind int

const (
	KindScan Kind = iota + 1
	KindAssign
	KindCheck
	KindSend
	KindConnect
	KindDisconnect
	KindPorts
	KindWindow
	KindLogs
)

func (k Kind) String() string {
	switch k {
	case KindScan:
		return "scan"
	case KindAssign:
		return "assign"
	case KindCheck:
		return "check"
	case KindSend:
		return "send"
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindPorts:
		return "ports"
	case KindWindow:
		return "window"
	case KindLogs:
		return "logs"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is one parsed operator line. Only the fields of its Kind are set.
type Command struct {
	Kind Kind

	UID        string // scan, assign (empty means the last unknown card)
	Identifier string // assign
	Text       string // send
	Port       string // connect (empty means the configured device)
	Baud       int    // connect (zero means the configured baud)

	Window admission.Window // window
	Action admission.Action // logs ("" means every action)
	Count  int              // logs
}

// ParseLine parses a command line.
// Command format:
//
//	scan <uid>                           - Simulated card swipe (aliases: rfid, tag)
//	assign <identifier> [uid]            - Bind a card, default the last unknown one
//	check                                - Send the reader self-check
//	send <command>                       - Send a raw command to the reader
//	connect [port] [baud]                - Open the reader link
//	disconnect                           - Close the reader link
//	ports                                - List serial ports
//	window <profile> <day> <from> <to>   - Set an admission window (HH:MM)
//	window <profile> <day> closed        - Deny a profile for the whole day
//	logs [action|all] [n]                - Show the newest log entries
func ParseLine(line string) (Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return Command{}, ErrBlank
	}

	parts := strings.Fields(line)
	name := strings.ToLower(parts[0])
	args := parts[1:]

	switch name {
	case "scan", "rfid", "tag":
		if len(args) != 1 {
			return Command{}, fmt.Errorf("%s requires a card uid", name)
		}
		uid := protocol.CleanUID(args[0])
		if uid == "" {
			return Command{}, fmt.Errorf("invalid card uid: %s", args[0])
		}
		return Command{Kind: KindScan, UID: uid}, nil

	case "assign":
		if len(args) < 1 || len(args) > 2 {
			return Command{}, fmt.Errorf("assign requires <identifier> [uid]")
		}
		cmd := Command{Kind: KindAssign, Identifier: args[0]}
		if len(args) == 2 {
			cmd.UID = protocol.CleanUID(args[1])
			if cmd.UID == "" {
				return Command{}, fmt.Errorf("invalid card uid: %s", args[1])
			}
		}
		return cmd, nil

	case "check":
		return Command{Kind: KindCheck}, nil

	case "send":
		if len(args) == 0 {
			return Command{}, fmt.Errorf("send requires a command")
		}
		return Command{Kind: KindSend, Text: strings.Join(args, " ")}, nil

	case "connect":
		if len(args) > 2 {
			return Command{}, fmt.Errorf("connect takes [port] [baud]")
		}
		cmd := Command{Kind: KindConnect}
		if len(args) >= 1 {
			cmd.Port = args[0]
		}
		if len(args) == 2 {
			baud, err := strconv.Atoi(args[1])
			if err != nil || baud <= 0 {
				return Command{}, fmt.Errorf("invalid baud rate: %s", args[1])
			}
			cmd.Baud = baud
		}
		return cmd, nil

	case "disconnect":
		return Command{Kind: KindDisconnect}, nil

	case "ports":
		return Command{Kind: KindPorts}, nil

	case "window":
		w, err := parseWindow(args)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindWindow, Window: w}, nil

	case "logs":
		return parseLogs(args)

	default:
		return Command{}, fmt.Errorf("unknown command: %s", name)
	}
}

func parseWindow(args []string) (admission.Window, error) {
	if len(args) != 3 && len(args) != 4 {
		return admission.Window{}, fmt.Errorf("window requires <profile> <day> <from> <to> or <profile> <day> closed")
	}
	p, err := admission.ParseProfile(args[0])
	if err != nil {
		return admission.Window{}, err
	}
	day, err := admission.ParseWeekday(args[1])
	if err != nil {
		return admission.Window{}, err
	}

	if len(args) == 3 {
		if !strings.EqualFold(args[2], "closed") {
			return admission.Window{}, fmt.Errorf("expected 'closed' or two times, got %s", args[2])
		}
		return admission.Window{Profile: p, Day: day}, nil
	}

	start, err := admission.ParseTimeOfDay(args[2])
	if err != nil {
		return admission.Window{}, err
	}
	end, err := admission.ParseTimeOfDay(args[3])
	if err != nil {
		return admission.Window{}, err
	}
	return admission.NewWindow(p, day, start, end), nil
}

func parseLogs(args []string) (Command, error) {
	cmd := Command{Kind: KindLogs, Count: DefaultLogCount}
	if len(args) > 2 {
		return Command{}, fmt.Errorf("logs takes [action] [n]")
	}

	for i, arg := range args {
		if n, err := strconv.Atoi(arg); err == nil {
			if n <= 0 {
				return Command{}, fmt.Errorf("invalid log count: %s", arg)
			}
			cmd.Count = n
			continue
		}
		if i > 0 {
			return Command{}, fmt.Errorf("invalid log count: %s", arg)
		}
		if strings.EqualFold(arg, "all") {
			continue
		}
		action, err := admission.ParseAction(arg)
		if err != nil {
			return Command{}, err
		}
		cmd.Action = action
	}
	return cmd, nil
}
