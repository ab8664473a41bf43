package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/chatrelay/history"
)

// ErrExit signals that the user asked to leave the chat.
var ErrExit = errors.New("exit requested")

// ErrUsage wraps malformed command input; the message is the usage hint
// to display.
var ErrUsage = errors.New("usage")

// commandHelp is printed by /help and by the CLI on startup.
const commandHelp = `Commands:
  /list                     show connected clients
  /msg <id> <text>          send a message to client <id>
  /reply <msg_id> <text>    reply to a previous message
  /search <keyword>         search local message history
  /temp <id> <sec> <text>   send a message that expires locally after <sec> seconds
  /exit                     leave the chat`

// Help returns the command summary.
func Help() string {
	return commandHelp
}

// action is one parsed user command.
type action struct {
	name      string
	target    string
	text      string
	messageID uint64
	ttl       time.Duration
}

// parseCommand splits one line of user input into an action. It only
// validates shape; execution errors (unknown reply ids, closed
// connections) surface from the client.
func parseCommand(line string) (*action, error) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "/") {
		return nil, fmt.Errorf("%w: commands start with / (try /help)", ErrUsage)
	}

	fields := strings.SplitN(line, " ", 2)
	name := fields[0]
	rest := ""
	if len(fields) == 2 {
		rest = strings.TrimSpace(fields[1])
	}

	switch name {
	case "/list", "/exit", "/help":
		return &action{name: name}, nil

	case "/msg":
		target, text, ok := splitTwo(rest)
		if !ok {
			return nil, fmt.Errorf("%w: /msg <id> <text>", ErrUsage)
		}
		return &action{name: name, target: target, text: text}, nil

	case "/reply":
		idStr, text, ok := splitTwo(rest)
		if !ok {
			return nil, fmt.Errorf("%w: /reply <msg_id> <text>", ErrUsage)
		}
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("%w: message id must be a positive integer", ErrUsage)
		}
		return &action{name: name, messageID: id, text: text}, nil

	case "/search":
		if rest == "" {
			return nil, fmt.Errorf("%w: /search <keyword>", ErrUsage)
		}
		return &action{name: name, text: rest}, nil

	case "/temp":
		target, rest2, ok := splitTwo(rest)
		if !ok {
			return nil, fmt.Errorf("%w: /temp <id> <sec> <text>", ErrUsage)
		}
		secStr, text, ok := splitTwo(rest2)
		if !ok {
			return nil, fmt.Errorf("%w: /temp <id> <sec> <text>", ErrUsage)
		}
		seconds, err := strconv.ParseFloat(secStr, 64)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("%w: seconds must be a positive number", ErrUsage)
		}
		return &action{
			name:   name,
			target: target,
			text:   text,
			ttl:    time.Duration(seconds * float64(time.Second)),
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %s (try /help)", ErrUsage, name)
	}
}

// Execute parses and runs one line of user input against the client.
// The returned string, when non-empty, is feedback to display. /exit
// returns ErrExit; malformed input returns an error wrapping ErrUsage.
func Execute(c *Client, line string) (string, error) {
	act, err := parseCommand(line)
	if err != nil {
		return "", err
	}

	switch act.name {
	case "/help":
		return commandHelp, nil

	case "/exit":
		return "", ErrExit

	case "/list":
		if err := c.RequestRoster(); err != nil {
			return "", err
		}
		return "", nil

	case "/msg":
		if _, err := c.Send(act.target, act.text); err != nil {
			return "", err
		}
		return fmt.Sprintf("-> %s: %s", act.target, act.text), nil

	case "/reply":
		if _, err := c.Reply(act.messageID, act.text); err != nil {
			return "", err
		}
		return fmt.Sprintf("-> reply to #%d: %s", act.messageID, act.text), nil

	case "/temp":
		if _, err := c.SendTemp(act.target, act.text, act.ttl); err != nil {
			return "", err
		}
		return fmt.Sprintf("-> %s (expires in %s): %s", act.target, act.ttl, act.text), nil

	case "/search":
		return formatSearch(act.text, c.Search(act.text)), nil

	default:
		return "", fmt.Errorf("%w: unknown command", ErrUsage)
	}
}

// splitTwo splits s on its first space into two non-empty parts.
func splitTwo(s string) (string, string, bool) {
	parts := strings.SplitN(s, " ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	first := strings.TrimSpace(parts[0])
	second := strings.TrimSpace(parts[1])
	if first == "" || second == "" {
		return "", "", false
	}
	return first, second, true
}

// formatSearch renders search results one match per line, oldest first.
func formatSearch(keyword string, matches []history.Entry) string {
	if len(matches) == 0 {
		return fmt.Sprintf("no matches for %q", keyword)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d match(es) for %q:", len(matches), keyword)
	for _, m := range matches {
		prep := "from"
		if m.Direction == history.Out {
			prep = "to"
		}
		id := "?"
		if m.ID != 0 {
			id = strconv.FormatUint(m.ID, 10)
		}
		fmt.Fprintf(&b, "\n  [#%s] %s %s at %s: %s",
			id, prep, m.Peer, m.Timestamp.Format("2006-01-02 15:04:05"), m.Text)
	}
	return b.String()
}
