package main

import (
	"errors"
	"fmt"
	"strings"

	"voxio-chat/internal/domain"
)

// Команды ввода.
const (
	cmdSend      = "send"
	cmdReply     = "reply"
	cmdEdit      = "edit"
	cmdDelete    = "delete"
	cmdReact     = "react"
	cmdAttach    = "attach"
	cmdRoom      = "room"
	cmdTyping    = "typing"
	cmdReconnect = "reconnect"
	cmdHelp      = "help"
	cmdQuit      = "quit"
)

const helpText = `Commands:
  <text>                      send a message
  /reply <id> <text>          reply to a message
  /edit <id> <text>           edit your message
  /delete <id>                delete your message
  /react <id> <emoji>         toggle a reaction
  /attach <path> [caption]    send a file
  /room <id>                  switch room
  /typing                     show that you are typing
  /reconnect                  resubscribe to the room
  /help                       show this help
  /quit                       exit
Ids are shown in brackets; ~N marks a message that is still sending.`

var errUsage = errors.New("usage")

// command хранит разобранную строку ввода.
type command struct {
	kind string
	id   string
	arg  string
	text string
}

// parseCommand разбирает строку ввода. Строка без ведущего "/" отправляется как сообщение.
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, fmt.Errorf("%w: empty input", errUsage)
	}
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return command{kind: cmdSend, text: strings.TrimPrefix(line, "/")}, nil
	}

	name, rest, _ := strings.Cut(line[1:], " ")
	rest = strings.TrimSpace(rest)
	first, tail, _ := strings.Cut(rest, " ")
	tail = strings.TrimSpace(tail)

	switch strings.ToLower(name) {
	case cmdReply, "r":
		if first == "" || tail == "" {
			return command{}, fmt.Errorf("%w: /reply <id> <text>", errUsage)
		}
		return command{kind: cmdReply, id: first, text: tail}, nil
	case cmdEdit, "e":
		if first == "" || tail == "" {
			return command{}, fmt.Errorf("%w: /edit <id> <text>", errUsage)
		}
		return command{kind: cmdEdit, id: first, text: tail}, nil
	case cmdDelete, "d":
		if first == "" {
			return command{}, fmt.Errorf("%w: /delete <id>", errUsage)
		}
		return command{kind: cmdDelete, id: first}, nil
	case cmdReact:
		if first == "" || tail == "" {
			return command{}, fmt.Errorf("%w: /react <id> <emoji>", errUsage)
		}
		return command{kind: cmdReact, id: first, arg: tail}, nil
	case cmdAttach:
		if first == "" {
			return command{}, fmt.Errorf("%w: /attach <path> [caption]", errUsage)
		}
		return command{kind: cmdAttach, arg: first, text: tail}, nil
	case cmdRoom:
		if first == "" {
			return command{}, fmt.Errorf("%w: /room <id>", errUsage)
		}
		return command{kind: cmdRoom, arg: first}, nil
	case cmdTyping:
		return command{kind: cmdTyping}, nil
	case cmdReconnect:
		return command{kind: cmdReconnect}, nil
	case cmdHelp, "?":
		return command{kind: cmdHelp}, nil
	case cmdQuit, "exit", "q":
		return command{kind: cmdQuit}, nil
	default:
		return command{}, fmt.Errorf("%w: unknown command /%s, try /help", errUsage, name)
	}
}

// resolveID переводит идентификатор из вывода ленты в идентификатор сообщения.
// Запись "~N" ищется среди временных сообщений по номеру счетчика.
func resolveID(messages []domain.Message, ref string) (domain.MessageID, error) {
	ref = strings.Trim(ref, "[]")
	if !strings.HasPrefix(ref, "~") {
		return domain.MessageID(ref), nil
	}
	suffix := "-" + strings.TrimPrefix(ref, "~")
	for _, m := range messages {
		if m.IsProvisional() && strings.HasSuffix(m.ID.String(), suffix) {
			return m.ID, nil
		}
	}
	return "", fmt.Errorf("message %s: %w", ref, domain.ErrNotFound)
}
