package main

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"github.com/bazelment/prettycode/store"
	"github.com/bazelment/prettycode/transport"
)

// chatController is the part of session.Controller the REPL drives.
type chatController interface {
	Send(text string) bool
	Stop() bool
	Regenerate() bool
	EditAndResend(index int, content string) bool
	Clear()
	NewConversation()
	LoadConversation(id string) error
	ConversationID() string
	Status() transport.Status
}

type conversationLister interface {
	List() ([]store.Summary, error)
}

const helpText = `/stop           stop the current response
/regen          regenerate the last response
/edit N text    replace message #N and resend
/clear          clear the screen transcript
/new            start a new conversation
/load ID        load a saved conversation
/list           list saved conversations
/quit           exit`

// splitCommand splits "/name rest" into its parts. ok is false for lines
// that are not commands.
func splitCommand(line string) (name, arg string, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	name, arg, _ = strings.Cut(line[1:], " ")
	return name, strings.TrimSpace(arg), true
}

// parseEdit parses the "N text" argument of /edit.
func parseEdit(arg string) (int, string, error) {
	num, text, _ := strings.Cut(arg, " ")
	index, err := strconv.Atoi(num)
	if err != nil || index < 0 {
		return 0, "", errors.New("usage: /edit N text")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", errors.New("usage: /edit N text")
	}
	return index, text, nil
}

// execLine runs one line of REPL input. It reports whether to quit.
func execLine(ctrl chatController, convs conversationLister, p *printer, line string) bool {
	name, arg, isCommand := splitCommand(line)
	if !isCommand {
		if strings.TrimSpace(line) != "" {
			ctrl.Send(line)
		}
		return false
	}

	switch name {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		p.println("%s", helpText)
	case "stop":
		if !ctrl.Stop() {
			p.println("Not connected.")
		}
	case "regen":
		if !ctrl.Regenerate() {
			p.println("Nothing to regenerate, or not connected.")
		}
	case "edit":
		index, text, err := parseEdit(arg)
		if err != nil {
			p.println("%v", err)
			break
		}
		if !ctrl.EditAndResend(index, text) {
			p.println("No message #%d.", index)
		} else if ctrl.Status() != transport.StatusConnected {
			p.println("Edited #%d; not connected, so it was not resent.", index)
		}
	case "clear":
		ctrl.Clear()
	case "new":
		ctrl.NewConversation()
	case "load":
		if arg == "" {
			p.println("usage: /load ID")
			break
		}
		if err := ctrl.LoadConversation(arg); err != nil {
			p.println("%v", err)
		}
	case "list":
		summaries, err := convs.List()
		if err != nil {
			p.println("%v", err)
			break
		}
		var buf bytes.Buffer
		writeSummaries(&buf, summaries, ctrl.ConversationID())
		p.println("%s", strings.TrimRight(buf.String(), "\n"))
	default:
		p.println("Unknown command /%s. Type /help for commands.", name)
	}
	return false
}
