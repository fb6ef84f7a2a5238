// Package bot implements the chat command registry: prefix parsing,
// privilege gating, and per-invocation panic isolation.
package bot

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
	"github.com/wahost/go-whatsapp-bot-host/pkg/whatsapp"
)

// Invocation carries everything one command handler needs.
type Invocation struct {
	Client     *whatsmeow.Client
	Event      *events.Message
	Number     string
	Sender     types.JID
	Chat       types.JID
	Privileged bool
	Args       []string
	Reply      func(message string) error
}

type HandlerFunc func(ctx context.Context, inv *Invocation) error

// Command is one registry entry. Privileged commands are only runnable by
// the session owner or a configured admin.
type Command struct {
	Name       string
	Usage      string
	Privileged bool
	Handler    HandlerFunc
}

// PrivilegeFunc decides whether sender may run privileged commands on
// owner's session.
type PrivilegeFunc func(ctx context.Context, owner string, sender string) bool

// Dispatcher routes prefixed chat messages to registered commands. Messages
// without the prefix, and unknown command names, are ignored silently.
type Dispatcher struct {
	commands     map[string]Command
	order        []string
	isPrivileged PrivilegeFunc
}

func NewDispatcher(isPrivileged PrivilegeFunc) *Dispatcher {
	return &Dispatcher{
		commands:     make(map[string]Command),
		isPrivileged: isPrivileged,
	}
}

// Register adds a command; re-registering a name replaces the handler but
// keeps its position in the menu order.
func (d *Dispatcher) Register(cmd Command) {
	name := strings.ToLower(cmd.Name)
	if _, exists := d.commands[name]; !exists {
		d.order = append(d.order, name)
	}
	d.commands[name] = cmd
}

// Commands returns the registry in registration order, for menu output.
func (d *Dispatcher) Commands() []Command {
	list := make([]Command, 0, len(d.order))
	for _, name := range d.order {
		list = append(list, d.commands[name])
	}
	return list
}

// Parse splits a message body into a lower-cased command name and its
// whitespace-separated arguments. ok is false when the body does not start
// with the prefix or names no command at all.
func Parse(prefix string, body string) (string, []string, bool) {
	body = strings.TrimSpace(body)
	if prefix == "" || !strings.HasPrefix(body, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(body, prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// HandleMessage implements the manager's dispatcher hook.
func (d *Dispatcher) HandleMessage(ctx context.Context, client *whatsmeow.Client, number string, cfg whatsapp.Config, evt *events.Message) {
	body := extractText(evt)
	name, args, ok := Parse(cfg.Prefix, body)
	if !ok {
		return
	}
	cmd, found := d.commands[name]
	if !found {
		return
	}

	inv := &Invocation{
		Client: client,
		Event:  evt,
		Number: number,
		Sender: evt.Info.Sender,
		Chat:   evt.Info.Chat,
		Args:   args,
		Reply: func(message string) error {
			_, err := client.SendMessage(ctx, evt.Info.Chat, &waE2E.Message{
				Conversation: proto.String(message),
			})
			return err
		},
	}
	inv.Privileged = d.isPrivileged != nil && d.isPrivileged(ctx, number, evt.Info.Sender.User)

	if cmd.Privileged && !inv.Privileged {
		_ = inv.Reply("You are not allowed to use this command.")
		return
	}

	d.invoke(ctx, cmd, inv)
}

// invoke runs one handler with panic isolation; a panicking or failing
// handler yields a generic error reply instead of a dead bot.
func (d *Dispatcher) invoke(ctx context.Context, cmd Command, inv *Invocation) {
	defer func() {
		if r := recover(); r != nil {
			log.Session(inv.Number).Error(fmt.Sprintf("Command %s panicked: %v", cmd.Name, r))
			_ = inv.Reply("Something went wrong running that command.")
		}
	}()

	if err := cmd.Handler(ctx, inv); err != nil {
		log.Session(inv.Number).WithError(err).Warn("Command " + cmd.Name + " failed")
		_ = inv.Reply("Something went wrong running that command.")
	}
}

// extractText pulls the usable text body out of the message envelope.
func extractText(evt *events.Message) string {
	if evt == nil || evt.Message == nil {
		return ""
	}
	if text := evt.Message.GetConversation(); text != "" {
		return text
	}
	if ext := evt.Message.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := evt.Message.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := evt.Message.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	return ""
}
