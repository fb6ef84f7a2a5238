package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Options holds the session-layer callbacks the built-in commands run on.
type Options struct {
	HTTP      *resty.Client
	StartedAt time.Time
	Uptime    func(number string) (time.Duration, bool)
	About     func(ctx context.Context, number string, target string) (string, error)
	Logout    func(ctx context.Context, number string) error
	Broadcast func(ctx context.Context, number string, recipients []string, message string) (int, error)
}

// RegisterDefaults populates the dispatcher with the built-in command set.
func RegisterDefaults(d *Dispatcher, opts Options) {
	d.Register(Command{
		Name:  "ping",
		Usage: "ping — check the bot is alive",
		Handler: func(ctx context.Context, inv *Invocation) error {
			return inv.Reply("pong")
		},
	})

	d.Register(Command{
		Name:  "uptime",
		Usage: "uptime — session and host uptime",
		Handler: func(ctx context.Context, inv *Invocation) error {
			hostUp := time.Since(opts.StartedAt).Round(time.Second)
			if opts.Uptime != nil {
				if sessionUp, ok := opts.Uptime(inv.Number); ok {
					return inv.Reply(fmt.Sprintf("Session up %s, host up %s", sessionUp.Round(time.Second), hostUp))
				}
			}
			return inv.Reply(fmt.Sprintf("Host up %s", hostUp))
		},
	})

	d.Register(Command{
		Name:  "menu",
		Usage: "menu — list available commands",
		Handler: func(ctx context.Context, inv *Invocation) error {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, cmd := range d.Commands() {
				if cmd.Privileged && !inv.Privileged {
					continue
				}
				b.WriteString("• " + cmd.Usage + "\n")
			}
			return inv.Reply(strings.TrimRight(b.String(), "\n"))
		},
	})

	d.Register(Command{
		Name:  "jid",
		Usage: "jid — show this chat's identifiers",
		Handler: func(ctx context.Context, inv *Invocation) error {
			return inv.Reply(fmt.Sprintf("chat: %s\nsender: %s", inv.Chat.String(), inv.Sender.String()))
		},
	})

	d.Register(Command{
		Name:  "bio",
		Usage: "bio <number> — fetch a user's about text",
		Handler: func(ctx context.Context, inv *Invocation) error {
			if opts.About == nil {
				return errors.New("bio lookup is not wired")
			}
			target := inv.Sender.User
			if len(inv.Args) > 0 {
				target = inv.Args[0]
			}
			about, err := opts.About(ctx, inv.Number, target)
			if err != nil {
				return err
			}
			if about == "" {
				about = "(no about text)"
			}
			return inv.Reply(about)
		},
	})

	d.Register(Command{
		Name:  "weather",
		Usage: "weather <city> — current conditions",
		Handler: func(ctx context.Context, inv *Invocation) error {
			if len(inv.Args) == 0 {
				return inv.Reply("Usage: weather <city>")
			}
			city := strings.Join(inv.Args, " ")
			resp, err := opts.HTTP.R().
				SetContext(ctx).
				SetPathParam("city", city).
				SetQueryParam("format", "3").
				Get("https://wttr.in/{city}")
			if err != nil {
				return err
			}
			if resp.IsError() {
				return errors.New("weather service returned " + resp.Status())
			}
			return inv.Reply(strings.TrimSpace(string(resp.Body())))
		},
	})

	d.Register(Command{
		Name:       "logout",
		Usage:      "logout — end this bot session permanently",
		Privileged: true,
		Handler: func(ctx context.Context, inv *Invocation) error {
			if opts.Logout == nil {
				return errors.New("logout is not wired")
			}
			if err := inv.Reply("Logging out. Pair again to resume."); err != nil {
				return err
			}
			return opts.Logout(ctx, inv.Number)
		},
	})

	d.Register(Command{
		Name:       "broadcast",
		Usage:      "broadcast <number,number,...> <message> — send to many recipients",
		Privileged: true,
		Handler: func(ctx context.Context, inv *Invocation) error {
			if opts.Broadcast == nil {
				return errors.New("broadcast is not wired")
			}
			if len(inv.Args) < 2 {
				return inv.Reply("Usage: broadcast <number,number,...> <message>")
			}
			recipients := strings.Split(inv.Args[0], ",")
			message := strings.Join(inv.Args[1:], " ")
			sent, err := opts.Broadcast(ctx, inv.Number, recipients, message)
			if err != nil {
				return err
			}
			return inv.Reply(fmt.Sprintf("Broadcast sent to %d recipient(s)", sent))
		},
	})
}
