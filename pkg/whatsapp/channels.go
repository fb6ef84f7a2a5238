package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wahost/go-whatsapp-bot-host/pkg/env"
	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
)

// ChannelDirectory keeps the set of newsletter JIDs the bot reacts in.
// The list lives behind an HTTP endpoint and is refreshed on a schedule;
// between refreshes lookups are served from the cached snapshot.
type ChannelDirectory struct {
	http *resty.Client
	url  string

	mu   sync.RWMutex
	jids map[string]struct{}
}

func NewChannelDirectory() *ChannelDirectory {
	return &ChannelDirectory{
		http: resty.New().
			SetTimeout(env.GetEnvDurationOrDefault("CHANNEL_LIST_TIMEOUT", 15*time.Second)).
			SetRetryCount(2).
			SetRetryWaitTime(2 * time.Second),
		url:  env.GetEnvStringOrDefault("CHANNEL_LIST_URL", ""),
		jids: make(map[string]struct{}),
	}
}

// Refresh replaces the cached snapshot with the remote list. When no list
// URL is configured the directory stays empty and Refresh is a no-op.
func (d *ChannelDirectory) Refresh(ctx context.Context) error {
	if d.url == "" {
		return nil
	}

	var payload struct {
		Channels []string `json:"channels"`
	}
	resp, err := d.http.R().
		SetContext(ctx).
		SetResult(&payload).
		Get(d.url)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return errors.New("channel list endpoint returned " + resp.Status())
	}

	jids := make(map[string]struct{}, len(payload.Channels))
	for _, raw := range payload.Channels {
		jid := strings.TrimSpace(raw)
		if jid == "" {
			continue
		}
		if !strings.Contains(jid, "@") {
			jid = fmt.Sprintf("%s@%s", jid, "newsletter")
		}
		jids[jid] = struct{}{}
	}

	d.mu.Lock()
	d.jids = jids
	d.mu.Unlock()

	log.Print(nil).Info(fmt.Sprintf("Channel directory refreshed, %d channels", len(jids)))
	return nil
}

func (d *ChannelDirectory) Contains(jid string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.jids[jid]
	return ok
}

func (d *ChannelDirectory) JIDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	jids := make([]string, 0, len(d.jids))
	for jid := range d.jids {
		jids = append(jids, jid)
	}
	return jids
}

func (d *ChannelDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.jids)
}
