package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wahost/go-whatsapp-bot-host/pkg/env"
	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
)

// Routines schedules the recurring background work: a health sweep that
// re-pairs unhealthy or missing sessions, and a refresh of the remote
// broadcast-channel list.
func Routines(scheduler *cron.Cron, deps Deps) {
	log.Print(nil).Info("Running Routine Tasks")

	healthSpec := env.GetEnvStringOrDefault("HEALTH_SWEEP_CRON", "0 */5 * * * *")
	if _, err := scheduler.AddFunc(healthSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
		defer cancel()
		deps.Manager.HealthSweep(ctx)
	}); err != nil {
		log.Print(nil).WithError(err).Error("Failed to add health sweep cron job")
	}

	channelSpec := env.GetEnvStringOrDefault("CHANNEL_REFRESH_CRON", "0 0 * * * *")
	if _, err := scheduler.AddFunc(channelSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := deps.Manager.RefreshChannels(ctx); err != nil {
			log.Print(nil).WithError(err).Warn("Channel list refresh failed")
		}
	}); err != nil {
		log.Print(nil).WithError(err).Error("Failed to add channel refresh cron job")
	}
}
