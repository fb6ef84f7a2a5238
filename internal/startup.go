package internal

import (
	"context"
	mathrand "math/rand/v2"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wahost/go-whatsapp-bot-host/pkg/env"
	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
)

func jitterSleep(max time.Duration) {
	if max <= 0 {
		return
	}
	ms := mathrand.Int64N(max.Milliseconds() + 1)
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Startup rebuilds liveness after a process restart: the registry is not
// persisted, so every stored session record is replayed through the pairing
// flow with bounded concurrency.
func Startup(deps Deps) {
	log.Print(nil).Info("Running Startup Tasks")

	ctx := context.Background()

	if err := deps.Manager.RefreshChannels(ctx); err != nil {
		log.Print(nil).WithError(err).Warn("Failed to fetch channel list at startup")
	}

	numbers, err := deps.Store.ListSessionNumbers(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to load session records from store")
		return
	}
	if len(numbers) == 0 {
		log.Print(nil).Info("No stored sessions to restore")
		return
	}

	maxConcurrent := env.GetEnvIntOrDefault("STARTUP_RECONNECT_CONCURRENCY", 4)
	jitterMax := env.GetEnvDurationOrDefault("STARTUP_RECONNECT_JITTER_MAX", 5*time.Second)

	var restored, failed int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrent)

	for _, number := range numbers {
		number := number
		group.Go(func() error {
			jitterSleep(jitterMax)

			if _, err := deps.Manager.Pair(groupCtx, number); err != nil {
				log.Session(number).WithError(err).Warn("Failed to restore session at startup")
				atomic.AddInt64(&failed, 1)
				return nil
			}
			atomic.AddInt64(&restored, 1)
			return nil
		})
	}
	_ = group.Wait()

	log.Print(nil).Infof("Startup restore finished: %d restored, %d failed, %d total", restored, failed, len(numbers))
}
