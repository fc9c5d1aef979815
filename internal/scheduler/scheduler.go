package scheduler

import (
	"log"
	"time"

	"scholarship-ledger/internal/ledger"
)

// StartExpirySweep runs the budget expiry sweep on a fixed interval.
// Budgets past their expiry date are flipped to expired with an expiry
// ledger entry, which blocks further reservations against them.
func StartExpirySweep(store *ledger.Store, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		log.Printf("expiry sweep started, interval %s", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for range ticker.C {
			n, err := store.ExpireDue(time.Now())
			if err != nil {
				log.Printf("expiry sweep: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("expiry sweep: expired %d budget(s)", n)
			}
		}
	}()
}
