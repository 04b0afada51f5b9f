package usecase

import (
	"TickWatch/internal/domain/models"
	"TickWatch/internal/domain/repository"
)

// Observers fans session notifications out in order. A nil list is a valid
// no-op observer.
type Observers []repository.SessionObserver

func (o Observers) StateChanged(state models.SubscriptionState) {
	for _, obs := range o {
		obs.StateChanged(state)
	}
}

func (o Observers) TicksReceived(batch models.TickBatch) {
	for _, obs := range o {
		obs.TicksReceived(batch)
	}
}

func (o Observers) Notify(n models.Notice) {
	for _, obs := range o {
		obs.Notify(n)
	}
}
