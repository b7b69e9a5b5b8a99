package lifecycle

import (
	"fmt"

	"fuelpay/internal/models"
)

type phraseKey struct {
	electric bool
	state    models.LifecycleState
}

// Only states reported by the pump itself are announced.
var phrases = map[phraseKey]string{
	{false, models.StateFueling}:   "Fueling has started",
	{false, models.StateCompleted}: "Fueling is complete. Thank you",
	{false, models.StateError}:     "Something went wrong with the pump. Please ask the station staff for help",
	{true, models.StateFueling}:    "Charging has started",
	{true, models.StateCompleted}:  "Charging is complete. You can unplug your vehicle",
	{true, models.StateError}:      "Something went wrong with the charger. Please ask the station staff for help",
}

// Phrase returns what to say for a state, or "" when the state is silent.
func Phrase(kind models.PumpType, state models.LifecycleState, productInfo string) string {
	phrase, ok := phrases[phraseKey{kind.IsElectric(), state}]
	if !ok {
		return ""
	}
	if productInfo != "" && state == models.StateFueling {
		if kind.IsElectric() {
			return fmt.Sprintf("Charging has started at %s", productInfo)
		}
		return fmt.Sprintf("Fueling %s has started", productInfo)
	}
	return phrase
}
