package tracking

import (
	"sync"

	"control_miles/internal/models"
)

// GigApp names a platform the driver works for.
type GigApp string

const (
	Uber            GigApp = "Uber"
	Lyft            GigApp = "Lyft"
	DoorDash        GigApp = "DoorDash"
	UberEats        GigApp = "UberEats"
	Grubhub         GigApp = "Grubhub"
	Instacart       GigApp = "Instacart"
	Postmates       GigApp = "Postmates"
	Empower         GigApp = "Empower"
	AmazonFlex      GigApp = "AmazonFlex"
	Taxi            GigApp = "Taxi"
	PersonalCommute GigApp = "PersonalCommute"
)

// KnownGigApps lists every app a driver can declare.
var KnownGigApps = []GigApp{Uber, Lyft, DoorDash, UberEats, Grubhub, Instacart, Postmates, Empower, AmazonFlex, Taxi, PersonalCommute}

// GigApps holds the app the driver declared as active. Other apps cannot be
// observed from here, so the declaration is the only signal.
type GigApps struct {
	mu     sync.RWMutex
	active GigApp
}

// Declare sets the active app; an empty app clears it.
func (g *GigApps) Declare(app GigApp) error {
	if app != "" && !isKnown(app) {
		return models.NewValidationError("gig_app", "unknown app %q", app)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active = app
	return nil
}

// Active returns the declared app, or "" when none is declared.
func (g *GigApps) Active() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return string(g.active)
}

func isKnown(app GigApp) bool {
	for _, known := range KnownGigApps {
		if known == app {
			return true
		}
	}
	return false
}
