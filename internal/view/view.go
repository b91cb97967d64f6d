// Package view maps session and navigation state onto the screen to render.
// It holds no state and no subscriptions.
package view

import "github.com/inkwell/client/internal/models"

// Screen is what the renderer should show.
type Screen string

const (
	ScreenLoading Screen = "loading"
	ScreenSignIn  Screen = "sign-in"
	ScreenHome    Screen = "home"
	ScreenPost    Screen = "post"
	ScreenProfile Screen = "profile"
)

// Target is the screen the user asked for. Unrecognized targets render home.
type Target string

const (
	TargetHome    Target = "home"
	TargetPost    Target = "post"
	TargetProfile Target = "profile"
)

// Resolve picks the screen for the current state. Until identity resolution
// completes the app is loading; without a federated identity every target
// lands on the sign-in prompt; post detail needs a selected post.
func Resolve(ready bool, identity models.Identity, target Target, selectedPostID string) Screen {
	if !ready {
		return ScreenLoading
	}
	if !identity.Federated() {
		return ScreenSignIn
	}
	switch target {
	case TargetPost:
		if selectedPostID == "" {
			return ScreenHome
		}
		return ScreenPost
	case TargetProfile:
		return ScreenProfile
	default:
		return ScreenHome
	}
}
