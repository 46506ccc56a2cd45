package presence

import (
	"fmt"

	"github.com/babycommando/rich-go/client"
)

// activityTypeListening renders the activity as "Listening to ..." in the
// Discord client.
const activityTypeListening = 2

// DiscordTransport talks to a locally running Discord client over its IPC
// socket via rich-go.
type DiscordTransport struct {
	appID    string
	loggedIn bool
}

func NewDiscordTransport(appID string) *DiscordTransport {
	return &DiscordTransport{appID: appID}
}

func (d *DiscordTransport) Connect() error {
	if err := client.Login(d.appID); err != nil {
		return fmt.Errorf("discord login failed: %w", err)
	}
	d.loggedIn = true
	return nil
}

func (d *DiscordTransport) Disconnect() {
	if d.loggedIn {
		client.Logout()
		d.loggedIn = false
	}
}

func (d *DiscordTransport) SetActivity(a Activity) error {
	act := client.Activity{
		Type:    activityTypeListening,
		Details: a.Details,
		State:   a.State,
	}
	if a.ButtonLabel != "" {
		act.Buttons = []*client.Button{
			{Label: a.ButtonLabel, Url: a.ButtonURL},
		}
	}
	return client.SetActivity(act)
}

// ClearActivity wipes the remote presence by pushing an empty activity.
func (d *DiscordTransport) ClearActivity() error {
	return client.SetActivity(client.Activity{})
}
