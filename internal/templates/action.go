package templates

// Tracking actions understood by the builtin destinations.
const (
	ActionAutomatic = "automatic"
	ActionIdentify  = "identify"
	ActionEvent     = "event"
	ActionPage      = "page"
	ActionScreen    = "screen"
	ActionDelete    = "delete"
)

var automaticActions = []struct {
	events []string
	action string
}{
	{events: []string{"$identify", "$set"}, action: ActionIdentify},
	{events: []string{"$pageview"}, action: ActionPage},
	{events: []string{"$screen"}, action: ActionScreen},
}

// ResolveAutomaticAction maps an event name to the action an "automatic"
// destination sends. Rules are tried in order; anything else is a plain event.
func ResolveAutomaticAction(eventName string) string {
	for _, rule := range automaticActions {
		for _, e := range rule.events {
			if e == eventName {
				return rule.action
			}
		}
	}
	return ActionEvent
}
