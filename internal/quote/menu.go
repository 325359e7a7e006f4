package quote

import "strings"

// MenuAction is the classified intent of a reply while a quote exists.
type MenuAction int

const (
	ActionNewRequest MenuAction = iota
	ActionFinalize
	ActionShowBest
	ActionShowAll
	ActionBack
)

func (a MenuAction) String() string {
	switch a {
	case ActionFinalize:
		return "finalize"
	case ActionShowBest:
		return "show_best"
	case ActionShowAll:
		return "show_all"
	case ActionBack:
		return "back"
	default:
		return "new_request"
	}
}

// menuDigits maps reserved reply contents to actions. Emoji keycap digits
// arrive from some phone keyboards and count as their plain digit.
var menuDigits = map[string]MenuAction{
	"1": ActionFinalize, "1️⃣": ActionFinalize,
	"2": ActionShowBest, "2️⃣": ActionShowBest,
	"3": ActionShowAll, "3️⃣": ActionShowAll,
	"0": ActionBack, "0️⃣": ActionBack,
}

// ClassifyReply maps literal menu digits to their action; anything else is
// a new item request. Pure; phase validity is the transition table's job.
func ClassifyReply(text string) MenuAction {
	if action, ok := menuDigits[strings.ToLower(strings.TrimSpace(text))]; ok {
		return action
	}
	return ActionNewRequest
}
