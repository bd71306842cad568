package telegram

import (
	"fmt"
	"strings"

	"github.com/ykvlv/digest-bot/internal/domain"
)

// CallbackKind enumerates every inline button the bot emits.
type CallbackKind int

const (
	CallbackUnknown CallbackKind = iota
	CallbackMenuMain
	CallbackMenuList
	CallbackMenuSummary
	CallbackMenuPeriod
	CallbackMenuHelp
	CallbackMenuAddHelp
	CallbackInputChannel
	CallbackCancelInput
	CallbackSetPeriod // carries a Period
)

// callbackNames is the wire form of each kind; CallbackSetPeriod is a prefix.
var callbackNames = map[CallbackKind]string{
	CallbackMenuMain:     "menu_main",
	CallbackMenuList:     "menu_list",
	CallbackMenuSummary:  "menu_summary",
	CallbackMenuPeriod:   "menu_period",
	CallbackMenuHelp:     "menu_help",
	CallbackMenuAddHelp:  "menu_add_help",
	CallbackInputChannel: "input_channel",
	CallbackCancelInput:  "cancel_input",
	CallbackSetPeriod:    "period_",
}

var callbackKinds = func() map[string]CallbackKind {
	m := make(map[string]CallbackKind, len(callbackNames))
	for k, v := range callbackNames {
		m[v] = k
	}
	return m
}()

func (k CallbackKind) String() string {
	if s, ok := callbackNames[k]; ok {
		return strings.TrimSuffix(s, "_")
	}
	return "unknown"
}

// Callback is a decoded inline button payload.
type Callback struct {
	Kind   CallbackKind
	Period domain.Period
}

// Data encodes the callback for an inline button.
func (c Callback) Data() string {
	if c.Kind == CallbackSetPeriod {
		return fmt.Sprintf("%s%d", callbackNames[CallbackSetPeriod], int(c.Period))
	}
	return callbackNames[c.Kind]
}

// ParseCallback decodes button data. Unknown payloads and unsupported periods
// are errors.
func ParseCallback(data string) (Callback, error) {
	if rest, ok := strings.CutPrefix(data, callbackNames[CallbackSetPeriod]); ok {
		p, err := domain.ParsePeriod(rest)
		if err != nil {
			return Callback{}, err
		}
		return Callback{Kind: CallbackSetPeriod, Period: p}, nil
	}
	if k, ok := callbackKinds[data]; ok && k != CallbackSetPeriod {
		return Callback{Kind: k}, nil
	}
	return Callback{}, fmt.Errorf("unknown callback %q", data)
}
