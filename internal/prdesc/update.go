package prdesc

import "strings"

type Mode int

const (
	ModeAppend Mode = iota
	ModeReplace
)

func (m Mode) String() string {
	if m == ModeReplace {
		return "replace"
	}
	return "append"
}

type Action string

const (
	ActionUpdate         Action = "update"
	ActionAlreadyPresent Action = "already-present"
)

// Separator joins the existing description and an appended block.
const Separator = "\n\n"

// Decision is the outcome of Plan. Body is the description to write when
// Action is ActionUpdate and the unchanged body otherwise.
type Decision struct {
	Action Action
	Body   string
}

func (d Decision) NeedsWrite() bool {
	return d.Action == ActionUpdate
}

// Plan decides how body changes when block is applied in mode. A body that
// already carries a block is left alone in every mode, which keeps repeated
// runs from stacking banners.
func Plan(body, block string, mode Mode) Decision {
	if HasBlock(body) {
		return Decision{Action: ActionAlreadyPresent, Body: body}
	}
	if mode == ModeReplace || strings.TrimSpace(body) == "" {
		return Decision{Action: ActionUpdate, Body: block}
	}
	return Decision{Action: ActionUpdate, Body: body + Separator + block}
}
