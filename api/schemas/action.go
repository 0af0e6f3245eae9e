package schemas

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ActionType is the tag of an Action variant.
type ActionType string

const (
	ActionTap        ActionType = "tap"
	ActionTapAndType ActionType = "tap_and_type"
	ActionSwipe      ActionType = "swipe"
	ActionPressBack  ActionType = "press_back"
	ActionPressHome  ActionType = "press_home"
	// ActionRelaunch restarts the target app. Only the loop detector emits it.
	ActionRelaunch ActionType = "relaunch"
	ActionWait     ActionType = "wait"
	ActionDone     ActionType = "done"
	ActionFail     ActionType = "fail"
)

// TargetsElement reports whether actions of this type carry an element index.
func (t ActionType) TargetsElement() bool {
	return t == ActionTap || t == ActionTapAndType
}

// Terminal reports whether the action ends a session.
func (t ActionType) Terminal() bool {
	return t == ActionDone || t == ActionFail
}

// Direction of a swipe, named after the finger movement.
type Direction string

const (
	SwipeUp    Direction = "up"
	SwipeDown  Direction = "down"
	SwipeLeft  Direction = "left"
	SwipeRight Direction = "right"
)

// Valid reports whether d is one of the four known directions.
func (d Direction) Valid() bool {
	switch d {
	case SwipeUp, SwipeDown, SwipeLeft, SwipeRight:
		return true
	}
	return false
}

// Purpose names the session flag an executed action confirms.
type Purpose string

const (
	PurposeNone        Purpose = ""
	PurposeSelectMedia Purpose = "select_media"
	PurposeCaption     Purpose = "caption"
	PurposeSubmit      Purpose = "submit"
	PurposeFollow      Purpose = "follow"
	PurposeSearch      Purpose = "search"
	PurposeDismiss     Purpose = "dismiss"
	PurposeNavigate    Purpose = "navigate"
)

// Action is the tagged union of everything a session can do in one step.
// Index is only meaningful for tap variants and only within the snapshot the
// action was planned against.
type Action struct {
	Type      ActionType `json:"type"`
	Index     int        `json:"index,omitempty"`
	Text      string     `json:"text,omitempty"`
	Direction Direction  `json:"direction,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Purpose   Purpose    `json:"purpose,omitempty"`
	Rationale string     `json:"rationale,omitempty"`
}

func Tap(index int, purpose Purpose) Action {
	return Action{Type: ActionTap, Index: index, Purpose: purpose}
}

func TapAndType(index int, text string, purpose Purpose) Action {
	return Action{Type: ActionTapAndType, Index: index, Text: text, Purpose: purpose}
}

func Swipe(d Direction) Action { return Action{Type: ActionSwipe, Direction: d} }
func PressBack() Action        { return Action{Type: ActionPressBack} }
func PressHome() Action        { return Action{Type: ActionPressHome} }
func Relaunch() Action         { return Action{Type: ActionRelaunch} }
func Wait() Action             { return Action{Type: ActionWait} }
func Done() Action             { return Action{Type: ActionDone} }

// Fail ends the session with the given reason, normally a FailureCode.
func Fail(reason string) Action { return Action{Type: ActionFail, Reason: reason} }

func (a Action) String() string {
	switch a.Type {
	case ActionTap:
		return fmt.Sprintf("tap(%d)", a.Index)
	case ActionTapAndType:
		return fmt.Sprintf("tap_and_type(%d,%q)", a.Index, a.Text)
	case ActionSwipe:
		return fmt.Sprintf("swipe(%s)", a.Direction)
	case ActionFail:
		return fmt.Sprintf("fail(%s)", a.Reason)
	default:
		return string(a.Type)
	}
}

// SessionState holds the per-session progress flags. It is owned by exactly one
// navigation session.
type SessionState struct {
	ResourceUploaded bool `json:"resource_uploaded"`
	CaptionEntered   bool `json:"caption_entered"`
	Submitted        bool `json:"submitted"`
	Step             int  `json:"step"`
}

// Apply records the effect of an action that has already been executed.
func (s *SessionState) Apply(a Action) {
	switch a.Purpose {
	case PurposeSelectMedia:
		s.ResourceUploaded = true
	case PurposeCaption:
		s.CaptionEntered = true
	case PurposeSubmit, PurposeFollow:
		s.Submitted = true
	}
}

// Flow selects which goal the app is driven toward.
type Flow string

const (
	FlowPublish Flow = "publish"
	FlowFollow  Flow = "follow"
)

// ParseFlow accepts a flow name case-insensitively. Empty defaults to publish.
func ParseFlow(s string) (Flow, error) {
	switch Flow(strings.ToLower(strings.TrimSpace(s))) {
	case "", FlowPublish:
		return FlowPublish, nil
	case FlowFollow:
		return FlowFollow, nil
	}
	return "", fmt.Errorf("unknown flow %q", s)
}

// Goal is what a job asks the session to achieve.
type Goal struct {
	Caption string `json:"caption,omitempty"`
	Flow    Flow   `json:"flow"`
	Target  string `json:"target,omitempty"`
}

// Validate checks the goal is self-consistent for its flow.
func (g Goal) Validate() error {
	switch g.Flow {
	case FlowPublish:
		if g.Target != "" {
			return fmt.Errorf("publish goal must not name a target")
		}
	case FlowFollow:
		if g.Target == "" {
			return fmt.Errorf("follow goal requires a target")
		}
		if g.Caption != "" {
			return fmt.Errorf("follow goal must not carry a caption")
		}
	default:
		return fmt.Errorf("unknown flow %q", g.Flow)
	}
	return nil
}

// EncodeGoal renders a goal into its goal_params ledger cell. Fields are emitted
// in sorted key order so equal goals always encode identically.
func EncodeGoal(g Goal) (string, error) {
	b, err := json.Marshal(g)
	if err != nil {
		return "", fmt.Errorf("encoding goal: %w", err)
	}
	return string(b), nil
}

// DecodeGoal parses a goal_params ledger cell.
func DecodeGoal(s string) (Goal, error) {
	var g Goal
	if strings.TrimSpace(s) == "" {
		return g, fmt.Errorf("empty goal params")
	}
	if err := json.Unmarshal([]byte(s), &g); err != nil {
		return g, fmt.Errorf("decoding goal params: %w", err)
	}
	return g, nil
}

// GoalContext is what the oracle is told about the session when it is asked to decide.
type GoalContext struct {
	Goal          Goal         `json:"goal"`
	State         SessionState `json:"state"`
	Candidate     ScreenType   `json:"candidate_screen,omitempty"`
	Confidence    float64      `json:"confidence"`
	RecentActions []Action     `json:"recent_actions,omitempty"`
}
