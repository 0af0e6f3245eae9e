// Package planner turns a classified screen and the session's progress into
// the next action. Element indices are always looked up in the snapshot being
// planned against.
package planner

import (
	"strings"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

type planFunc func(state schemas.SessionState, goal schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action

// Planner holds the static screen-to-action table of one flow. It keeps no
// state between calls.
type Planner struct {
	flow  schemas.Flow
	table map[schemas.ScreenType]planFunc
}

// New builds the planner for a flow.
func New(flow schemas.Flow) *Planner {
	p := &Planner{flow: flow, table: map[schemas.ScreenType]planFunc{
		schemas.ScreenPopup:         planDismiss,
		schemas.ScreenLoginRequired: planLoggedOut,
	}}
	var flowTable map[schemas.ScreenType]planFunc
	if flow == schemas.FlowFollow {
		flowTable = followTable
	} else {
		flowTable = publishTable
	}
	for t, f := range flowTable {
		p.table[t] = f
	}
	return p
}

// Flow returns the flow the planner was built for.
func (p *Planner) Flow() schemas.Flow { return p.flow }

// Plan selects the next action for a confidently classified screen. A screen
// the table does not cover, or an anchor that cannot be found, yields
// Fail(anchor_not_found).
func (p *Planner) Plan(screen schemas.ScreenType, state schemas.SessionState, goal schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
	f, ok := p.table[screen]
	if !ok {
		return anchorNotFound()
	}
	return f(state, goal, snap)
}

func anchorNotFound() schemas.Action {
	return schemas.Fail(string(schemas.CodeAnchorNotFound))
}

// tapOr taps the located element or fails with anchor_not_found.
func tapOr(snap *schemas.ScreenSnapshot, purpose schemas.Purpose, criteria ...criterion) schemas.Action {
	i, ok := locate(snap, criteria...)
	if !ok {
		return anchorNotFound()
	}
	return schemas.Tap(i, purpose)
}

func planDismiss(_ schemas.SessionState, _ schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
	return tapOr(snap, schemas.PurposeDismiss,
		textIs("Not now"), textIs("Dismiss"), textIs("Got it"), textIs("Skip"), descIs("Close"), textIs("Cancel"))
}

func planLoggedOut(schemas.SessionState, schemas.Goal, *schemas.ScreenSnapshot) schemas.Action {
	return schemas.Fail(string(schemas.CodeLoggedOut))
}

var publishTable = map[schemas.ScreenType]planFunc{
	schemas.ScreenHomeFeed: func(st schemas.SessionState, _ schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		if st.Submitted {
			return schemas.Done()
		}
		return tapOr(snap, schemas.PurposeNavigate, idSuffix("create_button"), descIs("Create"))
	},
	schemas.ScreenCreationMenu: func(_ schemas.SessionState, _ schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		return tapOr(snap, schemas.PurposeNavigate, textIs("Upload"), idSuffix("upload_entry"))
	},
	schemas.ScreenMediaPicker: func(st schemas.SessionState, _ schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		if !st.ResourceUploaded {
			return tapOr(snap, schemas.PurposeSelectMedia, idSuffix("media_thumbnail"))
		}
		return tapOr(snap, schemas.PurposeNavigate, textIs("Next"), idSuffix("next_button"))
	},
	schemas.ScreenEditor: func(_ schemas.SessionState, _ schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		return tapOr(snap, schemas.PurposeNavigate, textIs("Next"), idSuffix("next_button"))
	},
	schemas.ScreenCaptionEntry: func(st schemas.SessionState, goal schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		if !st.CaptionEntered && goal.Caption != "" {
			i, ok := locate(snap, idSuffix("caption_input"), textContains("Describe your post"))
			if !ok {
				return anchorNotFound()
			}
			return schemas.TapAndType(i, goal.Caption, schemas.PurposeCaption)
		}
		if st.Submitted {
			return schemas.Wait()
		}
		return tapOr(snap, schemas.PurposeSubmit, idSuffix("post_button"), textIs("Post"))
	},
	schemas.ScreenPublishReady: func(st schemas.SessionState, _ schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		// Post was already tapped and the upload is in flight; tapping again could double-post.
		if st.Submitted {
			return schemas.Wait()
		}
		return tapOr(snap, schemas.PurposeSubmit, idSuffix("post_button"), textIs("Post"))
	},
	schemas.ScreenPublishSuccess: func(schemas.SessionState, schemas.Goal, *schemas.ScreenSnapshot) schemas.Action {
		return schemas.Done()
	},
}

var followTable = map[schemas.ScreenType]planFunc{
	schemas.ScreenHomeFeed: func(st schemas.SessionState, _ schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		if st.Submitted {
			return schemas.Done()
		}
		return tapOr(snap, schemas.PurposeNavigate, idSuffix("search_icon"), descIs("Search"))
	},
	schemas.ScreenSearch: func(_ schemas.SessionState, goal schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		i, ok := locate(snap, idSuffix("search_input"))
		if !ok {
			return anchorNotFound()
		}
		if el, _ := snap.Element(i); strings.EqualFold(strings.TrimSpace(el.Text), goal.Target) {
			// Query is typed; results are loading.
			return schemas.Wait()
		}
		return schemas.TapAndType(i, goal.Target, schemas.PurposeSearch)
	},
	schemas.ScreenSearchResults: func(_ schemas.SessionState, goal schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		return tapOr(snap, schemas.PurposeNavigate, both(idSuffix("user_result"), textIs(goal.Target)), textIs(goal.Target))
	},
	schemas.ScreenProfile: func(st schemas.SessionState, goal schemas.Goal, snap *schemas.ScreenSnapshot) schemas.Action {
		if st.Submitted {
			return schemas.Done()
		}
		if i, ok := locate(snap, idSuffix("profile_header")); ok {
			if el, _ := snap.Element(i); el.Text != "" && !strings.EqualFold(el.Text, goal.Target) {
				return schemas.PressBack()
			}
		}
		return tapOr(snap, schemas.PurposeFollow, idSuffix("follow_button"), textIs("Follow"))
	},
	schemas.ScreenProfileFollowing: func(schemas.SessionState, schemas.Goal, *schemas.ScreenSnapshot) schemas.Action {
		return schemas.Done()
	},
}
