package roundtable

import (
	"fmt"
	"strings"

	"github.com/fretelli/AIWendy/knowledge"
	"github.com/fretelli/AIWendy/types"
)

// ModeratorPrompt builds the single-message prompt for one moderator
// sub-phase. The moderator speaks from an assembled briefing rather than the
// raw message history, so each sub-phase is a one-shot generation.
func (a *Assembler) ModeratorPrompt(st *exchangeState, kind MessageKind, roundMsgs []HistoryMessage, snippets []knowledge.Snippet) []types.Message {
	mod := st.session.Moderator

	var prompt string
	switch kind {
	case KindOpening:
		prompt = openingPrompt(mod, st.session.Coaches, st.opts.UserMessage)
	case KindClosing:
		prompt = closingPrompt(mod, st.history)
	default:
		prompt = summaryPrompt(mod, roundMsgs)
	}

	if len(snippets) > 0 {
		prompt = prompt + "\n\n" + knowledge.Format(snippets)
	}
	return []types.Message{types.NewUserMessage(prompt)}
}

func openingPrompt(mod *Coach, coaches []Coach, question string) string {
	styles := make([]string, 0, len(coaches))
	for _, c := range coaches {
		style := c.Style
		if style == "" {
			style = "coach"
		}
		styles = append(styles, fmt.Sprintf("%s (%s style)", c.Name, style))
	}

	return mod.SystemPrompt + fmt.Sprintf(`

You are the moderator of this roundtable discussion.
Participating coaches: %s
User question: %s

Open the discussion in 2-3 sentences:
1. Briefly frame what kind of problem this is
2. Preview which coaches will weigh in and from which angles

Notes:
- Stay concise and professional
- Do not repeat the user's question verbatim
- Let the user know what happens next
`, strings.Join(styles, ", "), question)
}

func summaryPrompt(mod *Coach, roundMsgs []HistoryMessage) string {
	lines := make([]string, 0, len(roundMsgs))
	for _, m := range roundMsgs {
		if m.CoachName == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s]: %s", m.CoachName, m.Content))
	}

	return mod.SystemPrompt + fmt.Sprintf(`

You are the moderator. Summarize this round of discussion.

Coach positions:
%s

In 3-4 sentences:
1. Summarize each coach's core point and recommendation
2. Call out where they agree and where they differ, if anywhere
3. Pose one deeper question for the user to reflect on or follow up with

Notes:
- Stay neutral and objective
- Highlight the essentials, do not restate everything
- The follow-up question should provoke thought
`, strings.Join(lines, "\n"))
}

func closingPrompt(mod *Coach, history []HistoryMessage) string {
	// Count each coach's contributions across the whole session.
	order := make([]string, 0, 4)
	counts := make(map[string]int)
	for _, m := range history {
		if m.Role != types.RoleAssistant || m.CoachName == "" || m.CoachID == mod.ID {
			continue
		}
		if _, seen := counts[m.CoachName]; !seen {
			order = append(order, m.CoachName)
		}
		counts[m.CoachName]++
	}
	lines := make([]string, 0, len(order))
	for _, name := range order {
		lines = append(lines, fmt.Sprintf("[%s] spoke %d times", name, counts[name]))
	}

	return mod.SystemPrompt + fmt.Sprintf(`

You are the moderator. The discussion is ending; give the closing remarks.

Discussion overview:
%s

In 4-5 sentences:
1. Thank the coaches for their contributions
2. Synthesize their views into 2-3 core recommendations
3. Encourage the user to put the advice into practice
4. Invite the user to open a new discussion any time

Notes:
- The synthesis should integrate, not merely list
- Recommendations must be concrete and executable
- Keep the tone warm and professional
`, strings.Join(lines, "\n"))
}
