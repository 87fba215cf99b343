package roundtable

import (
	"fmt"
	"strings"

	"github.com/fretelli/AIWendy/knowledge"
	"github.com/fretelli/AIWendy/llm/tokenizer"
	"github.com/fretelli/AIWendy/types"
)

// Assembler builds the message list for one turn. Assembly is deterministic:
// the same session, history and options always produce the same messages.
type Assembler struct {
	budget int
}

// NewAssembler returns an assembler with the given prompt token budget.
// A zero budget disables history trimming.
func NewAssembler(budget int) *Assembler {
	return &Assembler{budget: budget}
}

// CoachPrompt builds the full message list for one coach turn.
func (a *Assembler) CoachPrompt(st *exchangeState, coach Coach, round int, snippets []knowledge.Snippet) []types.Message {
	msgs := []types.Message{
		types.NewSystemMessage(coachSystemPrompt(coach, st.session.Coaches)),
	}
	if st.session.Mode == ModeFree {
		msgs = append(msgs, types.NewSystemMessage(debateInstruction(round, st.opts.DebateStyle)))
	}
	if len(snippets) > 0 {
		msgs = append(msgs, types.NewSystemMessage(knowledge.Format(snippets)))
	}
	return append(msgs, a.historyMessages(st)...)
}

// historyMessages converts the exchange history into provider messages. User
// messages fold attachment content in; assistant messages are prefixed with
// the speaker so coaches can refer to each other by name.
func (a *Assembler) historyMessages(st *exchangeState) []types.Message {
	history := st.history
	if a.budget > 0 {
		history = trimHistory(history, a.budget)
	}
	out := make([]types.Message, 0, len(history))
	for _, h := range history {
		if h.Role == types.RoleUser {
			out = append(out, userMessage(h))
			continue
		}
		name := h.CoachName
		if name == "" {
			name = "Coach"
		}
		out = append(out, types.NewAssistantMessage(fmt.Sprintf("[%s]: %s", name, h.Content)))
	}
	return out
}

// trimHistory drops the oldest messages until the remainder fits the token
// budget. The most recent user message is always kept.
func trimHistory(history []HistoryMessage, budget int) []HistoryMessage {
	est := tokenizer.NewEstimatorTokenizer("history", 0)
	total := 0
	counts := make([]int, len(history))
	for i, h := range history {
		n, err := est.CountTokens(h.Content)
		if err != nil {
			n = len(h.Content) / 4
		}
		counts[i] = n + 4
		total += counts[i]
	}
	start := 0
	for start < len(history)-1 && total > budget {
		total -= counts[start]
		start++
	}
	return history[start:]
}

// userMessage folds a user turn's attachments into a single message. Images
// with inline data become image parts; extracted text and transcriptions are
// appended as labelled context blocks.
func userMessage(h HistoryMessage) types.Message {
	if len(h.Attachments) == 0 {
		return types.NewUserMessage(h.Content)
	}

	var images []types.ImageContent
	var extra []string
	for _, att := range h.Attachments {
		switch {
		case att.Type == "image" && att.ImageData != "":
			images = append(images, types.ImageContent{URL: att.ImageData})
		case att.ExtractedText != "":
			extra = append(extra, fmt.Sprintf("[File: %s]\n%s", att.FileName, att.ExtractedText))
		case att.Transcription != "":
			extra = append(extra, fmt.Sprintf("[Transcription: %s]\n%s", att.FileName, att.Transcription))
		case att.Type == "image":
			extra = append(extra, fmt.Sprintf("[Image: %s]\n%s", att.FileName, att.URL))
		default:
			extra = append(extra, fmt.Sprintf("[Attachment: %s]\n%s", att.FileName, att.URL))
		}
	}

	content := h.Content
	if len(extra) > 0 {
		block := strings.Join(extra, "\n\n---\n\n")
		if strings.TrimSpace(content) != "" {
			content = fmt.Sprintf("%s\n\nAttached content:\n%s", content, block)
		} else {
			content = fmt.Sprintf("Attached content:\n%s", block)
		}
	}
	msg := types.NewUserMessage(content)
	if len(images) > 0 {
		msg = msg.WithImages(images)
	}
	return msg
}

// coachSystemPrompt extends a coach's persona with the shared discussion
// framing: who else is at the table and how to behave in it.
func coachSystemPrompt(coach Coach, roster []Coach) string {
	names := make([]string, 0, len(roster))
	others := make([]string, 0, len(roster)-1)
	for _, c := range roster {
		names = append(names, c.Name)
		if c.ID != coach.ID {
			others = append(others, c.Name)
		}
	}

	style := coach.Style
	if style == "" {
		style = "coach"
	}

	ctx := fmt.Sprintf(`

You are taking part in a roundtable discussion on trading psychology.
Participants: %s
Your role is %s (%s style).

Discussion rules:
1. Keep your distinct personality and communication style
2. You may respond to, build on, or politely challenge the other coaches
3. Keep each turn short, 2-4 sentences
4. Focus on the user's actual question and give advice with substance
5. If another coach already made a good point, add to it rather than repeat it

Other coaches: %s
`, strings.Join(names, ", "), coach.Name, style, strings.Join(others, ", "))

	return coach.SystemPrompt + ctx
}

// debateInstruction is the free-mode per-round instruction that drives
// multi-round cross-coach debate. Round 1 seeds independent positions; later
// rounds force engagement with the others, in the exchange's debate style.
func debateInstruction(round int, style DebateStyle) string {
	if round <= 1 {
		return "This is round 1 of the discussion: give the core judgement and advice that follows from your own style.\n" +
			"Keep it to 2-4 sentences, as concrete and actionable as possible. Do not restate the others (the debate has not started yet)."
	}

	if style == StyleClash {
		return fmt.Sprintf("This is debate round %d (adversarial style): you must name and quote at least one other coach's position,\n"+
			"point out the risk or blind spot in their advice (disagreement is fine), then give your alternative or stricter boundary conditions.\n"+
			"Finish with the single action you consider most critical and most executable.\n"+
			"Keep it to 2-5 sentences. Do not repeat your own previous round. Stay professional but constructive pushback is allowed.", round)
	}

	return fmt.Sprintf("This is debate round %d (convergent style): you must name and quote at least one other coach's position,\n"+
		"say where you agree, extend, or correct it, and merge the views into a clearer plan with explicit priorities or conditions.\n"+
		"Finish with 1-2 concrete, executable recommendations.\n"+
		"Keep it to 2-5 sentences. Do not repeat your own previous round. Stay professional and execution-focused.", round)
}

// knowledgeQueryBase is the user's question plus any attachment-derived text,
// the seed of every retrieval query.
func knowledgeQueryBase(st *exchangeState) string {
	base := strings.TrimSpace(st.opts.UserMessage)
	extra := make([]string, 0, len(st.opts.Attachments))
	for _, att := range st.opts.Attachments {
		switch {
		case att.ExtractedText != "":
			extra = append(extra, fmt.Sprintf("[File: %s]\n%s", att.FileName, att.ExtractedText))
		case att.Transcription != "":
			extra = append(extra, fmt.Sprintf("[Transcription: %s]\n%s", att.FileName, att.Transcription))
		}
	}
	if len(extra) > 0 {
		base = base + "\n\n" + strings.Join(extra, "\n\n---\n\n")
	}
	return base
}

// knowledgeQuery builds the retrieval query for this exchange. Message timing
// queries with the base alone; the per-round/coach/moderator timings prepend
// the most recent assistant turns, oldest first.
func knowledgeQuery(st *exchangeState, maxAssistant int) string {
	base := knowledgeQueryBase(st)
	if st.opts.KBTiming == KBMessage {
		return base
	}

	tail := make([]string, 0, maxAssistant)
	for i := len(st.history) - 1; i >= 0 && len(tail) < maxAssistant; i-- {
		h := st.history[i]
		if h.Role != types.RoleAssistant || strings.TrimSpace(h.Content) == "" {
			continue
		}
		tail = append(tail, strings.TrimSpace(h.Content))
	}
	parts := make([]string, 0, len(tail)+1)
	for i := len(tail) - 1; i >= 0; i-- {
		parts = append(parts, tail[i])
	}
	parts = append(parts, base)
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}
