package polling

import (
	"strings"

	"genie-chat/internal/domain"
)

// followUpLeadIns open the suggestion questions the agent appends to an answer.
var followUpLeadIns = []string{
	"would you like",
	"would you prefer",
	"would you want",
	"do you want",
	"do you need",
	"shall i",
	"should i",
	"is there",
	"are there any",
	"can i help",
}

// Extraction is the structured answer pulled out of a completed message.
type Extraction struct {
	Answer   string
	Query    string
	FollowUp string
	Warning  string
}

// Extract builds the answer for a completed message. Query attachments come
// first, commentary after, and a trailing suggestion question is split off
// into FollowUp. It never fails: malformed messages degrade to their raw text.
func Extract(msg domain.Message) Extraction {
	if msg.Anomaly != "" {
		return Extraction{
			Answer:  strings.TrimSpace(msg.Raw),
			Warning: "partial extraction: " + msg.Anomaly,
		}
	}

	var queryTexts, commentary []string
	var out Extraction
	for _, att := range msg.Attachments {
		if att.HasQuery() {
			if out.Query == "" {
				out.Query = att.Query
			}
			if att.Text != "" {
				queryTexts = append(queryTexts, att.Text)
			}
			continue
		}
		if att.Text != "" {
			commentary = append(commentary, att.Text)
		}
	}

	out.Answer = strings.TrimSpace(strings.Join(append(queryTexts, commentary...), "\n"))
	if len(commentary) > 0 {
		out.Answer, out.FollowUp = splitFollowUp(out.Answer)
	}
	return out
}

// splitFollowUp detaches a trailing suggestion question from the last
// non-empty line of text.
func splitFollowUp(text string) (answer, followUp string) {
	lines := strings.Split(text, "\n")
	last := len(lines) - 1
	for last >= 0 && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	if last < 0 {
		return text, ""
	}

	line := strings.TrimSpace(lines[last])
	if !strings.HasSuffix(line, "?") {
		return text, ""
	}
	idx := followUpStart(line)
	if idx < 0 {
		return text, ""
	}

	followUp = strings.TrimSpace(line[idx:])
	head := strings.TrimSpace(line[:idx])
	kept := lines[:last]
	if head != "" {
		kept = append(kept, head)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), followUp
}

// followUpStart returns the byte offset of the earliest lead-in that opens a
// sentence in line, or -1.
func followUpStart(line string) int {
	lower := strings.ToLower(line)
	best := -1
	for _, leadIn := range followUpLeadIns {
		from := 0
		for {
			i := strings.Index(lower[from:], leadIn)
			if i < 0 {
				break
			}
			i += from
			if opensSentence(lower, i) {
				if best < 0 || i < best {
					best = i
				}
				break
			}
			from = i + len(leadIn)
		}
	}
	return best
}

func opensSentence(s string, i int) bool {
	prefix := strings.TrimRight(s[:i], " \t")
	if prefix == "" {
		return true
	}
	switch prefix[len(prefix)-1] {
	case '.', '!', '?', ':', ';':
		return true
	}
	return false
}
