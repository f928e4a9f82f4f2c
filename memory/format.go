package memory

import (
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/chatagent/core"
)

// Message is one stored chat line.
type Message struct {
	ConversationID int64     `json:"conversation_id"`
	MessageID      int64     `json:"message_id"`
	ActorID        int64     `json:"actor_id"`
	Name           string    `json:"name,omitempty"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
}

// Role values for Message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Options tune how stored messages are rendered into turns.
type Options struct {
	// MaxChars caps the combined length of the returned turns. Newest turns win.
	MaxChars int
	// LineMaxChars clips each line, keeping its beginning and end.
	LineMaxChars int
	// CommandPrefix marks bot commands, which are never returned as context.
	CommandPrefix string
}

func defaultOptions() Options {
	return Options{
		MaxChars:      2500,
		LineMaxChars:  220,
		CommandPrefix: "/",
	}
}

const clipSep = " ... "

// ClipMiddle shortens s to max runes keeping the head and tail around a
// separator.
func ClipMiddle(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if max <= 0 || len(r) <= max {
		return s
	}
	if max <= len(clipSep)+2 {
		return strings.TrimRight(string(r[:max]), " ")
	}
	head := (max - len(clipSep)) / 2
	tail := max - len(clipSep) - head
	return strings.TrimRight(string(r[:head]), " ") + clipSep + strings.TrimLeft(string(r[len(r)-tail:]), " ")
}

// buildTurns renders newest-first messages into chronological turns.
func buildTurns(newestFirst []Message, exclude int64, opts Options) []core.Turn {
	if opts.MaxChars <= 0 {
		return nil
	}

	var (
		built []core.Turn
		used  int
	)

	for _, m := range newestFirst {
		if exclude > 0 && m.MessageID == exclude {
			continue
		}
		raw := strings.TrimSpace(m.Text)
		if raw == "" {
			continue
		}
		if opts.CommandPrefix != "" && strings.HasPrefix(raw, opts.CommandPrefix) {
			continue
		}
		raw = strings.NewReplacer("\r", " ", "\n", " ").Replace(raw)
		raw = ClipMiddle(raw, opts.LineMaxChars)
		if raw == "" {
			continue
		}

		turn := core.Turn{Role: core.RoleUser, Content: raw}
		if m.Role == RoleAssistant {
			turn.Role = core.RoleAssistant
		} else {
			turn.Content = displayName(m) + ": " + raw
		}

		n := len([]rune(turn.Content))
		if used+n > opts.MaxChars && len(built) > 0 {
			break
		}
		built = append(built, turn)
		used += n + 1
		if used >= opts.MaxChars {
			break
		}
	}

	for i, j := 0, len(built)-1; i < j; i, j = i+1, j-1 {
		built[i], built[j] = built[j], built[i]
	}
	return built
}

func displayName(m Message) string {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		name = "id" + strconv.FormatInt(m.ActorID, 10)
	}
	return name + " (" + strconv.FormatInt(m.ActorID, 10) + ")"
}

func normalize(m Message) Message {
	m.Text = strings.TrimSpace(m.Text)
	if m.Role == "" {
		m.Role = RoleUser
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	return m
}
