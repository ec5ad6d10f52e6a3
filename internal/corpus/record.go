package corpus

import (
	"strconv"
	"strings"
	"time"
)

// Variant - Kind of content a record holds. Also the payload tag used to partition searches.
type Variant string

const (
	Text  Variant = "text"
	Audio Variant = "audio"
	Event Variant = "event"
)

// Variants in presentation order.
var Variants = []Variant{Text, Audio, Event}

func (v Variant) Valid() bool {
	return v == Text || v == Audio || v == Event
}

// Record - One immutable corpus unit. Exactly one of Text, Audio or Event is set, matching Variant.
type Record struct {
	ID      string     `json:"id"`
	Variant Variant    `json:"type"`
	Header  string     `json:"header"`
	Content string     `json:"content"`
	Text    *TextMeta  `json:"text,omitempty"`
	Audio   *AudioMeta `json:"audio,omitempty"`
	Event   *EventMeta `json:"event,omitempty"`
}

type TextMeta struct {
	Title      string   `json:"title"`
	Summary    string   `json:"summary,omitempty"`
	KeyPhrases []string `json:"keyphrases,omitempty"`
	Category   string   `json:"category,omitempty"`
	Source     string   `json:"source,omitempty"`
	StartPage  int      `json:"start_page,omitempty"`
	EndPage    int      `json:"end_page,omitempty"`
}

// Pages - "12-15" style page range, empty when unknown.
func (m *TextMeta) Pages() string {
	if m == nil || m.StartPage == 0 {
		return ""
	}
	if m.EndPage == 0 || m.EndPage == m.StartPage {
		return strconv.Itoa(m.StartPage)
	}
	return strconv.Itoa(m.StartPage) + "-" + strconv.Itoa(m.EndPage)
}

type AudioMeta struct {
	AudioID        string   `json:"audio_id"`
	Title          string   `json:"audio_title"`
	URL            string   `json:"audio_url,omitempty"`
	Speaker        string   `json:"speaker,omitempty"`
	Section        string   `json:"section,omitempty"`
	TimestampStart string   `json:"timestamp_start,omitempty"`
	TimestampEnd   string   `json:"timestamp_end,omitempty"`
	ChunkIndex     int      `json:"chunk_index"`
	KeyPhrases     []string `json:"keyphrases,omitempty"`
}

// Timestamp - "start - end" for display.
func (m *AudioMeta) Timestamp() string {
	if m == nil || m.TimestampStart == "" {
		return ""
	}
	if m.TimestampEnd == "" {
		return m.TimestampStart
	}
	return m.TimestampStart + " - " + m.TimestampEnd
}

type EventMeta struct {
	EventID        string    `json:"event_id"`
	Title          string    `json:"event_title"`
	Description    string    `json:"description,omitempty"`
	Location       string    `json:"location,omitempty"`
	Venue          string    `json:"venue,omitempty"`
	Organizer      string    `json:"organizer,omitempty"`
	TargetAudience string    `json:"target_audience,omitempty"`
	Category       string    `json:"category,omitempty"`
	URL            string    `json:"url,omitempty"`
	TimePeriod     string    `json:"time_period,omitempty"`
	StartDate      time.Time `json:"start_date,omitzero"`
	EndDate        time.Time `json:"end_date,omitzero"`
	Views          int       `json:"views,omitempty"`
}

// Title - Display title regardless of variant, falling back to the header.
func (r Record) Title() string {
	var title string
	switch {
	case r.Text != nil:
		title = r.Text.Title
	case r.Audio != nil:
		title = r.Audio.Title
	case r.Event != nil:
		title = r.Event.Title
	}
	if title == "" {
		return r.Header
	}
	return title
}

// EmbedText - The text that gets embedded for this record.
func (r Record) EmbedText() string {
	if r.Header == "" {
		return r.Content
	}
	return r.Header + "\n" + r.Content
}

// ParseTimePeriod - Splits "2025/01/05～2025/03/30" into dates. A single date is both start and end.
// Unparseable halves come back as zero times.
func ParseTimePeriod(period string) (start, end time.Time) {
	period = strings.TrimSpace(period)
	if period == "" {
		return
	}
	parts := strings.FieldsFunc(period, func(r rune) bool {
		return r == '～' || r == '~' || r == '〜'
	})
	parse := func(s string) time.Time {
		s = strings.TrimSpace(s)
		for _, layout := range []string{"2006/01/02", "2006/1/2", "2006-01-02"} {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t
			}
		}
		return time.Time{}
	}
	switch len(parts) {
	case 0:
		return
	case 1:
		start = parse(parts[0])
		return start, start
	default:
		return parse(parts[0]), parse(parts[1])
	}
}
