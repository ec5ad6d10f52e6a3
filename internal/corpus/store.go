package corpus

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/utils"
)

var ErrDuplicateID = errors.New("duplicate record id")

// Store - Read-only, in-memory corpus. Safe for concurrent use once built.
type Store struct {
	records   []Record
	byID      map[string]int
	byVariant map[Variant][]int
}

// rawRecord - One JSONL line as written by the chunking tools.
type rawRecord struct {
	ID       string         `json:"id"`
	Header   string         `json:"header"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Load - Reads text, audio and event chunk files from dir. Missing files are logged and treated as empty.
// audioLimit > 0 caps the audio records kept.
func Load(dir string, audioLimit int, log zerolog.Logger) (*Store, error) {
	files := []struct {
		variant Variant
		name    string
	}{
		{Text, constants.TextChunksFile},
		{Audio, constants.AudioChunksFile},
		{Event, constants.EventChunksFile},
	}

	var records []Record
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		count := 0
		err := utils.ReadLines(path, func(_ int, line []byte) error {
			if f.variant == Audio && audioLimit > 0 && count >= audioLimit {
				return nil
			}
			var raw rawRecord
			if err := json.Unmarshal(line, &raw); err != nil {
				return err
			}
			if raw.ID == "" {
				return errors.New("record without id")
			}
			records = append(records, fromRaw(f.variant, raw))
			count++
			return nil
		})
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("chunk file not found, skipping")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s chunks: %w", f.variant, err)
		}
		log.Info().Str("variant", string(f.variant)).Int("records", count).Msg("chunks loaded")
	}
	return NewStore(records)
}

// NewStore - Index records by id and variant. IDs must be unique.
func NewStore(records []Record) (*Store, error) {
	s := &Store{
		records:   make([]Record, 0, len(records)),
		byID:      make(map[string]int, len(records)),
		byVariant: make(map[Variant][]int, len(Variants)),
	}
	for _, r := range records {
		if !r.Variant.Valid() {
			return nil, fmt.Errorf("record %s: unknown variant %q", r.ID, r.Variant)
		}
		if _, ok := s.byID[r.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateID, r.ID)
		}
		s.byID[r.ID] = len(s.records)
		s.byVariant[r.Variant] = append(s.byVariant[r.Variant], len(s.records))
		s.records = append(s.records, r)
	}
	return s, nil
}

func (s *Store) Get(id string) (Record, bool) {
	i, ok := s.byID[id]
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// All - Records in load order. The slice is shared; don't modify it.
func (s *Store) All() []Record {
	return s.records
}

func (s *Store) ByVariant(v Variant) []Record {
	idx := s.byVariant[v]
	out := make([]Record, len(idx))
	for i, j := range idx {
		out[i] = s.records[j]
	}
	return out
}

func (s *Store) Len() int {
	return len(s.records)
}

func (s *Store) Counts() map[Variant]int {
	counts := make(map[Variant]int, len(Variants))
	for _, v := range Variants {
		counts[v] = len(s.byVariant[v])
	}
	return counts
}

func fromRaw(v Variant, raw rawRecord) Record {
	m := raw.Metadata
	r := Record{ID: raw.ID, Variant: v, Header: raw.Header, Content: raw.Content}
	switch v {
	case Text:
		r.Text = &TextMeta{
			Title:      str(m, "title"),
			Summary:    str(m, "summary"),
			KeyPhrases: strs(m, "keyphrases"),
			Category:   str(m, "category"),
			Source:     str(m, "source"),
			StartPage:  num(m, "start_page"),
			EndPage:    num(m, "end_page"),
		}
	case Audio:
		r.Audio = &AudioMeta{
			AudioID:        str(m, "audio_id"),
			Title:          str(m, "audio_title"),
			URL:            str(m, "audio_url"),
			Speaker:        str(m, "speaker"),
			Section:        str(m, "section"),
			TimestampStart: str(m, "timestamp_start"),
			TimestampEnd:   str(m, "timestamp_end"),
			ChunkIndex:     num(m, "chunk_index"),
			KeyPhrases:     strs(m, "keyphrases"),
		}
	case Event:
		period := str(m, "event_time_period")
		start, end := ParseTimePeriod(period)
		id := str(m, "event_id")
		if id == "" {
			id = raw.ID
		}
		description := str(m, "description")
		if description == "" {
			description = raw.Content
		}
		r.Event = &EventMeta{
			EventID:        id,
			Title:          firstNonEmpty(str(m, "event_title"), raw.Header),
			Description:    description,
			Location:       str(m, "event_location"),
			Venue:          str(m, "venue"),
			Organizer:      str(m, "organizer"),
			TargetAudience: str(m, "target_audience"),
			Category:       str(m, "event_category"),
			URL:            str(m, "event_url"),
			TimePeriod:     period,
			StartDate:      start,
			EndDate:        end,
			Views:          num(m, "views"),
		}
	}
	return r
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// num - Metadata numbers show up as JSON numbers or as strings depending on the tool that wrote them.
func num(m map[string]any, key string) int {
	switch v := m[key].(type) {
	case float64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func strs(m map[string]any, key string) []string {
	list, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
