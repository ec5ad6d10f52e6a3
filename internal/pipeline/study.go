package pipeline

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/chiweic/rag-08122025/internal/apperr"
	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/retrieval"
	"github.com/chiweic/rag-08122025/internal/synthesis"
	"github.com/chiweic/rag-08122025/internal/utils"
)

const (
	summaryPreviewRunes  = 200
	quizReferenceRunes   = 500
	masterResponseChance = 0.1
)

var masterResponses = []string{
	"善哉！你的回答展現了真誠的探索精神。繼續在日常生活中實踐這些智慧吧。",
	"很好！記住，理解佛法的真正意義在於將它融入你的心靈和行為中。",
	"不錯的思考！修行的路上，保持初學者的心，每天都是新的開始。",
	"你的回答很用心。在禪修中，最重要的是當下的覺察和慈悲的心。",
	"很好！聖嚴法師常說：「面對它、接受它、處理它、放下它。」願你在生活中實踐這份智慧。",
}

func randomChance() float64 {
	return rand.Float64()
}

type Summary struct {
	OriginalText    string  `json:"original_text"`
	Summary         string  `json:"summary"`
	MaxLength       int     `json:"max_length"`
	ComputationTime float64 `json:"computation_time"`
	Source          string  `json:"source"`
}

// Summarize - Summary of text, or of the last cached answer when text is empty.
func (p *Pipeline) Summarize(ctx context.Context, text string, maxLength int) (Summary, error) {
	const op = "pipeline.Summarize"
	if maxLength <= 0 {
		maxLength = constants.DefaultSummaryLength
	}
	source := "provided_text"
	if strings.TrimSpace(text) == "" {
		last, ok := p.sessions.Last()
		if !ok || strings.TrimSpace(last.Answer) == "" {
			return Summary{}, apperr.Errorf(apperr.InvalidRequest, op, "No text provided and no recent query result to summarize")
		}
		text, source = last.Answer, "cached_query"
	}

	answer, err := synthesis.Complete(ctx, p.snapshot().generator, synthesis.BuildTextSummaryPrompt(text, maxLength))
	if err != nil {
		return Summary{}, err
	}
	return Summary{
		OriginalText:    utils.TruncateRunes(text, summaryPreviewRunes),
		Summary:         answer.Text,
		MaxLength:       maxLength,
		ComputationTime: answer.Elapsed,
		Source:          source,
	}, nil
}

type Translation struct {
	OriginalText    string  `json:"original_text"`
	TranslatedText  string  `json:"translated_text"`
	TargetLanguage  string  `json:"target_language"`
	ComputationTime float64 `json:"computation_time"`
}

// Translate - text in language, English when language is empty.
func (p *Pipeline) Translate(ctx context.Context, text, language string) (Translation, error) {
	const op = "pipeline.Translate"
	if strings.TrimSpace(text) == "" {
		return Translation{}, apperr.Errorf(apperr.InvalidRequest, op, "text is empty")
	}
	if utf8.RuneCountInString(text) > constants.MaxTranslationLength {
		return Translation{}, apperr.Errorf(apperr.InvalidRequest, op, "Max text length is %d characters.", constants.MaxTranslationLength)
	}
	language = strings.TrimSpace(language)
	if language == "" {
		language = constants.DefaultTargetLanguage
	}

	answer, err := synthesis.Complete(ctx, p.snapshot().generator, synthesis.BuildTranslationPrompt(text, language))
	if err != nil {
		return Translation{}, err
	}
	return Translation{
		OriginalText:    text,
		TranslatedText:  answer.Text,
		TargetLanguage:  language,
		ComputationTime: answer.Elapsed,
	}, nil
}

type ReferenceChunk struct {
	ChunkID string `json:"chunk_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type Quiz struct {
	QuizID          string         `json:"quiz_id"`
	Questions       []string       `json:"questions"`
	ReferenceChunk  ReferenceChunk `json:"reference_chunk"`
	SourceQuery     string         `json:"source_query"`
	ComputationTime float64        `json:"computation_time"`
}

// GenerateQuiz - Open questions on the top source of the last answered query.
func (p *Pipeline) GenerateQuiz(ctx context.Context) (Quiz, error) {
	const op = "pipeline.GenerateQuiz"
	last, ok := p.sessions.Last()
	if !ok || len(last.Sources) == 0 {
		return Quiz{}, apperr.Errorf(apperr.InvalidRequest, op, "No reference materials available. Please make a query first.")
	}
	ref := last.Sources[0]

	answer, err := synthesis.Synthesize(ctx, p.snapshot().generator, synthesis.Request{
		Question:   last.Question,
		Chunks:     []retrieval.Chunk{ref},
		PromptType: synthesis.Quiz,
	})
	if err != nil {
		return Quiz{}, err
	}
	questions := synthesis.ParseQuizQuestions(answer.Text)
	if len(questions) == 0 && answer.Text != "" {
		questions = []string{answer.Text}
	}

	quiz := Quiz{
		QuizID:    fmt.Sprintf("quiz_%d_%s", time.Now().Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		Questions: questions,
		ReferenceChunk: ReferenceChunk{
			ChunkID: ref.ID,
			Title:   ref.Title,
			Content: utils.TruncateRunes(ref.Content, quizReferenceRunes),
		},
		SourceQuery:     last.Question,
		ComputationTime: answer.Elapsed,
	}
	p.quizzes.put(quiz.QuizID, quizRecord{questions: questions, reference: ref})
	return quiz, nil
}

type QuizEvaluation struct {
	QuizID                string  `json:"quiz_id"`
	Evaluation            string  `json:"evaluation"`
	ZenMasterResponse     *string `json:"zen_master_response"`
	PracticeJourneyLogged bool    `json:"practice_journey_logged"`
	ComputationTime       float64 `json:"computation_time"`
}

// EvaluateQuiz - Grade answers against the quiz's reference passage. An unknown quiz id falls back to
// the top source of the last query.
func (p *Pipeline) EvaluateQuiz(ctx context.Context, quizID string, answers []string, userID string) (QuizEvaluation, error) {
	const op = "pipeline.EvaluateQuiz"
	var given []string
	for _, a := range answers {
		if a = strings.TrimSpace(a); a != "" {
			given = append(given, a)
		}
	}
	if len(given) == 0 {
		return QuizEvaluation{}, apperr.Errorf(apperr.InvalidRequest, op, "No answers provided.")
	}

	rec, ok := p.quizzes.get(quizID)
	if !ok {
		last, found := p.sessions.Last()
		if !found || len(last.Sources) == 0 {
			return QuizEvaluation{}, apperr.Errorf(apperr.InvalidRequest, op, "Reference material no longer available.")
		}
		rec = quizRecord{reference: last.Sources[0]}
	}

	prompt := synthesis.BuildQuizEvaluationPrompt(rec.reference.Title, rec.reference.Content, rec.questions, given)
	answer, err := synthesis.Complete(ctx, p.snapshot().generator, prompt)
	if err != nil {
		return QuizEvaluation{}, err
	}
	p.log.Info().
		Str("quiz_id", quizID).
		Str("user_id", userID).
		Int("answers", len(given)).
		Str("chunk_id", rec.reference.ID).
		Msg("quiz attempt logged")

	res := QuizEvaluation{
		QuizID:                quizID,
		Evaluation:            answer.Text,
		PracticeJourneyLogged: true,
		ComputationTime:       answer.Elapsed,
	}
	if p.chance() < masterResponseChance {
		msg := masterResponses[rand.IntN(len(masterResponses))]
		res.ZenMasterResponse = &msg
	}
	return res, nil
}

type quizRecord struct {
	questions []string
	reference retrieval.Chunk
}

// quizStore - Recently generated quizzes, oldest dropped first.
type quizStore struct {
	mu    sync.Mutex
	byID  map[string]quizRecord
	order []string
}

func newQuizStore() *quizStore {
	return &quizStore{byID: map[string]quizRecord{}}
}

func (s *quizStore) put(id string, rec quizRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		s.order = append(s.order, id)
	}
	s.byID[id] = rec
	for len(s.order) > constants.MaxQuizzes {
		delete(s.byID, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *quizStore) get(id string) (quizRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	return rec, ok
}
