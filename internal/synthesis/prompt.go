package synthesis

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chiweic/rag-08122025/internal/constants"
	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/retrieval"
	"github.com/chiweic/rag-08122025/internal/utils"
)

type PromptType string

const (
	QA             PromptType = "qa"
	Summary        PromptType = "summary"
	Quiz           PromptType = "quiz"
	QuizEvaluation PromptType = "quiz_evaluation"
	Translation    PromptType = "translation"
)

func (p PromptType) Valid() bool {
	switch p {
	case QA, Summary, Quiz, QuizEvaluation, Translation:
		return true
	}
	return false
}

// excerpt lengths in runes, per variant
var excerptRunes = map[corpus.Variant]int{
	corpus.Text:  500,
	corpus.Audio: 400,
	corpus.Event: 300,
}

var sectionHeaders = map[corpus.Variant]string{
	corpus.Text:  "【文本參考】",
	corpus.Audio: "【音頻參考】",
	corpus.Event: "【活動參考】",
}

const (
	persona       = "你是一位專業的佛教導師助手，熟悉聖嚴法師的著作與法鼓山的活動。"
	languageRule  = "重要：請始終使用繁體中文回答，無論問題使用什麼語言。"
	noReferences  = "（沒有找到相關的參考資料）"
	sectionMarker = "\n=====\n"
)

// BuildContext - Chunks grouped by variant in presentation order, each under a "[來源 n｜title]"
// marker, wrapped in <START>/<END>. Numbering runs across all groups so citations stay unique.
func BuildContext(chunks []retrieval.Chunk) string {
	var promptBuilder strings.Builder
	promptBuilder.WriteString("<START>\n")
	if len(chunks) == 0 {
		promptBuilder.WriteString(noReferences + "\n")
		promptBuilder.WriteString("<END>\n")
		return promptBuilder.String()
	}

	n := 0
	for _, v := range corpus.Variants {
		wroteHeader := false
		for _, c := range chunks {
			if c.Variant != v {
				continue
			}
			if !wroteHeader {
				promptBuilder.WriteString(sectionHeaders[v] + "\n")
				wroteHeader = true
			}
			n++
			promptBuilder.WriteString("[來源 " + strconv.Itoa(n) + "｜" + citationTitle(c) + "]")
			if extra := citationDetail(c); extra != "" {
				promptBuilder.WriteString(" " + extra)
			}
			promptBuilder.WriteString("\n")
			promptBuilder.WriteString(utils.TruncateRunes(strings.TrimSpace(c.Content), excerptRunes[v]) + "\n")
		}
		if wroteHeader {
			promptBuilder.WriteString(sectionMarker)
		}
	}
	promptBuilder.WriteString("<END>\n")
	return promptBuilder.String()
}

func citationTitle(c retrieval.Chunk) string {
	title := c.Title
	if title == "" {
		title = c.Header
	}
	if c.Variant == corpus.Audio {
		if speaker, _ := c.Metadata["speaker"].(string); speaker != "" {
			return speaker + " - " + title
		}
	}
	return title
}

func citationDetail(c retrieval.Chunk) string {
	get := func(k string) string {
		s, _ := c.Metadata[k].(string)
		return s
	}
	switch c.Variant {
	case corpus.Text:
		if pages := get("pages"); pages != "" {
			return "頁 " + pages
		}
	case corpus.Audio:
		return get("timestamp")
	case corpus.Event:
		return strings.TrimSpace(get("time_period") + " " + get("location"))
	}
	return ""
}

// BuildChatPrompt - Grounded question answering prompt.
func BuildChatPrompt(question string, chunks []retrieval.Chunk) string {
	var promptBuilder strings.Builder
	promptBuilder.WriteString(persona + "請根據以下參考資料回答問題。\n\n")
	promptBuilder.WriteString(languageRule + "\n\n")
	promptBuilder.WriteString("問題：" + strings.TrimSpace(question) + "\n\n")
	promptBuilder.WriteString("參考資料：\n")
	promptBuilder.WriteString(BuildContext(chunks))
	promptBuilder.WriteString("\n")
	if len(chunks) == 0 {
		promptBuilder.WriteString("沒有找到直接相關的參考資料。請謹慎地根據一般佛學知識回答，並明確說明回答並非出自參考資料。\n")
	} else {
		promptBuilder.WriteString("請只根據參考資料回答，並以 [來源 n] 標註引用的內容。如果參考資料中包含音頻或活動信息，請適當引用。\n")
		promptBuilder.WriteString("如果參考資料不足以回答問題，請誠實說明資料不足。\n")
	}
	promptBuilder.WriteString("\n回答：")
	return promptBuilder.String()
}

// BuildSummaryPrompt - Condense the retrieved excerpts into one coherent answer.
func BuildSummaryPrompt(question string, chunks []retrieval.Chunk) string {
	var promptBuilder strings.Builder
	promptBuilder.WriteString("請將以下佛教文本摘錄總結成一個簡潔連貫的回應。\n\n")
	promptBuilder.WriteString(languageRule + "\n\n")
	if q := strings.TrimSpace(question); q != "" {
		promptBuilder.WriteString("主題：" + q + "\n\n")
	}
	promptBuilder.WriteString("內容：\n")
	promptBuilder.WriteString(BuildContext(chunks))
	promptBuilder.WriteString("\n如果內容不足以總結，請誠實說明。\n\n總結：")
	return promptBuilder.String()
}

// BuildTextSummaryPrompt - Key-point summary of arbitrary text, used for "summarize the last answer".
func BuildTextSummaryPrompt(text string, maxLength int) string {
	var promptBuilder strings.Builder
	promptBuilder.WriteString("請將以下佛教文本內容總結成要點，只用中文：\n\n")
	promptBuilder.WriteString("原文：\n<START>\n" + strings.TrimSpace(text) + "\n<END>\n\n")
	promptBuilder.WriteString("請提供：\n1. 3-5個主要要點\n2. 一句話總結核心思想\n\n")
	promptBuilder.WriteString("格式要求：\n• 使用「•」符號列點\n• 保持佛教術語的準確性\n• 簡潔明瞭，每點不超過50字\n• 最後用一句話概括核心概念\n")
	if maxLength > 0 {
		promptBuilder.WriteString(fmt.Sprintf("• 總長度不超過%d字\n", maxLength))
	}
	return promptBuilder.String()
}

// BuildTranslationPrompt - Faithful translation of text into language, keeping Buddhist terms recognizable.
func BuildTranslationPrompt(text, language string) string {
	var promptBuilder strings.Builder
	promptBuilder.WriteString("請將以下佛教文本翻譯成" + language + "。\n\n")
	promptBuilder.WriteString("原文：\n<START>\n" + strings.TrimSpace(text) + "\n<END>\n\n")
	promptBuilder.WriteString("翻譯要求：\n• 忠實傳達原意，不增不減\n• 佛教術語使用通行譯名，必要時在括號內保留原文\n• 只輸出譯文，不要加入解釋\n")
	return promptBuilder.String()
}

// BuildQuizPrompt - 2-3 open questions about one reference passage.
func BuildQuizPrompt(title, content string) string {
	var promptBuilder strings.Builder
	promptBuilder.WriteString("基於以下佛教文本，請生成2-3個深入思考的問題。這些問題應該鼓勵讀者仔細閱讀並理解文本的深層含義。\n\n")
	promptBuilder.WriteString("文本標題：" + title + "\n\n")
	promptBuilder.WriteString("文本內容：\n<START>\n" + strings.TrimSpace(content) + "\n<END>\n\n")
	promptBuilder.WriteString("請生成的問題要求：\n1. 2-3個問題即可\n2. 問題應該測試對文本核心概念的理解\n3. 問題應該引導深入思考，而非簡單記憶\n4. 用中文提問\n5. 問題應該是開放式的，允許多種合理的回答\n\n")
	promptBuilder.WriteString("請按以下格式輸出：\n問題1：[問題內容]\n問題2：[問題內容]\n問題3：[問題內容]（如果有的話）")
	return promptBuilder.String()
}

// BuildQuizEvaluationPrompt - Grade answers to a quiz against its reference passage.
func BuildQuizEvaluationPrompt(title, content string, questions, answers []string) string {
	var promptBuilder strings.Builder
	promptBuilder.WriteString("請評估以下用戶對佛教文本理解問題的回答。\n\n")
	promptBuilder.WriteString("參考文本標題：" + title + "\n\n")
	promptBuilder.WriteString("參考文本內容：\n<START>\n" + strings.TrimSpace(content) + "\n<END>\n\n")
	if len(questions) > 0 {
		promptBuilder.WriteString("問題：\n")
		for i, q := range questions {
			promptBuilder.WriteString("問題" + strconv.Itoa(i+1) + "：" + q + "\n")
		}
		promptBuilder.WriteString("\n")
	}
	promptBuilder.WriteString("用戶的回答：\n")
	for i, a := range answers {
		promptBuilder.WriteString("答案" + strconv.Itoa(i+1) + "：" + a + "\n")
	}
	promptBuilder.WriteString("\n請根據以下標準評估：\n1. 理解準確性：用戶是否正確理解了文本的核心概念？\n2. 深度思考：回答是否展現了深入的思考和洞察？\n3. 佛學知識：是否適當運用了佛教術語和概念？\n\n")
	promptBuilder.WriteString("請為每個答案提供：\n- 評分（1-5分，5分最高）\n- 簡短評語（1-2句）\n- 鼓勵的話語\n\n最後提供整體評價和修行建議。\n\n請用中文回覆，語氣要溫和且鼓勵性。")
	return promptBuilder.String()
}

var numberedQuestion = regexp.MustCompile(`(?m)^\s*[1-3１-３][.．、]\s*(.+)$`)

// ParseQuizQuestions - Questions from a "問題1：..." style reply, falling back to "1. ..." lines.
func ParseQuizQuestions(text string) []string {
	var questions []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !(strings.Contains(line, "問題") || strings.HasPrefix(line, "Q") || strings.HasPrefix(line, "q")) {
			continue
		}
		_, q, found := strings.Cut(line, "：")
		if !found {
			_, q, found = strings.Cut(line, ":")
		}
		if !found {
			continue
		}
		if q = strings.TrimSpace(q); q != "" {
			questions = append(questions, q)
		}
	}
	if len(questions) > 0 {
		return questions
	}
	for _, m := range numberedQuestion.FindAllStringSubmatch(text, -1) {
		questions = append(questions, strings.TrimSpace(m[1]))
	}
	return questions
}

// BuildPrompt - Prompt for t. Quiz prompts use the first chunk as the reference passage; an
// evaluation takes the answers one per line from question.
func BuildPrompt(t PromptType, question string, chunks []retrieval.Chunk) (string, error) {
	switch t {
	case QA, "":
		return BuildChatPrompt(question, chunks), nil
	case Summary:
		return BuildSummaryPrompt(question, chunks), nil
	case Translation:
		return BuildTranslationPrompt(question, constants.DefaultTargetLanguage), nil
	case Quiz, QuizEvaluation:
		if len(chunks) == 0 {
			return "", fmt.Errorf("%s needs a reference passage", t)
		}
		ref := chunks[0]
		if t == Quiz {
			return BuildQuizPrompt(ref.Title, ref.Content), nil
		}
		var answers []string
		for _, line := range strings.Split(question, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				answers = append(answers, line)
			}
		}
		return BuildQuizEvaluationPrompt(ref.Title, ref.Content, nil, answers), nil
	default:
		return "", fmt.Errorf("unknown prompt type %q", t)
	}
}
