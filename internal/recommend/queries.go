package recommend

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/hbollon/go-edlib"
	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/corpus"
	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/metrics"
)

const (
	// candidates at least this similar to the query, by edit distance, are the query itself
	nearDuplicate = 0.9
	titleCategory = "title"
)

type QueryItem struct {
	Text       string `json:"text"`
	Category   string `json:"category"`
	Popularity int    `json:"popularity"`
}

type RelatedQuery struct {
	Text            string  `json:"text"`
	Category        string  `json:"category"`
	SimilarityScore float64 `json:"similarity_score"`
	Reason          string  `json:"reason"`
}

var categoryReasons = map[string]string{
	"basic":       "基礎概念",
	"meditation":  "禪修相關",
	"practice":    "修行實踐",
	"philosophy":  "佛學哲理",
	"shengyen":    "聖嚴法師",
	"daily":       "日常應用",
	"study":       "學習方法",
	titleCategory: "相關主題",
}

var builtinQueryBank = []QueryItem{
	{"什麼是佛教？", "basic", 10},
	{"佛教的核心教義是什麼？", "basic", 9},
	{"如何開始學佛？", "basic", 8},
	{"佛教與其他宗教有什麼不同？", "basic", 7},
	{"什麼是三寶？", "basic", 8},
	{"什麼是四聖諦？", "basic", 9},
	{"什麼是八正道？", "basic", 8},
	{"如何開始禪修？", "meditation", 10},
	{"禪修有什麼好處？", "meditation", 9},
	{"禪修時應該注意什麼？", "meditation", 8},
	{"什麼是正念？", "meditation", 9},
	{"如何在日常生活中修行？", "practice", 8},
	{"念佛的方法和功德是什麼？", "practice", 7},
	{"持咒有什麼作用？", "practice", 6},
	{"如何培養慈悲心？", "practice", 8},
	{"什麼是空性？", "philosophy", 7},
	{"因果法則是如何運作的？", "philosophy", 8},
	{"什麼是輪迴？", "philosophy", 8},
	{"如何理解無我？", "philosophy", 6},
	{"什麼是菩提心？", "philosophy", 7},
	{"什麼是涅槃？", "philosophy", 7},
	{"佛性是什麼意思？", "philosophy", 6},
	{"聖嚴法師的主要教導是什麼？", "shengyen", 8},
	{"聖嚴法師如何解釋禪修？", "shengyen", 7},
	{"聖嚴法師對現代生活的建議？", "shengyen", 7},
	{"聖嚴法師的著作有哪些？", "shengyen", 6},
	{"聖嚴法師如何看待人生煩惱？", "shengyen", 7},
	{"如何將佛法應用到工作中？", "daily", 8},
	{"佛教徒應該如何處理人際關係？", "daily", 8},
	{"面對困難時如何用佛法思考？", "daily", 9},
	{"如何用佛法處理情緒問題？", "daily", 9},
	{"佛教如何看待死亡？", "daily", 7},
	{"佛教徒應該如何飲食？", "daily", 5},
	{"應該如何讀佛經？", "study", 6},
	{"初學者應該先學什麼經典？", "study", 7},
	{"如何找到適合的佛法老師？", "study", 6},
	{"學佛需要多長時間？", "study", 5},
	{"如何驗證自己的修行進步？", "study", 6},
}

// LoadQueryBank - JSON array of queries, or the built-in bank when path is empty.
func LoadQueryBank(path string) ([]QueryItem, error) {
	if path == "" {
		return slices.Clone(builtinQueryBank), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query bank: %w", err)
	}
	var bank []QueryItem
	if err := json.Unmarshal(data, &bank); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return bank, nil
}

// Queries - Follow-up questions: the query bank plus the distinct titles of the text records.
type Queries struct {
	engine *Engine[QueryItem]
	bank   []QueryItem
}

func NewQueries(bank []QueryItem, m *metrics.Metrics, log zerolog.Logger) *Queries {
	return &Queries{
		engine: NewEngine[QueryItem]("queries", m, log),
		bank:   bank,
	}
}

func (q *Queries) Build(ctx context.Context, emb embedding.Embedder, records []corpus.Record) error {
	seen := map[string]bool{}
	var candidates []Candidate[QueryItem]
	add := func(item QueryItem) {
		text := strings.TrimSpace(item.Text)
		if text == "" || seen[text] {
			return
		}
		seen[text] = true
		item.Text = text
		candidates = append(candidates, Candidate[QueryItem]{ID: text, Text: text, Item: item})
	}
	for _, item := range q.bank {
		add(item)
	}
	for _, rec := range records {
		if rec.Text != nil {
			add(QueryItem{Text: rec.Text.Title, Category: titleCategory})
		}
	}
	return q.engine.Build(ctx, emb, candidates)
}

func (q *Queries) Len() int {
	return q.engine.Len()
}

// Related - Candidates close to query, skipping restatements of the query itself. An empty
// category matches all.
func (q *Queries) Related(ctx context.Context, emb embedding.Embedder, query string, topK int, minSimilarity float64, category string) []RelatedQuery {
	query = strings.TrimSpace(query)
	keep := func(item QueryItem) bool {
		if category != "" && item.Category != category {
			return false
		}
		return !isNearDuplicate(query, item.Text)
	}
	matches := q.engine.Recommend(ctx, emb, query, topK, minSimilarity, keep)
	out := make([]RelatedQuery, len(matches))
	for i, m := range matches {
		reason, ok := categoryReasons[m.Item.Category]
		if !ok {
			reason = categoryReasons[titleCategory]
		}
		out[i] = RelatedQuery{Text: m.Item.Text, Category: m.Item.Category, SimilarityScore: m.Score, Reason: reason}
	}
	return out
}

func isNearDuplicate(a, b string) bool {
	if a == b {
		return true
	}
	sim, err := edlib.StringsSimilarity(strings.ToLower(a), strings.ToLower(b), edlib.Levenshtein)
	return err == nil && sim >= nearDuplicate
}

// Popular - Bank queries by popularity, highest first.
func (q *Queries) Popular(limit int) []QueryItem {
	popular := slices.Clone(q.bank)
	slices.SortStableFunc(popular, func(a, b QueryItem) int {
		return cmp.Compare(b.Popularity, a.Popularity)
	})
	if popular == nil {
		return []QueryItem{}
	}
	return popular[:min(max(limit, 0), len(popular))]
}
