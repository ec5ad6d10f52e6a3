package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/chiweic/rag-08122025/internal/embedding"
	"github.com/chiweic/rag-08122025/internal/metrics"
	"github.com/chiweic/rag-08122025/internal/utils"
)

const maxRandomBooks = 20

var ErrBookNotFound = errors.New("book not found")

type Book struct {
	ISBN                string `json:"isbn"`
	Title               string `json:"title"`
	Author              string `json:"author,omitempty"`
	Publisher           string `json:"publisher,omitempty"`
	PublishDate         string `json:"publish_date,omitempty"`
	ContentIntroduction string `json:"content_introduction,omitempty"`
	URL                 string `json:"url,omitempty"`
	CoverImage          string `json:"cover_image,omitempty"`
}

type BookRecommendation struct {
	Book
	SimilarityScore float64 `json:"similarity_score"`
	Reason          string  `json:"recommendation_reason"`
}

// Books - The publications catalog. The book list is fixed at construction.
type Books struct {
	engine *Engine[Book]
	books  []Book
	byISBN map[string]Book
}

// LoadBooks - Read a JSON array of books.
func LoadBooks(path string) ([]Book, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read books: %w", err)
	}
	var books []Book
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return books, nil
}

func NewBooks(books []Book, m *metrics.Metrics, log zerolog.Logger) *Books {
	byISBN := make(map[string]Book, len(books))
	for _, b := range books {
		if b.ISBN != "" {
			byISBN[b.ISBN] = b
		}
	}
	return &Books{
		engine: NewEngine[Book]("books", m, log),
		books:  books,
		byISBN: byISBN,
	}
}

func (b *Books) Build(ctx context.Context, emb embedding.Embedder) error {
	candidates := make([]Candidate[Book], 0, len(b.books))
	for i, book := range b.books {
		id := book.ISBN
		if id == "" {
			id = fmt.Sprintf("book-%05d", i)
		}
		candidates = append(candidates, Candidate[Book]{
			ID:   id,
			Text: strings.TrimSpace(book.Title + "\n" + book.ContentIntroduction),
			Item: book,
		})
	}
	return b.engine.Build(ctx, emb, candidates)
}

func (b *Books) Len() int {
	return len(b.books)
}

func (b *Books) Recommend(ctx context.Context, emb embedding.Embedder, query string, topK int, minSimilarity float64) []BookRecommendation {
	matches := b.engine.Recommend(ctx, emb, query, topK, minSimilarity, nil)
	out := make([]BookRecommendation, len(matches))
	for i, m := range matches {
		out[i] = BookRecommendation{Book: m.Item, SimilarityScore: m.Score, Reason: bookReason(query, m.Item)}
	}
	return out
}

func (b *Books) ByISBN(isbn string) (Book, error) {
	book, ok := b.byISBN[isbn]
	if !ok {
		return Book{}, fmt.Errorf("%w: isbn %s", ErrBookNotFound, isbn)
	}
	return book, nil
}

// Random - Up to n distinct books, at most 20.
func (b *Books) Random(n int) []Book {
	n = min(n, maxRandomBooks, len(b.books))
	if n <= 0 {
		return []Book{}
	}
	out := make([]Book, 0, n)
	for _, i := range rand.Perm(len(b.books))[:n] {
		out = append(out, b.books[i])
	}
	return out
}

// bookReason - Shared terms with the title first, then with the introduction.
func bookReason(query string, book Book) string {
	if common := sharedTerms(query, book.Title, 3); len(common) > 0 {
		return "標題包含相關關鍵詞：" + strings.Join(common, ", ")
	}
	if common := sharedTerms(query, book.ContentIntroduction, 3); len(common) > 0 {
		return "內容涉及相關主題：" + strings.Join(common, ", ")
	}
	return "基於語義相似性推薦"
}

// sharedTerms - Terms of query (in query order) that also occur in text.
func sharedTerms(query, text string, limit int) []string {
	in := map[string]bool{}
	for _, t := range utils.Bigrams(text) {
		in[t] = true
	}
	var out []string
	seen := map[string]bool{}
	for _, t := range utils.Bigrams(query) {
		if in[t] && !seen[t] {
			seen[t] = true
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}
