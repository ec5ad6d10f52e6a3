package constants

import "time"

// Defaults shared by config, setup and the pipeline. Anything here can be overridden by config.yaml or env.
const (
	CollectionName       = "ddm_rag"
	ChunksDir            = "chunks/"
	BooksFile            = "data/ddm_books.json"
	QueryBankFile        = "" // empty means the built-in bank
	TextChunksFile       = "text_chunks.jsonl"
	AudioChunksFile      = "audio_chunks.jsonl"
	EventChunksFile      = "event_chunks.jsonl"
	MaxVectors           = 50 // points per upsert request
	MaxVectorWorkers     = 10
	OverFetchFactor      = 3
	SessionCapacity      = 50
	ServerPort           = 8000
	RequestRateLimit     = 30 // msgs/s per client
	MaxPromptLength      = 2000
	MaxTranslationLength = 8000
)

const (
	DefaultTopK       = 5
	DefaultTextLimit  = 3
	DefaultAudioLimit = 1
	DefaultEventLimit = 1
	DefaultThreshold  = 0.3
)

// Recommendation defaults per catalog.
const (
	DefaultBookTopK       = 5
	DefaultEventTopK      = 6
	DefaultAudioTopK      = 3
	DefaultRelatedTopK    = 3
	DefaultMinSimilarity  = 0.1
	DefaultSummaryLength  = 200
	DefaultHistoryLimit   = 10
	DefaultTargetLanguage = "english"
	MaxQuizzes            = 100
)

const (
	RetrievalTimeout = 30 * time.Second
	ProviderTimeout  = 120 * time.Second
)
