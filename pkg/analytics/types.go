package analytics

import (
	"strings"
	"time"
)

// Sentiment labels assigned by the scorer.
const (
	LabelPositive = "positive"
	LabelNegative = "negative"
	LabelNeutral  = "neutral"
)

// Message is a single conversational message as delivered by the
// ingestion surface. Immutable once ingested.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Text           string    `json:"text"`
	Timestamp      time.Time `json:"timestamp"`
	Speaker        string    `json:"speaker"`

	// Sequence breaks ordering ties between messages with equal
	// timestamps. Callers assign monotonically increasing values; the
	// manager assigns one when the caller leaves it zero.
	Sequence uint64 `json:"sequence"`
}

// ScoredMessage is a Message plus its cached sentiment derivation.
type ScoredMessage struct {
	Message

	SentimentScore float64 `json:"sentiment_score"`
	SentimentLabel string  `json:"sentiment_label"`
	WordCount      int     `json:"word_count"`

	// tokens caches the tokenized text so flow and co-occurrence
	// bookkeeping (including window eviction) never re-tokenize.
	tokens []string
}

// PairMetrics captures the flow contribution of one ordered message pair.
type PairMetrics struct {
	// ResponseTime is t(next) - t(prior) in seconds, never negative.
	ResponseTime float64 `json:"response_time_seconds"`

	// Contribution is |prior| / ResponseTime, capped when the pair is
	// simultaneous.
	Contribution float64 `json:"contribution"`

	// Capped reports whether the zero-response-time cap was applied.
	Capped bool `json:"capped"`
}

// TopicSet is a named, deduplicated, case-normalized set of words
// supplied by the caller. Immutable after construction.
type TopicSet struct {
	Name  string   `json:"name"`
	Words []string `json:"words"`
}

// NewTopicSet builds a TopicSet, lowercasing and deduplicating words.
// Empty words are dropped.
func NewTopicSet(name string, words []string) TopicSet {
	seen := make(map[string]struct{}, len(words))
	deduped := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		deduped = append(deduped, w)
	}
	return TopicSet{Name: name, Words: deduped}
}

// SentimentTrend summarizes the per-message sentiment series.
type SentimentTrend struct {
	// Slope is the least-squares slope of sentiment over message index.
	Slope float64 `json:"slope"`

	// Volatility is the population standard deviation of the series.
	Volatility float64 `json:"volatility"`

	// Current is the most recent message's sentiment score.
	Current float64 `json:"current"`
}

// MetricsSnapshot is the immutable analytics artifact exposed outward.
// Pointer fields are nil when the conversation has not yet produced
// enough data, which serializes as JSON null rather than a misleading
// zero.
type MetricsSnapshot struct {
	ConversationID string `json:"conversation_id"`
	State          string `json:"state"`

	// SentimentScore is the mean per-message sentiment over retained
	// messages. Nil before the first message.
	SentimentScore *float64 `json:"sentiment_score"`

	// EngagementScore is the mean flow contribution over available
	// message pairs. Nil while fewer than two messages exist.
	EngagementScore *float64 `json:"engagement_score"`

	// TopicCoherence maps topic name to its PMI coherence sum.
	TopicCoherence map[string]float64 `json:"topic_coherence"`

	// Trend is nil before the first scored message.
	Trend *SentimentTrend `json:"sentiment_trend,omitempty"`

	MessageCount       int            `json:"message_count"`
	ParticipantCount   int            `json:"participant_count"`
	MessagesPerSpeaker map[string]int `json:"messages_per_speaker"`
	DurationSeconds    float64        `json:"duration_seconds"`
	MessagesPerMinute  float64        `json:"messages_per_minute"`

	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationExport is the structured export of a conversation for
// external persistence.
type ConversationExport struct {
	ConversationID string           `json:"conversation_id"`
	StartTime      time.Time        `json:"start_time"`
	EndTime        *time.Time       `json:"end_time,omitempty"`
	Participants   []string         `json:"participants"`
	Messages       []ScoredMessage  `json:"messages"`
	Snapshot       *MetricsSnapshot `json:"snapshot"`
}
