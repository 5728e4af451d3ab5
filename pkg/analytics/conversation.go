package analytics

import (
	"math"
	"sync"
	"time"

	"convometrics-server/pkg/errors"
	"convometrics-server/pkg/metrics"

	"github.com/sirupsen/logrus"
)

// Conversation lifecycle states.
const (
	StateEmpty  = "empty"
	StateActive = "active"
	StateClosed = "closed"
)

// ConversationConfig holds per-conversation engine configuration.
type ConversationConfig struct {
	Scorer ScorerConfig

	// EngagementCeiling caps the contribution of simultaneous pairs
	// when no prior finite contribution exists.
	EngagementCeiling float64

	// WindowSize bounds retained messages and co-occurrence state.
	// Zero retains the whole conversation.
	WindowSize int
}

// Conversation owns one conversation's state: the ordered message
// window, the running flow aggregate, and the co-occurrence counts. A
// single RWMutex guards all three so Snapshot observes either the pre-
// or post-ingest state atomically, never a partial update. Ingest
// callers follow single-writer discipline; Snapshot may run
// concurrently with one in-flight Ingest.
type Conversation struct {
	mu sync.RWMutex

	id     string
	logger *logrus.Entry
	config ConversationConfig

	scorer *Scorer
	flower *FlowAnalyzer

	state    string
	messages []ScoredMessage
	flow     FlowState
	cooc     *CoOccurrenceStats

	// Lifetime counters survive window eviction.
	totalMessages int
	perSpeaker    map[string]int

	firstTimestamp time.Time
	lastTimestamp  time.Time
	lastSequence   uint64
	nextSequence   uint64

	startTime    time.Time
	endTime      *time.Time
	lastActivity time.Time
}

// NewConversation creates an empty conversation.
func NewConversation(logger *logrus.Logger, id string, scorer *Scorer, config ConversationConfig) *Conversation {
	now := time.Now()
	return &Conversation{
		id:           id,
		logger:       logger.WithField("conversation_id", id),
		config:       config,
		scorer:       scorer,
		flower:       NewFlowAnalyzer(config.EngagementCeiling),
		state:        StateEmpty,
		messages:     make([]ScoredMessage, 0, 64),
		cooc:         NewCoOccurrenceStats(),
		perSpeaker:   make(map[string]int, 4),
		nextSequence: 1,
		startTime:    now,
		lastActivity: now,
	}
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	return c.id
}

// Ingest appends a message and drives the three engines. It is the
// only mutator of conversation state. The call either applies
// completely or leaves the conversation untouched: ordering and
// lifecycle violations are checked before any state changes.
func (c *Conversation) Ingest(msg Message) (ScoredMessage, error) {
	done := metrics.ObserveIngest()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		if metrics.ClosedRejects != nil {
			metrics.ClosedRejects.Inc()
		}
		done("closed")
		return ScoredMessage{}, errors.NewConversationClosed(c.id)
	}

	if msg.Sequence == 0 {
		msg.Sequence = c.nextSequence
	}

	if c.totalMessages > 0 {
		if msg.Timestamp.Before(c.lastTimestamp) {
			metrics.RecordOutOfOrderReject("timestamp")
			done("out_of_order")
			return ScoredMessage{}, errors.NewOutOfOrder("timestamp precedes last ingested message", map[string]interface{}{
				"conversation_id": c.id,
				"last_timestamp":  c.lastTimestamp,
				"timestamp":       msg.Timestamp,
			})
		}
		if msg.Timestamp.Equal(c.lastTimestamp) && msg.Sequence <= c.lastSequence {
			metrics.RecordOutOfOrderReject("sequence")
			done("out_of_order")
			return ScoredMessage{}, errors.NewOutOfOrder("sequence does not break timestamp tie", map[string]interface{}{
				"conversation_id": c.id,
				"last_sequence":   c.lastSequence,
				"sequence":        msg.Sequence,
			})
		}
	}

	scored := c.scorer.Score(msg)

	if len(c.messages) > 0 {
		prior := c.messages[len(c.messages)-1]
		if _, err := c.flower.Update(&c.flow, prior, scored); err != nil {
			done("out_of_order")
			return ScoredMessage{}, err
		}
	}

	c.cooc.Observe(scored.tokens)
	c.messages = append(c.messages, scored)

	if c.config.WindowSize > 0 && len(c.messages) > c.config.WindowSize {
		evicted := c.messages[0]
		c.cooc.Remove(evicted.tokens)
		c.flow.EvictOldest()
		c.messages = c.messages[1:]
	}

	if c.totalMessages == 0 {
		c.firstTimestamp = msg.Timestamp
	}
	c.totalMessages++
	c.perSpeaker[msg.Speaker]++
	c.lastTimestamp = msg.Timestamp
	c.lastSequence = msg.Sequence
	c.nextSequence = msg.Sequence + 1
	c.lastActivity = time.Now()
	c.state = StateActive

	metrics.RecordMessageIngested(scored.SentimentLabel)
	done("ok")

	c.logger.WithFields(logrus.Fields{
		"message_id":      msg.ID,
		"speaker":         msg.Speaker,
		"sentiment_label": scored.SentimentLabel,
		"word_count":      scored.WordCount,
	}).Debug("Message ingested")

	return scored, nil
}

// Snapshot computes the analytics snapshot for the given topics. It is
// read-only, repeatable, and safe to call concurrently with ingestion;
// fields without enough data are nil, never zero.
func (c *Conversation) Snapshot(topics []TopicSet) *MetricsSnapshot {
	start := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := &MetricsSnapshot{
		ConversationID:     c.id,
		State:              c.state,
		TopicCoherence:     make(map[string]float64, len(topics)),
		MessageCount:       c.totalMessages,
		ParticipantCount:   len(c.perSpeaker),
		MessagesPerSpeaker: make(map[string]int, len(c.perSpeaker)),
		UpdatedAt:          time.Now(),
	}

	for speaker, count := range c.perSpeaker {
		snapshot.MessagesPerSpeaker[speaker] = count
	}

	if len(c.messages) > 0 {
		var sum float64
		for _, m := range c.messages {
			sum += m.SentimentScore
		}
		mean := sum / float64(len(c.messages))
		snapshot.SentimentScore = &mean
		snapshot.Trend = computeTrend(c.messages)
	}

	if engagement, ok := c.flow.Engagement(); ok {
		snapshot.EngagementScore = &engagement
	}

	for _, topic := range topics {
		snapshot.TopicCoherence[topic.Name] = c.cooc.Coherence(topic)
	}

	if c.totalMessages > 0 {
		duration := c.lastTimestamp.Sub(c.firstTimestamp).Seconds()
		snapshot.DurationSeconds = duration
		if duration > 0 {
			snapshot.MessagesPerMinute = float64(c.totalMessages) * 60 / duration
		}
	}

	metrics.RecordSnapshot(time.Since(start))

	return snapshot
}

// Close transitions the conversation to Closed. Further Ingest calls
// fail; Snapshot keeps working off retained state until eviction.
// Closing twice is a no-op.
func (c *Conversation) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateClosed {
		return
	}

	now := time.Now()
	c.state = StateClosed
	c.endTime = &now

	if metrics.ConversationDuration != nil {
		metrics.ConversationDuration.WithLabelValues("closed").Observe(now.Sub(c.startTime).Seconds())
	}

	c.logger.WithFields(logrus.Fields{
		"message_count": c.totalMessages,
		"participants":  len(c.perSpeaker),
	}).Info("Conversation closed")
}

// Export returns the conversation's retained messages plus a fresh
// snapshot, for external persistence.
func (c *Conversation) Export(topics []TopicSet) *ConversationExport {
	snapshot := c.Snapshot(topics)

	c.mu.RLock()
	defer c.mu.RUnlock()

	participants := make([]string, 0, len(c.perSpeaker))
	for speaker := range c.perSpeaker {
		participants = append(participants, speaker)
	}

	messages := make([]ScoredMessage, len(c.messages))
	copy(messages, c.messages)

	return &ConversationExport{
		ConversationID: c.id,
		StartTime:      c.startTime,
		EndTime:        c.endTime,
		Participants:   participants,
		Messages:       messages,
		Snapshot:       snapshot,
	}
}

// State returns the current lifecycle state.
func (c *Conversation) State() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// MessageCount returns the lifetime message count.
func (c *Conversation) MessageCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totalMessages
}

// LastActivity returns the time of the last successful ingest, used by
// the manager's idle eviction.
func (c *Conversation) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// computeTrend fits the sentiment series. A singleton series has zero
// slope and volatility with Current set from its only message.
func computeTrend(messages []ScoredMessage) *SentimentTrend {
	n := len(messages)
	if n == 0 {
		return nil
	}

	trend := &SentimentTrend{Current: messages[n-1].SentimentScore}
	if n == 1 {
		return trend
	}

	// Least-squares slope over message index.
	var sumX, sumY, sumXY, sumXX float64
	for i, m := range messages {
		x := float64(i)
		sumX += x
		sumY += m.SentimentScore
		sumXY += x * m.SentimentScore
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom != 0 {
		trend.Slope = (fn*sumXY - sumX*sumY) / denom
	}

	mean := sumY / fn
	var variance float64
	for _, m := range messages {
		d := m.SentimentScore - mean
		variance += d * d
	}
	trend.Volatility = math.Sqrt(variance / fn)

	return trend
}
