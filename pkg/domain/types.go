package domain

import "time"

// Sentiment is the overall tone label returned by the analysis model.
type Sentiment string

const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
)

// Known reports whether s is one of the three documented labels.
func (s Sentiment) Known() bool {
	switch s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
)

type User struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	Name           string    `json:"name"`
	IsPremium      bool      `json:"isPremium"`
	ProfilePicture string    `json:"profilePicture"`
	CreatedAt      time.Time `json:"-"`
	UpdatedAt      time.Time `json:"-"`
}

type Emotion struct {
	Emotion string  `json:"emotion"`
	Score   float64 `json:"score"`
}

type Analysis struct {
	OverallSentiment Sentiment `json:"overallSentiment"`
	Emotions         []Emotion `json:"emotions"`
	Summary          string    `json:"summary"`
	Affirmation      string    `json:"affirmation"`
}

// JournalEntry is immutable once stored. Analysis is nil when the entry was
// saved without one.
type JournalEntry struct {
	ID       string    `json:"id"`
	UserID   string    `json:"-"`
	Date     time.Time `json:"date"`
	Content  string    `json:"content"`
	Analysis *Analysis `json:"analysis"`
}

// Payment tracks one checkout reference. UserID stays empty until a
// settlement credits an account.
type Payment struct {
	Reference string        `json:"reference"`
	Email     string        `json:"email"`
	Amount    string        `json:"amount"`
	Currency  string        `json:"currency"`
	Status    PaymentStatus `json:"status"`
	UserID    string        `json:"userId,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// PaymentEvent is one accepted webhook delivery, kept verbatim.
type PaymentEvent struct {
	ID         string    `json:"id"`
	InvoiceID  string    `json:"invoiceId"`
	State      string    `json:"state"`
	APIRef     string    `json:"apiRef"`
	Payload    []byte    `json:"-"`
	ReceivedAt time.Time `json:"receivedAt"`
}
