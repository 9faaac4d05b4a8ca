package types

// Sentiment is the customer sentiment inferred from the transcript
type Sentiment string

// Sentiment values accepted in a ResultProfile
const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
)

// ResultProfile is the structured customer profile proposed by a model.
// The core stores and forwards it; it never interprets the field values.
type ResultProfile struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Phone         string    `json:"phone"`
	Tier          string    `json:"tier"`
	Sentiment     Sentiment `json:"sentiment"`
	Intent        string    `json:"intent"`
	ChangedFields []string  `json:"changed_fields"`
	Confidence    float64   `json:"confidence"`
	Reasoning     string    `json:"reasoning,omitempty"`
}
