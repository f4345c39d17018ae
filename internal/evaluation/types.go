package evaluation

import (
	"time"

	"github.com/zatekoja/amrguard/internal/application/services"
)

// Collections are the semantic collections a golden query may be scoped to
var Collections = []string{
	services.CollectionTreatment,
	services.CollectionMIC,
	services.CollectionSafety,
	services.CollectionResistance,
}

// GoldenQuery is a labelled guideline search and the chunks a good retriever returns for it
type GoldenQuery struct {
	ID             string   `json:"id"`
	Query          string   `json:"query"`
	Collection     string   `json:"collection,omitempty"`
	PathogenType   string   `json:"pathogen_type,omitempty"`
	ExpectedChunks []string `json:"expected_chunks"`
	Difficulty     string   `json:"difficulty"` // easy, medium, hard
}

// EvalResult holds the evaluation outcome for a single query
type EvalResult struct {
	QueryID         string        `json:"query_id"`
	Query           string        `json:"query"`
	Collection      string        `json:"collection,omitempty"`
	Recall          float64       `json:"recall"`
	MRR             float64       `json:"mrr"`
	ResultCount     int           `json:"result_count"`
	RetrievedChunks []string      `json:"retrieved_chunks"`
	Latency         time.Duration `json:"latency"`
	Error           string        `json:"error,omitempty"`
}

// EvalSummary holds aggregate metrics across all golden queries. Failed
// queries count as zero recall and zero reciprocal rank.
type EvalSummary struct {
	K               int                           `json:"k"`
	TotalQueries    int                           `json:"total_queries"`
	FailedQueries   int                           `json:"failed_queries"`
	AvgRecall       float64                       `json:"avg_recall"`
	AvgMRR          float64                       `json:"avg_mrr"`
	AvgLatency      time.Duration                 `json:"avg_latency"`
	QueriesWithHits int                           `json:"queries_with_hits"`
	ByCollection    map[string]*CollectionSummary `json:"by_collection"`
	Results         []EvalResult                  `json:"results"`
}

// CollectionSummary holds metrics grouped by collection. Unscoped queries group under "all".
type CollectionSummary struct {
	Count     int     `json:"count"`
	AvgRecall float64 `json:"avg_recall"`
	AvgMRR    float64 `json:"avg_mrr"`
}
