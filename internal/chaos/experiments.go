package chaos

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"bookshelf/internal/bookshelf"
	"bookshelf/internal/clients"
)

const probePrefix = "chaos-probe-"

// Target is the registry surface the experiments drive. bookshelf.Service and
// clients.BookshelfClient both satisfy it.
type Target interface {
	AddBook(ctx context.Context, in bookshelf.BookInput) (string, error)
	ListBooks(ctx context.Context, filter bookshelf.Filter) ([]bookshelf.BookSummary, error)
}

type Settings struct {
	Duration       time.Duration
	SampleInterval time.Duration
	ProbeBatch     int
	FailureRate    float64
	Latency        time.Duration
	Writers        int
}

func DefaultSettings() Settings {
	return Settings{
		Duration:       10 * time.Second,
		SampleInterval: time.Second,
		ProbeBatch:     20,
		FailureRate:    0.5,
		Latency:        50 * time.Millisecond,
		Writers:        50,
	}
}

// probe creates marker books and remembers which creates were acknowledged,
// so it can tell records that appeared without an acknowledgement (orphans)
// from acknowledged records that went missing (lost writes).
type probe struct {
	target Target
	name   string
	batch  int

	mu    sync.Mutex
	acked map[string]bool
}

// newProbe tags its books with the experiment name so that probes of
// different experiments never see each other's records.
func newProbe(target Target, experiment string, batch int) *probe {
	return &probe{target: target, name: probePrefix + experiment, batch: batch, acked: make(map[string]bool)}
}

func (p *probe) add(ctx context.Context) bool {
	id, err := p.target.AddBook(ctx, bookshelf.BookInput{Name: p.name, PageCount: 1})
	if err != nil {
		return false
	}
	p.mu.Lock()
	p.acked[id] = true
	p.mu.Unlock()
	return true
}

func (p *probe) successRate(ctx context.Context) (float64, error) {
	ok := 0
	for i := 0; i < p.batch; i++ {
		if p.add(ctx) {
			ok++
		}
	}
	return float64(ok) / float64(p.batch) * 100, nil
}

func (p *probe) counts(ctx context.Context) (orphans, lost int, err error) {
	name := p.name
	books, err := p.target.ListBooks(ctx, bookshelf.Filter{Name: &name})
	if err != nil && !isNotFound(err) {
		return 0, 0, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	listed := make(map[string]bool, len(books))
	for _, b := range books {
		if b.Name != p.name {
			continue
		}
		listed[b.ID] = true
		if !p.acked[b.ID] {
			orphans++
		}
	}
	for id := range p.acked {
		if !listed[id] {
			lost++
		}
	}
	return orphans, lost, nil
}

func (p *probe) orphans(ctx context.Context) (float64, error) {
	orphans, _, err := p.counts(ctx)
	return float64(orphans), err
}

func (p *probe) lostWrites(ctx context.Context) (float64, error) {
	_, lost, err := p.counts(ctx)
	return float64(lost), err
}

// isNotFound reports whether err is an empty listing from either the
// service or the HTTP client.
func isNotFound(err error) bool {
	if errors.Is(err, bookshelf.ErrNotFound) {
		return true
	}
	var apiErr *clients.APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (p *probe) metrics(successThreshold float64) []Metric {
	metrics := []Metric{
		{Name: "orphaned_records", Query: p.orphans, Threshold: Threshold{Operator: "==", Value: 0}},
		{Name: "lost_writes", Query: p.lostWrites, Threshold: Threshold{Operator: "==", Value: 0}},
	}
	if successThreshold > 0 {
		metrics = append([]Metric{{
			Name:      "create_success_rate",
			Query:     p.successRate,
			Threshold: Threshold{Operator: ">=", Value: successThreshold},
		}}, metrics...)
	}
	return metrics
}

func consistencyAssertions() []Assertion {
	return []Assertion{
		{
			Metric:    "orphaned_records",
			Condition: func(v float64) bool { return v == 0 },
			Message:   "Failed creates must not leave records behind",
		},
		{
			Metric:    "lost_writes",
			Condition: func(v float64) bool { return v == 0 },
			Message:   "Acknowledged creates must stay listed",
		},
	}
}

// RegisterExperiments registers the journal experiments against target,
// whose registry must journal through journal.
func (e *Engine) RegisterExperiments(journal *FaultyJournal, target Target, s Settings) {
	e.Register(JournalOutageExperiment(journal, target, s))
	e.Register(JournalLatencyExperiment(journal, target, s))
	e.Register(ConcurrentWritersExperiment(target, s))
}

// JournalOutageExperiment fails a fraction of journal appends. Creates may
// fail meanwhile, but the collection must stay consistent and creates must
// fully recover after rollback.
func JournalOutageExperiment(journal *FaultyJournal, target Target, s Settings) Experiment {
	const name = "journal-outage"
	p := newProbe(target, name, s.ProbeBatch)
	return Experiment{
		Name:        name,
		Hypothesis:  "Journal failures reject writes without corrupting the collection",
		SteadyState: p.metrics(100),
		Method: []Action{{
			Type:   "inject-failure",
			Target: "book-journal",
			Execute: func(ctx context.Context) error {
				journal.InjectFailures(s.FailureRate)
				return nil
			},
		}},
		Rollback: []Action{{
			Type:   "remove-failure",
			Target: "book-journal",
			Execute: func(ctx context.Context) error {
				journal.Reset()
				return nil
			},
		}},
		Validation: append(consistencyAssertions(), Assertion{
			Metric:    "create_success_rate",
			Condition: func(v float64) bool { return v >= 100 },
			Message:   "Creates must fully recover once the journal is back",
		}),
		Duration:       s.Duration,
		SampleInterval: s.SampleInterval,
		BlastRadius:    s.FailureRate,
	}
}

// JournalLatencyExperiment slows every append down; writes must still succeed.
func JournalLatencyExperiment(journal *FaultyJournal, target Target, s Settings) Experiment {
	const name = "journal-latency"
	p := newProbe(target, name, s.ProbeBatch)
	return Experiment{
		Name:        name,
		Hypothesis:  "A slow journal slows writes down but never fails them",
		SteadyState: p.metrics(100),
		Method: []Action{{
			Type:   "inject-latency",
			Target: "book-journal",
			Execute: func(ctx context.Context) error {
				journal.InjectLatency(s.Latency)
				return nil
			},
		}},
		Rollback: []Action{{
			Type:   "remove-latency",
			Target: "book-journal",
			Execute: func(ctx context.Context) error {
				journal.Reset()
				return nil
			},
		}},
		Validation: append(consistencyAssertions(), Assertion{
			Metric:    "create_success_rate",
			Condition: func(v float64) bool { return v >= 100 },
			Message:   "Creates must succeed under journal latency",
		}),
		Duration:       s.Duration,
		SampleInterval: s.SampleInterval,
		BlastRadius:    1.0,
	}
}

// ConcurrentWritersExperiment floods the registry with simultaneous creates
// and checks that every acknowledged create is listed exactly once.
func ConcurrentWritersExperiment(target Target, s Settings) Experiment {
	const name = "concurrent-writers"
	p := newProbe(target, name, s.ProbeBatch)
	return Experiment{
		Name:        name,
		Hypothesis:  "Simultaneous creates are neither lost nor duplicated",
		SteadyState: p.metrics(0),
		Method: []Action{{
			Type:   "concurrent-writes",
			Target: "book-registry",
			Execute: func(ctx context.Context) error {
				var wg sync.WaitGroup
				for i := 0; i < s.Writers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						p.add(ctx)
					}()
				}
				wg.Wait()
				return nil
			},
		}},
		Validation:     consistencyAssertions(),
		Duration:       s.Duration,
		SampleInterval: s.SampleInterval,
		BlastRadius:    1.0,
	}
}
