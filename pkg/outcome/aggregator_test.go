package outcome

import (
	"sync"
	"testing"
)

func TestAggregatorRecordAndTakeReport(t *testing.T) {
	a := NewAggregator()
	a.Record(Invalid(DiscardReasonInvalidJSON).WithCategory(CategoryError, 1))
	a.Record(Invalid(DiscardReasonInvalidJSON).WithCategory(CategoryError, 1))
	a.Record(Filtered("release_health").WithCategory(CategorySession, 3))

	rows, ok := a.TakeReport()
	if !ok {
		t.Fatal("expected a report")
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	totals := make(map[Key]int64, len(rows))
	for _, r := range rows {
		totals[Key{Kind: r.Kind, Reason: r.Reason, Category: r.Category}] = r.Quantity
	}
	if got := totals[Key{Kind: KindInvalid, Reason: string(DiscardReasonInvalidJSON), Category: CategoryError}]; got != 2 {
		t.Fatalf("expected 2 invalid_json/error, got %d", got)
	}
	if got := totals[Key{Kind: KindFiltered, Reason: "release_health", Category: CategorySession}]; got != 3 {
		t.Fatalf("expected 3 filtered/session, got %d", got)
	}
}

func TestAggregatorTakeReportDrainsToEmpty(t *testing.T) {
	a := NewAggregator()
	a.Record(Accepted(CategoryError, 1))

	if _, ok := a.TakeReport(); !ok {
		t.Fatal("expected first report to have data")
	}
	if _, ok := a.TakeReport(); ok {
		t.Fatal("expected second report to be empty after drain")
	}
}

func TestAggregatorIgnoresNonPositiveQuantity(t *testing.T) {
	a := NewAggregator()
	a.Record(Outcome{Kind: KindAccepted, Category: CategoryError, Quantity: 0})
	a.Record(Outcome{Kind: KindAccepted, Category: CategoryError, Quantity: -1})

	if _, ok := a.TakeReport(); ok {
		t.Fatal("expected no report from non-positive quantities")
	}
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	a := NewAggregator()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Record(Invalid(DiscardReasonTooLarge).WithCategory(CategoryAttachment, 1))
		}()
	}
	wg.Wait()

	rows, ok := a.TakeReport()
	if !ok {
		t.Fatal("expected a report")
	}
	if len(rows) != 1 || rows[0].Quantity != 100 {
		t.Fatalf("expected single row with quantity 100, got %+v", rows)
	}
}

func TestNilAggregatorIsNoop(t *testing.T) {
	var a *Aggregator
	a.Record(Accepted(CategoryError, 1))
	if _, ok := a.TakeReport(); ok {
		t.Fatal("expected nil aggregator to report nothing")
	}
}
