package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"medprep-battle-service/internal/domain"
	"medprep-battle-service/internal/infra/memory"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestQuestionRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	loader := &countingLoader{
		QuestionLoader: memory.NewStaticQuestionLoader(map[string]domain.QuestionSet{
			"anatomy": sampleSet(),
		}),
	}
	repo := NewQuestionRepository(client, loader, time.Minute)

	set, err := repo.GetQuestionSet(context.Background(), "anatomy")
	if err != nil {
		t.Fatalf("get question set: %v", err)
	}
	if set.Subject != "anatomy" || len(set.Questions) != 1 {
		t.Fatalf("unexpected set %+v", set)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader called once, got %d", loader.calls)
	}

	// Second call should hit cache, loader not incremented.
	cached, err := repo.GetQuestionSet(context.Background(), "anatomy")
	if err != nil {
		t.Fatalf("get question set: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.calls)
	}
	if cached.Questions[0].Options[1].Correct != true {
		t.Fatalf("cache must round-trip the correct flags, got %+v", cached.Questions[0])
	}

	_, err = repo.GetQuestionSet(context.Background(), "astrology")
	if !errors.Is(err, domain.ErrQuestionSetNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuestionRepositoryConcurrentFills(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	sets := make(map[string]domain.QuestionSet)
	for i := 0; i < 16; i++ {
		subject := fmt.Sprintf("subject-%d", i)
		sets[subject] = domain.QuestionSet{Subject: subject, Questions: []domain.Question{{ID: "q1"}}}
	}
	repo := NewQuestionRepository(newClient(mr), memory.NewStaticQuestionLoader(sets), time.Minute)

	var wg sync.WaitGroup
	errs := make(chan error, len(sets))
	for subject := range sets {
		wg.Add(1)
		go func(subject string) {
			defer wg.Done()
			if _, err := repo.GetQuestionSet(context.Background(), subject); err != nil {
				errs <- err
			}
		}(subject)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent get failed: %v", err)
	}
}

type countingLoader struct {
	memory.QuestionLoader
	calls int
}

func (l *countingLoader) LoadQuestionSet(ctx context.Context, subject string) (domain.QuestionSet, error) {
	l.calls++
	return l.QuestionLoader.LoadQuestionSet(ctx, subject)
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		Subject: "anatomy",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "Longest bone?",
				Options: []domain.Option{
					{ID: "o1", Text: "Humerus", Correct: false},
					{ID: "o2", Text: "Femur", Correct: true},
				},
				Points: 1,
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
