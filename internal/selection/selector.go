package selection

import (
	"math/rand"
	"sort"
	"sync"
	"time"

	"brainquiz-service/internal/domain"
)

// Filter keeps the questions that satisfy every non-empty criterion of the
// navigation picks and the filters. Within a criterion any overlap matches.
func Filter(questions []domain.Question, filters domain.Filters, nav domain.Navigation) []domain.Question {
	out := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		if len(nav.SelectedSubjects) > 0 && !anySubject(q.SubjectIDs, nav.SelectedSubjects) {
			continue
		}
		if len(nav.SelectedTopics) > 0 && !anyTag(q.Tags, nav.SelectedTopics) {
			continue
		}
		if len(filters.Subjects) > 0 && !anySubject(q.SubjectIDs, filters.Subjects) {
			continue
		}
		if len(filters.Difficulty) > 0 && !hasDifficulty(filters.Difficulty, q.Difficulty) {
			continue
		}
		if len(filters.Tags) > 0 && !anyTag(q.Tags, filters.Tags) {
			continue
		}
		out = append(out, q)
	}
	return out
}

// Builder turns a question bank plus user criteria into the ordered list a quiz starts with.
type Builder struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBuilder() *Builder {
	return NewBuilderWithSource(rand.NewSource(time.Now().UnixNano()))
}

// NewBuilderWithSource makes shuffling deterministic in tests.
func NewBuilderWithSource(src rand.Source) *Builder {
	return &Builder{rnd: rand.New(src)}
}

// Select filters, optionally shuffles, and truncates to the requested count.
// A count below one keeps every match.
func (b *Builder) Select(questions []domain.Question, filters domain.Filters, nav domain.Navigation) ([]domain.Question, error) {
	selected := Filter(questions, filters, nav)
	if len(selected) == 0 {
		return nil, domain.ErrNoQuestionsMatch
	}
	if filters.IsRandom {
		b.mu.Lock()
		b.rnd.Shuffle(len(selected), func(i, j int) {
			selected[i], selected[j] = selected[j], selected[i]
		})
		b.mu.Unlock()
	}
	if filters.QuestionCount > 0 && len(selected) > filters.QuestionCount {
		selected = selected[:filters.QuestionCount]
	}
	return selected, nil
}

// PickByID returns the bank questions named by ids, in the order given.
func PickByID(questions []domain.Question, ids []int) ([]domain.Question, error) {
	byID := make(map[int]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	out := make([]domain.Question, 0, len(ids))
	for _, id := range ids {
		q, ok := byID[id]
		if !ok {
			return nil, domain.ErrQuestionNotFound
		}
		out = append(out, q)
	}
	return out, nil
}

// Catalog summarizes a bank for the selection screens.
type Catalog struct {
	Total        int                       `json:"total"`
	Subjects     []Facet[int]              `json:"subjects"`
	Tags         []Facet[string]           `json:"tags"`
	Difficulties map[domain.Difficulty]int `json:"difficulties"`
}

// Facet is one distinct value and how many questions carry it.
type Facet[T comparable] struct {
	Value T   `json:"value"`
	Count int `json:"count"`
}

func BuildCatalog(questions []domain.Question) Catalog {
	subjects := make(map[int]int)
	tags := make(map[string]int)
	difficulties := make(map[domain.Difficulty]int)
	for _, q := range questions {
		for _, id := range q.SubjectIDs {
			subjects[id]++
		}
		for _, tag := range q.Tags {
			tags[tag]++
		}
		difficulties[q.Difficulty]++
	}

	cat := Catalog{
		Total:        len(questions),
		Subjects:     make([]Facet[int], 0, len(subjects)),
		Tags:         make([]Facet[string], 0, len(tags)),
		Difficulties: difficulties,
	}
	for id, n := range subjects {
		cat.Subjects = append(cat.Subjects, Facet[int]{Value: id, Count: n})
	}
	for tag, n := range tags {
		cat.Tags = append(cat.Tags, Facet[string]{Value: tag, Count: n})
	}
	sort.Slice(cat.Subjects, func(i, j int) bool { return cat.Subjects[i].Value < cat.Subjects[j].Value })
	sort.Slice(cat.Tags, func(i, j int) bool { return cat.Tags[i].Value < cat.Tags[j].Value })
	return cat
}

func anySubject(have, want []int) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func anyTag(have, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}

func hasDifficulty(allowed []domain.Difficulty, d domain.Difficulty) bool {
	for _, a := range allowed {
		if a == d {
			return true
		}
	}
	return false
}
