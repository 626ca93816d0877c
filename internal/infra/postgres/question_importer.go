package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brainquiz-service/internal/domain"
	"github.com/uptrace/bun"
)

type questionRow struct {
	bun.BaseModel `bun:"table:questions"`

	ID         int             `bun:"id,pk"`
	Difficulty string          `bun:"difficulty,notnull"`
	Data       json.RawMessage `bun:"data,type:jsonb,notnull"`
	UpdatedAt  time.Time       `bun:"updated_at,notnull"`
}

// QuestionImporter upserts question banks with bun.
type QuestionImporter struct {
	db  *bun.DB
	now func() time.Time
}

func NewQuestionImporter(db *bun.DB) *QuestionImporter {
	return &QuestionImporter{db: db, now: time.Now}
}

// Import inserts or replaces every question by id in a single transaction
// and returns how many rows were written.
func (i *QuestionImporter) Import(ctx context.Context, questions []domain.Question) (int, error) {
	if len(questions) == 0 {
		return 0, nil
	}
	now := i.now()
	rows := make([]questionRow, 0, len(questions))
	for _, q := range questions {
		if err := Validate(q); err != nil {
			return 0, err
		}
		data, err := json.Marshal(q)
		if err != nil {
			return 0, fmt.Errorf("marshal question %d: %w", q.ID, err)
		}
		rows = append(rows, questionRow{ID: q.ID, Difficulty: string(q.Difficulty), Data: data, UpdatedAt: now})
	}

	err := i.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().
			Model(&rows).
			On("CONFLICT (id) DO UPDATE").
			Set("difficulty = EXCLUDED.difficulty").
			Set("data = EXCLUDED.data").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("import questions: %w", err)
	}
	return len(rows), nil
}

// Validate rejects questions whose correct choice is not among their choices.
func Validate(q domain.Question) error {
	if len(q.Choices) == 0 {
		return fmt.Errorf("question %d has no choices", q.ID)
	}
	if !q.HasChoice(q.CorrectChoiceID) {
		return fmt.Errorf("question %d: correct choice %d is not one of its choices", q.ID, q.CorrectChoiceID)
	}
	switch q.Difficulty {
	case domain.DifficultyBeginner, domain.DifficultyIntermediate, domain.DifficultyDifficult:
	default:
		return fmt.Errorf("question %d: unknown difficulty %q", q.ID, q.Difficulty)
	}
	return nil
}
