package domain

import (
	"encoding/json"
	"sort"
	"time"
)

// Mode controls immediate feedback and whether a countdown is active.
type Mode string

const (
	ModeStudy      Mode = "study"
	ModeTest       Mode = "test"
	ModeTimedStudy Mode = "timed-study"
	ModeTimedExam  Mode = "timed-exam"
)

// ParseMode validates a raw mode string.
func ParseMode(raw string) (Mode, error) {
	m := Mode(raw)
	if !m.Valid() {
		return "", ErrInvalidMode
	}
	return m, nil
}

func (m Mode) Valid() bool {
	switch m {
	case ModeStudy, ModeTest, ModeTimedStudy, ModeTimedExam:
		return true
	}
	return false
}

// IsTimed reports whether sessions in this mode carry a time limit.
func (m Mode) IsTimed() bool {
	return m == ModeTimedStudy || m == ModeTimedExam
}

// ShowsFeedback reports whether the correct choice is revealed right after answering.
func (m Mode) ShowsFeedback() bool {
	return m == ModeStudy || m == ModeTimedStudy
}

// Difficulty is the closed classification attached to each question.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyDifficult    Difficulty = "difficult"
)

// Choice is one selectable answer of a question.
type Choice struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// Question models an MCQ question with exactly one correct choice.
type Question struct {
	ID              int        `json:"id"`
	UniqueKey       string     `json:"unique_key,omitempty"`
	Text            string     `json:"text"`
	Choices         []Choice   `json:"choices"`
	CorrectChoiceID int        `json:"correct_choice_id"`
	Difficulty      Difficulty `json:"difficulty_level"`
	SubjectIDs      []int      `json:"subjects_id"`
	Tags            []string   `json:"tags"`
	Solution        string     `json:"solution,omitempty"`
}

// HasChoice reports whether choiceID belongs to the question.
func (q Question) HasChoice(choiceID int) bool {
	for _, c := range q.Choices {
		if c.ID == choiceID {
			return true
		}
	}
	return false
}

// IDSet is a membership-only set of numeric ids.
type IDSet map[int]struct{}

func (s IDSet) Has(id int) bool {
	_, ok := s[id]
	return ok
}

// Toggle flips membership of id and reports whether it is now present.
func (s IDSet) Toggle(id int) bool {
	if _, ok := s[id]; ok {
		delete(s, id)
		return false
	}
	s[id] = struct{}{}
	return true
}

// Sorted returns the members in ascending order.
func (s IDSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

func (s IDSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *IDSet) UnmarshalJSON(data []byte) error {
	var ids []int
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	*s = set
	return nil
}

// Score is the outcome of a completed session.
type Score struct {
	Correct    int `json:"correct"`
	Incorrect  int `json:"incorrect"`
	Unanswered int `json:"unanswered"`
	Percentage int `json:"percentage"`
}

func (s Score) Total() int {
	return s.Correct + s.Incorrect + s.Unanswered
}

// Grade maps the percentage to the performance band shown on the results view.
func (s Score) Grade() string {
	switch {
	case s.Percentage >= 90:
		return "outstanding"
	case s.Percentage >= 80:
		return "excellent"
	case s.Percentage >= 70:
		return "good"
	case s.Percentage >= 60:
		return "fair"
	default:
		return "keep-practicing"
	}
}

// QuizSession is one attempt at a fixed ordered list of questions.
type QuizSession struct {
	ID              string        `json:"id"`
	Mode            Mode          `json:"mode"`
	Questions       []Question    `json:"questions"`
	CurrentIndex    int           `json:"currentIndex"`
	Answers         map[int]int   `json:"answers"` // question id -> choice id; absent means unanswered
	MarkedForReview IDSet         `json:"markedForReview"`
	RuledOutOptions map[int]IDSet `json:"ruledOutOptions"`
	StartTime       time.Time     `json:"startTime"`
	TimeLimit       int           `json:"timeLimit,omitempty"` // minutes, 0 when untimed
	IsCompleted     bool          `json:"isCompleted"`
	Score           *Score        `json:"score,omitempty"`
}

// CurrentQuestion returns the question under the cursor.
func (s *QuizSession) CurrentQuestion() (Question, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[s.CurrentIndex], true
}

// AnswerFor returns the recorded choice for a question.
func (s *QuizSession) AnswerFor(questionID int) (int, bool) {
	choiceID, ok := s.Answers[questionID]
	return choiceID, ok
}

// Question looks a session question up by id.
func (s *QuizSession) Question(questionID int) (Question, bool) {
	for _, q := range s.Questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return Question{}, false
}

// Deadline is the instant the time limit elapses; ok is false for untimed sessions.
func (s *QuizSession) Deadline() (time.Time, bool) {
	if s.TimeLimit <= 0 {
		return time.Time{}, false
	}
	return s.StartTime.Add(time.Duration(s.TimeLimit) * time.Minute), true
}

// Remaining is the time left before the deadline, never negative.
func (s *QuizSession) Remaining(now time.Time) time.Duration {
	deadline, ok := s.Deadline()
	if !ok {
		return 0
	}
	if left := deadline.Sub(now); left > 0 {
		return left
	}
	return 0
}

// Expired reports whether elapsed time has reached the limit.
func (s *QuizSession) Expired(now time.Time) bool {
	deadline, ok := s.Deadline()
	return ok && !now.Before(deadline)
}

// Clone deep-copies the mutable parts; questions are shared since they are immutable.
func (s *QuizSession) Clone() *QuizSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Answers = make(map[int]int, len(s.Answers))
	for k, v := range s.Answers {
		out.Answers[k] = v
	}
	out.MarkedForReview = s.MarkedForReview.Clone()
	out.RuledOutOptions = make(map[int]IDSet, len(s.RuledOutOptions))
	for k, v := range s.RuledOutOptions {
		out.RuledOutOptions[k] = v.Clone()
	}
	if s.Score != nil {
		score := *s.Score
		out.Score = &score
	}
	return &out
}
