package domain

// StorageName keys the persisted preferences of a user.
const StorageName = "quiz-storage"

// DefaultQuestionCount is the number of questions a new user gets per quiz.
const DefaultQuestionCount = 20

// UserStats holds cumulative counters that survive across sessions.
type UserStats struct {
	TotalQuestionsAttempted int            `json:"totalQuestionsAttempted"`
	CorrectAnswers          int            `json:"correctAnswers"`
	IncorrectAnswers        int            `json:"incorrectAnswers"`
	AverageTime             int            `json:"averageTime"`
	StreakCount             int            `json:"streakCount"`
	WeakTopics              map[int]int    `json:"weakTopics"`     // subject id -> incorrect count
	StrengthTopics          map[int]int    `json:"strengthTopics"` // subject id -> correct count
	DailyProgress           map[string]int `json:"dailyProgress"`  // YYYY-MM-DD -> answered
}

func NewUserStats() UserStats {
	return UserStats{
		WeakTopics:     make(map[int]int),
		StrengthTopics: make(map[int]int),
		DailyProgress:  make(map[string]int),
	}
}

// RecordCompletion adds a finished session to the cumulative counters.
func (s *UserStats) RecordCompletion(score Score) {
	s.TotalQuestionsAttempted += score.Total()
	s.CorrectAnswers += score.Correct
	s.IncorrectAnswers += score.Incorrect
}

// RecordAnswer bumps today's progress and the subject's strength or weakness counter.
func (s *UserStats) RecordAnswer(correct bool, subjectID int, day string) {
	if s.DailyProgress == nil {
		s.DailyProgress = make(map[string]int)
	}
	s.DailyProgress[day]++
	if correct {
		if s.StrengthTopics == nil {
			s.StrengthTopics = make(map[int]int)
		}
		s.StrengthTopics[subjectID]++
		return
	}
	if s.WeakTopics == nil {
		s.WeakTopics = make(map[int]int)
	}
	s.WeakTopics[subjectID]++
}

// Filters narrows the question bank before a quiz starts.
type Filters struct {
	Subjects      []int        `json:"subjects"`
	Difficulty    []Difficulty `json:"difficulty"`
	Tags          []string     `json:"tags"`
	QuestionCount int          `json:"questionCount"`
	IsRandom      bool         `json:"isRandom"`
}

func DefaultFilters() Filters {
	return Filters{
		Subjects:      []int{},
		Difficulty:    []Difficulty{},
		Tags:          []string{},
		QuestionCount: DefaultQuestionCount,
		IsRandom:      true,
	}
}

// FiltersPatch is a partial update; nil fields are left unchanged.
type FiltersPatch struct {
	Subjects      *[]int        `json:"subjects,omitempty"`
	Difficulty    *[]Difficulty `json:"difficulty,omitempty"`
	Tags          *[]string     `json:"tags,omitempty"`
	QuestionCount *int          `json:"questionCount,omitempty"`
	IsRandom      *bool         `json:"isRandom,omitempty"`
}

func (f Filters) Apply(p FiltersPatch) Filters {
	if p.Subjects != nil {
		f.Subjects = *p.Subjects
	}
	if p.Difficulty != nil {
		f.Difficulty = *p.Difficulty
	}
	if p.Tags != nil {
		f.Tags = *p.Tags
	}
	if p.QuestionCount != nil {
		f.QuestionCount = *p.QuestionCount
	}
	if p.IsRandom != nil {
		f.IsRandom = *p.IsRandom
	}
	return f
}

// Navigation records what the user picked on the selection screens.
type Navigation struct {
	SelectedPlatform *string  `json:"selectedPlatform"`
	SelectedSubjects []int    `json:"selectedSubjects"`
	SelectedTopics   []string `json:"selectedTopics"`
}

func EmptyNavigation() Navigation {
	return Navigation{SelectedSubjects: []int{}, SelectedTopics: []string{}}
}

// NavigationPatch is a partial update; nil fields are left unchanged.
// A non-nil SelectedPlatform pointing at "" clears the platform.
type NavigationPatch struct {
	SelectedPlatform *string   `json:"selectedPlatform,omitempty"`
	SelectedSubjects *[]int    `json:"selectedSubjects,omitempty"`
	SelectedTopics   *[]string `json:"selectedTopics,omitempty"`
}

func (n Navigation) Apply(p NavigationPatch) Navigation {
	if p.SelectedPlatform != nil {
		if *p.SelectedPlatform == "" {
			n.SelectedPlatform = nil
		} else {
			platform := *p.SelectedPlatform
			n.SelectedPlatform = &platform
		}
	}
	if p.SelectedSubjects != nil {
		n.SelectedSubjects = *p.SelectedSubjects
	}
	if p.SelectedTopics != nil {
		n.SelectedTopics = *p.SelectedTopics
	}
	return n
}

// Preferences is the persisted, process-wide state of a user. The active session is never part of it.
type Preferences struct {
	UserStats        UserStats  `json:"userStats"`
	IncorrectAnswers []Question `json:"incorrectAnswers"`
	Filters          Filters    `json:"filters"`
	Navigation       Navigation `json:"navigation"`
	IsDarkMode       bool       `json:"isDarkMode"`
}

func DefaultPreferences() Preferences {
	return Preferences{
		UserStats:        NewUserStats(),
		IncorrectAnswers: []Question{},
		Filters:          DefaultFilters(),
		Navigation:       EmptyNavigation(),
	}
}

// AddIncorrect appends q to the review log unless it is already there.
func (p *Preferences) AddIncorrect(q Question) bool {
	for _, existing := range p.IncorrectAnswers {
		if existing.ID == q.ID {
			return false
		}
	}
	p.IncorrectAnswers = append(p.IncorrectAnswers, q)
	return true
}

func (p *Preferences) RemoveIncorrect(questionID int) {
	kept := make([]Question, 0, len(p.IncorrectAnswers))
	for _, q := range p.IncorrectAnswers {
		if q.ID != questionID {
			kept = append(kept, q)
		}
	}
	p.IncorrectAnswers = kept
}
