package domain

import "errors"

var (
	// ErrEmptyQuestionSet is returned when a quiz is started without questions.
	ErrEmptyQuestionSet = errors.New("quiz requires at least one question")
	// ErrInvalidMode indicates a mode outside study, test, timed-study, timed-exam.
	ErrInvalidMode = errors.New("invalid quiz mode")
	// ErrNoActiveSession is returned by operations that need a session to read from.
	ErrNoActiveSession = errors.New("no active quiz session")
	// ErrQuestionNotFound indicates a question id is not part of the bank or session.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrPreferencesNotFound is returned by stores that hold nothing for a user yet.
	ErrPreferencesNotFound = errors.New("preferences not found")
	// ErrNoQuestionsMatch indicates the selection criteria matched no question.
	ErrNoQuestionsMatch = errors.New("no questions match the selected filters")
)
