package analyzer

import (
	"errors"
	"fmt"
	"os"

	"github.com/bdougie/medai/internal/extractor"
	"github.com/bdougie/medai/internal/gateway"
	"github.com/bdougie/medai/internal/models"
)

// ErrEmptyInput is returned when a text action is given nothing to ask
var ErrEmptyInput = errors.New("empty input")

// Task names the unit of work an analyzer performs
type Task string

const (
	TaskPrescription    Task = "prescription"
	TaskTranscription   Task = "transcription"
	TaskNotes           Task = "notes"
	TaskFrameExtraction Task = "frame-extraction"
	TaskPosture         Task = "posture"
	TaskChat            Task = "chat"
)

var taskLabels = map[Task]string{
	TaskPrescription:    "Error in reading prescription",
	TaskTranscription:   "Error during audio transcription",
	TaskNotes:           "Error generating notes",
	TaskFrameExtraction: "Error extracting video frames",
	TaskPosture:         "Error analyzing posture",
	TaskChat:            "Error in chat assistance",
}

// Label is the human-readable prefix shown for a failed task
func (t Task) Label() string {
	if l, ok := taskLabels[t]; ok {
		return l
	}
	return "Error"
}

// HistoryKind maps a task onto the history entry type it is recorded under
func (t Task) HistoryKind() models.Kind {
	switch t {
	case TaskPrescription:
		return models.KindPrescription
	case TaskFrameExtraction, TaskPosture:
		return models.KindVideo
	case TaskTranscription, TaskNotes:
		return models.KindAudio
	default:
		return models.KindChat
	}
}

// ErrorKind classifies why a task failed
type ErrorKind string

const (
	KindInput   ErrorKind = "input"
	KindGateway ErrorKind = "gateway"
	KindVideo   ErrorKind = "video"
)

// TaskError is the failure of one analyzer call. Its message carries the
// task's label so it can be shown to the user as-is.
type TaskError struct {
	Task Task
	Kind ErrorKind
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Task.Label(), e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

func fail(task Task, err error) *TaskError {
	return &TaskError{Task: task, Kind: classify(err), Err: err}
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, extractor.ErrVideoOpen),
		errors.Is(err, extractor.ErrNoFrames),
		errors.Is(err, extractor.ErrInvalidCount):
		return KindVideo
	case errors.Is(err, ErrEmptyInput),
		errors.Is(err, gateway.ErrEmptyPayload),
		errors.Is(err, gateway.ErrUnsupportedModality),
		errors.Is(err, os.ErrNotExist),
		errors.Is(err, os.ErrPermission):
		return KindInput
	default:
		return KindGateway
	}
}

// KindOf returns the error kind of err, or "" when err is not a TaskError
func KindOf(err error) ErrorKind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
