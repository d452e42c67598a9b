// Package domain holds the coordination core's plain data types: Device,
// Group and Task, plus the small set of enums and pure validation
// predicates shared by Repository and Task so the rules
// are checked in exactly one place.
package domain

import (
	"time"

	uuid "github.com/hashicorp/go-uuid"
)

// ProtocolType identifies the MPC protocol family a Group or Task runs.
type ProtocolType int

const (
	ProtocolGG18 ProtocolType = iota
	ProtocolFROST
	ProtocolElGamal
)

func (p ProtocolType) String() string {
	switch p {
	case ProtocolGG18:
		return "GG18"
	case ProtocolFROST:
		return "FROST"
	case ProtocolElGamal:
		return "ElGamal"
	default:
		return "Unknown"
	}
}

// KeyType identifies what a Group's key is used for.
type KeyType int

const (
	KeySignPDF KeyType = iota
	KeySignChallenge
	KeyDecrypt
)

func (k KeyType) String() string {
	switch k {
	case KeySignPDF:
		return "SignPDF"
	case KeySignChallenge:
		return "SignChallenge"
	case KeyDecrypt:
		return "Decrypt"
	default:
		return "Unknown"
	}
}

// ValidProtocolKeyTypePair reports whether the (protocol, key_type)
// combination is one of the admissible pairs.
func ValidProtocolKeyTypePair(p ProtocolType, k KeyType) bool {
	switch p {
	case ProtocolGG18:
		return k == KeySignPDF || k == KeySignChallenge
	case ProtocolFROST:
		return k == KeySignChallenge
	case ProtocolElGamal:
		return k == KeyDecrypt
	default:
		return false
	}
}

// TaskType distinguishes the three task kinds the coordinator runs.
type TaskType int

const (
	TaskGroup TaskType = iota
	TaskSign
	TaskDecrypt
)

func (t TaskType) String() string {
	switch t {
	case TaskGroup:
		return "group"
	case TaskSign:
		return "sign"
	case TaskDecrypt:
		return "decrypt"
	default:
		return "unknown"
	}
}

// TaskState is the lifecycle state of a Task.
type TaskState int

const (
	TaskCreated TaskState = iota
	TaskRunning
	TaskFinished
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "Created"
	case TaskRunning:
		return "Running"
	case TaskFinished:
		return "Finished"
	case TaskFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Decision is a participant's accept/reject vote on a Created task.
type Decision int

const (
	DecisionPending Decision = iota
	DecisionAccepted
	DecisionRejected
)

// Device is a participating client identified by a public-key byte string.
type Device struct {
	ID          int64
	Identifier  []byte
	Name        string
	Certificate []byte
	LastActive  time.Time
}

// Group is a threshold key jointly held by a set of devices.
type Group struct {
	ID          int64
	Identifier  []byte
	Name        string
	Threshold   int
	Protocol    ProtocolType
	KeyType     KeyType
	Certificate []byte
}

// Task is the per-execution coordination row: a DKG, sign or decrypt run.
type Task struct {
	ID            string // UUID string form
	TaskType      TaskType
	TaskState     TaskState
	ProtocolRound uint16
	AttemptCount  uint32
	LastUpdate    time.Time
	Threshold     int
	GroupID       *int64
	TaskData      []byte
	Preprocessed  []byte
	Request       []byte
	ErrorMessage  *string
	ResultData    []byte
	ProtocolType  *ProtocolType
	KeyType       *KeyType
}

// NewTaskID generates a fresh task identifier.
func NewTaskID() (string, error) {
	return uuid.GenerateUUID()
}

// TaskSnapshot is the formatted notification pushed to a device's
// subscriber channel whenever one of its tasks changes. Work is that
// device's outstanding payload for the task's current round/phase, or nil
// if none is pending.
type TaskSnapshot struct {
	TaskID       string
	TaskType     TaskType
	TaskState    TaskState
	Round        uint16
	AttemptCount uint32
	Work         []byte
}
