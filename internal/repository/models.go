package repository

import (
	"time"

	"github.com/meesign/meesignd/internal/domain"
)

// deviceRow, signingGroupRow, groupParticipantRow, taskRow and
// taskParticipantRow mirror the coordinator's persisted-state layout as
// gorm models.
type deviceRow struct {
	ID          int64  `gorm:"primary_key"`
	Identifier  []byte `gorm:"unique_index;type:varbinary(255)"`
	DeviceName  string `gorm:"size:64"`
	Certificate []byte
	LastActive  time.Time
}

func (deviceRow) TableName() string { return "device" }

type signingGroupRow struct {
	ID               int64  `gorm:"primary_key"`
	Identifier       []byte `gorm:"unique_index;type:varbinary(255)"`
	GroupName        string
	Threshold        int
	Protocol         int
	Round            int
	KeyType          int
	GroupCertificate []byte
}

func (signingGroupRow) TableName() string { return "signinggroup" }

type groupParticipantRow struct {
	ID       int64 `gorm:"primary_key"`
	DeviceID int64 `gorm:"index"`
	GroupID  int64 `gorm:"index"`
}

func (groupParticipantRow) TableName() string { return "groupparticipant" }

type taskRow struct {
	ID            string `gorm:"primary_key;type:varchar(36)"`
	TaskType      int
	TaskState     int
	ProtocolRound int
	AttemptCount  int64
	LastUpdate    time.Time
	Threshold     int
	GroupID       *int64
	TaskData      []byte
	Preprocessed  []byte
	Request       []byte
	ErrorMessage  *string
	ResultData    []byte
	ProtocolType  *int
	KeyType       *int
}

func (taskRow) TableName() string { return "task" }

type taskParticipantRow struct {
	ID       int64 `gorm:"primary_key"`
	DeviceID int64 `gorm:"index"`
	TaskID   string `gorm:"index;type:varchar(36)"`
}

func (taskParticipantRow) TableName() string { return "taskparticipant" }

func toDomainDevice(r *deviceRow) *domain.Device {
	return &domain.Device{
		ID:          r.ID,
		Identifier:  r.Identifier,
		Name:        r.DeviceName,
		Certificate: r.Certificate,
		LastActive:  r.LastActive,
	}
}

func toDomainGroup(r *signingGroupRow) *domain.Group {
	return &domain.Group{
		ID:          r.ID,
		Identifier:  r.Identifier,
		Name:        r.GroupName,
		Threshold:   r.Threshold,
		Protocol:    domain.ProtocolType(r.Protocol),
		KeyType:     domain.KeyType(r.KeyType),
		Certificate: r.GroupCertificate,
	}
}

func toDomainTask(r *taskRow) *domain.Task {
	t := &domain.Task{
		ID:            r.ID,
		TaskType:      domain.TaskType(r.TaskType),
		TaskState:     domain.TaskState(r.TaskState),
		ProtocolRound: uint16(r.ProtocolRound),
		AttemptCount:  uint32(r.AttemptCount),
		LastUpdate:    r.LastUpdate,
		Threshold:     r.Threshold,
		GroupID:       r.GroupID,
		TaskData:      r.TaskData,
		Preprocessed:  r.Preprocessed,
		Request:       r.Request,
		ErrorMessage:  r.ErrorMessage,
		ResultData:    r.ResultData,
	}
	if r.ProtocolType != nil {
		pt := domain.ProtocolType(*r.ProtocolType)
		t.ProtocolType = &pt
	}
	if r.KeyType != nil {
		kt := domain.KeyType(*r.KeyType)
		t.KeyType = &kt
	}
	return t
}
