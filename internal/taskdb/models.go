package taskdb

// TaskRecord is the durable row for one task execution. The registry
// upserts it on every transition so the ledger survives restarts.
type TaskRecord struct {
	TaskID          string `gorm:"column:task_id;primaryKey"`
	Command         string `gorm:"column:command;not null;default:''"`
	Dir             string `gorm:"column:dir;not null;default:''"`
	State           string `gorm:"column:state;not null;default:''"`
	ExitCode        int    `gorm:"column:exit_code;not null;default:-1"`
	StdoutTail      string `gorm:"column:stdout_tail;not null;default:''"`
	StderrTail      string `gorm:"column:stderr_tail;not null;default:''"`
	LastError       string `gorm:"column:last_error;not null;default:''"`
	CreatedAt       int64  `gorm:"column:created_at;not null;default:0"`
	StartedAt       int64  `gorm:"column:started_at;not null;default:0"`
	EndedAt         int64  `gorm:"column:ended_at;not null;default:0"`
	OutputTruncated bool   `gorm:"column:output_truncated;not null;default:false"`
}

func (TaskRecord) TableName() string { return "task_records" }
