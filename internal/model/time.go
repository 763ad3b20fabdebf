package model

import (
	"fmt"
	"time"
)

// LocalTime is a custom time type to format time as "YYYY-MM-DD HH:MM:SS".
// 零值序列化为 null，配合可选的结束时间等字段使用。
type LocalTime time.Time

const timeFormat = "2006-01-02 15:04:05"

// MarshalJSON implements the json.Marshaler interface.
func (t LocalTime) MarshalJSON() ([]byte, error) {
	tt := time.Time(t)
	if tt.IsZero() {
		return []byte("null"), nil
	}
	formatted := fmt.Sprintf("\"%s\"", tt.Format(timeFormat))
	return []byte(formatted), nil
}

// NewLocalTime 将可能为空的 *time.Time 转换为 LocalTime（nil 映射到零值）。
func NewLocalTime(t *time.Time) LocalTime {
	if t == nil {
		return LocalTime(time.Time{})
	}
	return LocalTime(*t)
}
