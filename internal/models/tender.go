package models

import (
	"encoding/json"
	"time"
)

// Province: название воеводства и значение параметра, которое ждёт API
type Province struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

// QueryValue возвращает значение для query-параметра; без явного value шлём имя
func (p Province) QueryValue() string {
	if p.Value != "" {
		return p.Value
	}
	return p.Name
}

// Summary: одна запись листинга
type Summary struct {
	ID             string
	Province       string
	InitiationDate time.Time
	Fields         map[string]any
	Payload        json.RawMessage
}

// Record: содержимое tender.json
type Record struct {
	ID             string          `json:"id"`
	Province       string          `json:"province,omitempty"`
	InitiationDate *time.Time      `json:"initiationDate,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	PayloadHash    string          `json:"payloadHash"`
	Payload        json.RawMessage `json:"payload"`
}

// NewRecord собирает запись из элемента листинга
func NewRecord(s *Summary) *Record {
	rec := &Record{
		ID:       s.ID,
		Province: s.Province,
		Payload:  s.Payload,
	}
	if !s.InitiationDate.IsZero() {
		d := s.InitiationDate
		rec.InitiationDate = &d
	}
	return rec
}
