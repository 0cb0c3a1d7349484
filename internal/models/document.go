package models

import "encoding/json"

// Document: дескриптор документа тендера (элемент documents.json).
// Ключ дедупликации: пара (TenderID, DocumentID), имя файла может повторяться.
type Document struct {
	TenderID   string          `json:"tenderId"`
	DocumentID string          `json:"documentId,omitempty"`
	FileName   string          `json:"fileName"`
	URL        string          `json:"url,omitempty"`
	Size       int64           `json:"size,omitempty"`
	Checksum   string          `json:"checksum,omitempty"`
	LocalPath  string          `json:"localPath,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// FilterPattern: именованное регулярное выражение для фильтра по именам файлов
type FilterPattern struct {
	Name          string `yaml:"name"`
	Label         string `yaml:"label"`
	Regex         string `yaml:"regex"`
	MatchFullPath bool   `yaml:"match_full_path"`
}
