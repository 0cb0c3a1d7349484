package tenderapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"tender-harvester/internal/fetcher"
)

// Ключи, под которыми API кладёт список и общее количество
var (
	listingKeys  = []string{"data", "tenders", "items", "results"}
	documentKeys = []string{"data", "documents", "items"}
	totalKeys    = []string{"total", "totalCount", "totalRecords", "count"}
)

// Поля дескриптора документа в порядке приоритета
var (
	fileNameFields = []string{"fileName", "name", "title"}
	urlFields      = []string{"url", "downloadUrl", "fileUrl"}
	docIDFields    = []string{"objectId", "id", "documentId"}
	sizeFields     = []string{"size", "fileSize", "contentLength"}
	checksumFields = []string{"checksum", "hash", "sha256", "md5"}
)

// envelope: разобранный ответ со списком: сами элементы и total (-1 если нет)
type envelope struct {
	Items []json.RawMessage
	Total int
}

// decodeEnvelope принимает JSON-массив или объект со списком под одним из keys.
// Объект без списка: пустой результат; всё остальное: PermanentError.
func decodeEnvelope(body []byte, keys []string) (*envelope, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fetcher.Permanent(fmt.Errorf("empty response body"))
	}

	env := &envelope{Total: -1}
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &env.Items); err != nil {
			return nil, fetcher.Permanent(fmt.Errorf("malformed list: %w", err))
		}
		return env, nil
	case '{':
	default:
		return nil, fetcher.Permanent(fmt.Errorf("unexpected response: %s", preview(trimmed)))
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, fetcher.Permanent(fmt.Errorf("malformed object: %w", err))
	}

	for _, key := range keys {
		raw, ok := obj[key]
		if !ok || isNull(raw) {
			continue
		}
		if err := json.Unmarshal(raw, &env.Items); err != nil {
			return nil, fetcher.Permanent(fmt.Errorf("field %q is not a list: %w", key, err))
		}
		break
	}

	for _, key := range totalKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			if v, err := n.Int64(); err == nil && v >= 0 {
				env.Total = int(v)
				break
			}
		}
	}

	return env, nil
}

// decodeObject разбирает элемент с сохранением точности чисел
func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, fmt.Errorf("item is not an object")
	}
	return fields, nil
}

// firstString: первое непустое поле, числа приводятся к строке
func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := asString(fields[key]); s != "" {
			return s
		}
	}
	return ""
}

func firstInt64(fields map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := fields[key].(type) {
		case json.Number:
			if n, err := v.Int64(); err == nil && n > 0 {
				return n
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func preview(b []byte) string {
	const max = 120
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
