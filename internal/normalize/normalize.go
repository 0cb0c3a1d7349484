package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"tender-harvester/internal/models"
)

const maxFileNameBytes = 200

var (
	// Символы, недопустимые в именах файлов на Windows/Linux
	forbiddenChars = regexp.MustCompile(`[<>:"|?*\x00-\x1f]`)
	spaces         = regexp.MustCompile(`\s+`)
)

// SafeFileName приводит имя из API к безопасному имени файла: без каталогов,
// без запрещённых символов, не длиннее maxFileNameBytes. Пустой результат: "".
func SafeFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\u00a0", " "))
	// только последний сегмент пути, разделители любых ОС
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = forbiddenChars.ReplaceAllString(name, "_")
	name = spaces.ReplaceAllString(name, " ")
	name = strings.Trim(name, " .")

	if name == "" || name == "/" {
		return ""
	}
	return truncateKeepExt(name, maxFileNameBytes)
}

// AssignFileNames решает, под каким именем каждый документ ляжет в attachments/.
// Если несколько документов тендера дают одно и то же имя (без учёта регистра),
// все они получают суффикс: ID документа, а без ID короткий хеш URL и имени
// (kosztorys_<id>.pdf, kosztorys_doc<hash>.pdf). Оставшиеся совпадения
// разбираются в фиксированном порядке (ID, URL, имя), так что имя документа
// не зависит от порядка, в котором их вернул API.
func AssignFileNames(docs []models.Document) []string {
	base := make([]string, len(docs))
	counts := make(map[string]int, len(docs))

	for i, doc := range docs {
		name := SafeFileName(doc.FileName)
		if name == "" {
			name = "document"
		}
		base[i] = name
		counts[strings.ToLower(name)]++
	}

	order := make([]int, len(docs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		da, db := docs[order[a]], docs[order[b]]
		if da.DocumentID != db.DocumentID {
			return da.DocumentID < db.DocumentID
		}
		if da.URL != db.URL {
			return da.URL < db.URL
		}
		return da.FileName < db.FileName
	})

	names := make([]string, len(docs))
	used := make(map[string]struct{}, len(docs))
	for _, i := range order {
		doc := docs[i]
		name := base[i]
		if counts[strings.ToLower(name)] > 1 {
			suffix := SafeFileName(doc.DocumentID)
			if suffix == "" {
				suffix = "doc" + shortHash(doc.URL+"\x00"+doc.FileName)
			}
			name = WithSuffix(name, suffix)
		}
		// суффикс тоже может совпасть (одинаковые ID от API): добиваем порядковым номером
		candidate := name
		for n := 2; ; n++ {
			if _, taken := used[strings.ToLower(candidate)]; !taken {
				break
			}
			candidate = WithSuffix(name, fmt.Sprintf("%d", n))
		}
		used[strings.ToLower(candidate)] = struct{}{}
		names[i] = candidate
	}

	return names
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:4])
}

// WithSuffix: "a.pdf" + "x" → "a_x.pdf"
func WithSuffix(name, suffix string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		stem, ext = name, ""
	}
	return truncateKeepExt(stem+"_"+suffix+ext, maxFileNameBytes)
}

func truncateKeepExt(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	ext := path.Ext(name)
	if len(ext) > 16 {
		ext = ""
	}
	stem := strings.TrimSuffix(name, ext)
	keep := limit - len(ext)
	for keep > 0 && !utf8.RuneStart(stem[keep]) {
		keep--
	}
	return stem[:keep] + ext
}

// TenderID проверяет, что ID тендера пригоден как имя каталога
func TenderID(id string) (string, error) {
	id = strings.TrimSpace(id)
	switch {
	case id == "", id == ".", id == "..":
		return "", fmt.Errorf("invalid tender id %q", id)
	case strings.ContainsAny(id, `/\`), forbiddenChars.MatchString(id):
		return "", fmt.Errorf("tender id %q contains forbidden characters", id)
	}
	return id, nil
}
