package normalize

import (
	"strings"
	"testing"

	"tender-harvester/internal/models"
)

func TestSafeFileName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"kosztorys_ofertowy.pdf", "kosztorys_ofertowy.pdf"},
		{"../../etc/passwd", "passwd"},
		{`C:\docs\SWZ.docx`, "SWZ.docx"},
		{"Załącznik  nr\u00A01.pdf", "Załącznik nr 1.pdf"},
		{"a:b?.pdf", "a_b_.pdf"},
		{"  ..  ", ""},
		{"", ""},
	}

	for _, tt := range tests {
		result := SafeFileName(tt.input)
		if result != tt.expected {
			t.Errorf("SafeFileName(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestSafeFileNameTruncates(t *testing.T) {
	long := strings.Repeat("ż", 300) + ".pdf"
	result := SafeFileName(long)

	if len(result) > maxFileNameBytes {
		t.Errorf("SafeFileName result too long: %d > %d", len(result), maxFileNameBytes)
	}
	if !strings.HasSuffix(result, ".pdf") {
		t.Errorf("SafeFileName should keep extension, got %q", result[len(result)-8:])
	}
}

func TestAssignFileNamesCollisions(t *testing.T) {
	docs := []models.Document{
		{DocumentID: "11", FileName: "kosztorys.pdf"},
		{DocumentID: "12", FileName: "oferta.pdf"},
		{DocumentID: "13", FileName: "Kosztorys.pdf"},
		{DocumentID: "", FileName: "umowa.pdf", URL: "https://cdn/u1"},
		{DocumentID: "", FileName: "umowa.pdf", URL: "https://cdn/u2"},
	}

	got := AssignFileNames(docs)
	want := []string{"kosztorys_11.pdf", "oferta.pdf", "Kosztorys_13.pdf", "umowa_doc13fd8534.pdf", "umowa_doc51a4d3e2.pdf"}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("AssignFileNames[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	// порядок документов не влияет на имена
	reversed := []models.Document{docs[2], docs[1], docs[0]}
	again := AssignFileNames(reversed)
	if again[0] != "Kosztorys_13.pdf" || again[2] != "kosztorys_11.pdf" {
		t.Errorf("AssignFileNames depends on order: %v", again)
	}
}

func TestAssignFileNamesStableUnderReordering(t *testing.T) {
	docs := []models.Document{
		{DocumentID: "9", FileName: "a_1.pdf"},
		{DocumentID: "1", FileName: "a.pdf"},
		{DocumentID: "2", FileName: "a.pdf"},
		{FileName: "s.pdf", URL: "https://cdn/x"},
		{FileName: "s.pdf", URL: "https://cdn/y"},
		{DocumentID: "7", FileName: "b.pdf"},
		{DocumentID: "7", FileName: "b.pdf", URL: "https://cdn/b2"},
	}

	byKey := func(docs []models.Document, names []string) map[string]string {
		m := make(map[string]string, len(docs))
		for i, doc := range docs {
			m[doc.DocumentID+"|"+doc.URL+"|"+doc.FileName] = names[i]
		}
		return m
	}
	want := byKey(docs, AssignFileNames(docs))

	if want["1||a.pdf"] != "a_1.pdf" || want["9||a_1.pdf"] != "a_1_2.pdf" {
		t.Errorf("unexpected names for suffix clash: %v", want)
	}
	if want["|https://cdn/x|s.pdf"] != "s_doca8c779d0.pdf" || want["|https://cdn/y|s.pdf"] != "s_doc2edb02bd.pdf" {
		t.Errorf("unexpected names for documents without id: %v", want)
	}

	// все циклические сдвиги и обратный порядок дают те же имена
	for shift := 1; shift < len(docs); shift++ {
		shuffled := append(append([]models.Document{}, docs[shift:]...), docs[:shift]...)
		got := byKey(shuffled, AssignFileNames(shuffled))
		for k, v := range want {
			if got[k] != v {
				t.Errorf("shift %d: document %q named %q, want %q", shift, k, got[k], v)
			}
		}
	}
	reversed := make([]models.Document, len(docs))
	for i, doc := range docs {
		reversed[len(docs)-1-i] = doc
	}
	got := byKey(reversed, AssignFileNames(reversed))
	for k, v := range want {
		if got[k] != v {
			t.Errorf("reversed: document %q named %q, want %q", k, got[k], v)
		}
	}
}

func TestAssignFileNamesDuplicateIDs(t *testing.T) {
	docs := []models.Document{
		{DocumentID: "7", FileName: "a.pdf"},
		{DocumentID: "7", FileName: "a.pdf"},
	}

	got := AssignFileNames(docs)
	if got[0] == got[1] {
		t.Errorf("AssignFileNames produced duplicate names: %v", got)
	}
}

func TestTenderID(t *testing.T) {
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "a:b"} {
		if _, err := TenderID(bad); err == nil {
			t.Errorf("TenderID(%q) should fail", bad)
		}
	}
	if id, err := TenderID(" ocds-148610-abc "); err != nil || id != "ocds-148610-abc" {
		t.Errorf("TenderID returned %q, %v", id, err)
	}
}
