package prompt

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/callq/internal/calls"
)

const testTemplate = `Оцени звонок.
Критерии:
{criteria_list}
Доп. условия:
{custom_instructions}
Транскрипция:
{transcription}
Ответ строго в JSON: {{"is_sales_call": true}}`

func testRubric() calls.Rubric {
	return calls.Rubric{Criteria: []calls.Criterion{
		{ID: "greeting", Category: "Приветствие", Indicator: "Представился", Comment: "имя и компания", MaxScore: "5", Conditions: "5 если назвал имя"},
		{Category: "Закрытие", Indicator: "Договорённость", MaxScore: "10", Conditions: "10 если есть следующий шаг"},
	}}
}

func testTranscript() *calls.Transcript {
	return &calls.Transcript{CallID: 42, Phrases: []calls.Phrase{
		{Channel: calls.ChannelOperator, Text: "Здравствуйте, меня зовут Анна"},
		{Channel: calls.ChannelClient, Text: "Добрый день"},
	}}
}

func TestParseTemplate_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"missing transcription", "{criteria_list} {custom_instructions}"},
		{"missing criteria", "{transcription} {custom_instructions}"},
		{"missing instructions", "{transcription} {criteria_list}"},
		{"unknown placeholder", "{transcription} {criteria_list} {custom_instructions} {operator}"},
		{"unescaped json", `{transcription} {criteria_list} {custom_instructions} {"a": 1}`},
		{"unclosed brace", "{transcription} {criteria_list} {custom_instructions} {oops"},
		{"stray closing brace", "{transcription} {criteria_list} {custom_instructions} }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplate(tt.text)
			if err == nil {
				t.Fatal("expected configuration fault")
			}
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestBuild(t *testing.T) {
	tmpl, err := ParseTemplate(testTemplate)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got, err := Build(tmpl, testRubric(), []string{"Учитывай вежливость", "Не учитывай паузы"}, testTranscript())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	checks := []string{
		"ID: greeting\nCATEGORY: Приветствие\nCRITERION: Представился\nCOMMENT: имя и компания\nMAX SCORE: 5\nCONDITIONS: 5 если назвал имя\n\n",
		"CATEGORY: Закрытие\nCRITERION: Договорённость",
		"Учитывай вежливость\n\nНе учитывай паузы",
		"operator: Здравствуйте, меня зовут Анна\nclient: Добрый день\n",
		`Ответ строго в JSON: {"is_sales_call": true}`,
	}
	for _, check := range checks {
		if !strings.Contains(got, check) {
			t.Errorf("expected prompt to contain %q\nprompt:\n%s", check, got)
		}
	}
	if strings.Index(got, "Приветствие") > strings.Index(got, "Закрытие") {
		t.Error("expected criteria in rubric order")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	tmpl, err := ParseTemplate(testTemplate)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	instr := []string{"a", "b"}

	first, err := Build(tmpl, testRubric(), instr, testTranscript())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Build(tmpl, testRubric(), instr, testTranscript())
		if err != nil {
			t.Fatalf("build: %v", err)
		}
		if again != first {
			t.Fatalf("prompt changed between runs:\n%s\n---\n%s", first, again)
		}
	}
}

func TestBuild_RepeatedPlaceholder(t *testing.T) {
	tmpl, err := ParseTemplate("{transcription}|{criteria_list}|{custom_instructions}|{transcription}")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	tr := &calls.Transcript{Phrases: []calls.Phrase{{Channel: calls.ChannelClient, Text: "да"}}}

	got, err := Build(tmpl, calls.Rubric{}, nil, tr)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got != "client: да\n|||client: да\n" {
		t.Errorf("unexpected prompt %q", got)
	}
}

func TestNewBuilder_PlaceholderInInstructions(t *testing.T) {
	tmpl, err := ParseTemplate(testTemplate)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	_, err = NewBuilder(tmpl, testRubric(), []string{"Сравни с {transcription}"})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}

	// Literal JSON in instructions is fine.
	if _, err := NewBuilder(tmpl, testRubric(), []string{`Формат: {"amount": 0}`}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewBuilder_NilTemplate(t *testing.T) {
	if _, err := NewBuilder(nil, testRubric(), nil); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoadTemplate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompt.txt")
	if err := os.WriteFile(path, []byte(testTemplate), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadTemplate(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := LoadTemplate(filepath.Join(dir, "missing.txt")); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration for missing file, got %v", err)
	}
}
