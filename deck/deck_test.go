package deck

import (
	"strings"
	"testing"
)

func TestLoadEmbeddedCatalog(t *testing.T) {
	d, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	prompts, err := d.Prompts("french-basics")
	if err != nil {
		t.Fatalf("prompts: %v", err)
	}
	if len(prompts) != 4 {
		t.Fatalf("unexpected prompt count: got=%d want=4", len(prompts))
	}
	if prompts[0].Text != "Bonjour" || prompts[0].Answer != "bonjour" {
		t.Fatalf("unexpected first prompt: %+v", prompts[0])
	}

	intro, err := d.Intro("french-basics")
	if err != nil {
		t.Fatalf("intro: %v", err)
	}
	if intro.DisplayName != "Pierre the French Chef" || intro.VoiceProfileID == "" {
		t.Fatalf("unexpected intro: %+v", intro)
	}
	if !strings.HasPrefix(intro.IntroText, "Bonjour! I'm Pierre") {
		t.Fatalf("unexpected intro text: %q", intro.IntroText)
	}
}

func TestUnknownCourse(t *testing.T) {
	d, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := d.Prompts("klingon"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := d.Intro("klingon"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if _, err := d.Course("klingon"); !IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestPromptsAreCopies(t *testing.T) {
	d, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	a, _ := d.Prompts("french-basics")
	a[0].Answer = "mutated"
	b, _ := d.Prompts("french-basics")
	if b[0].Answer != "bonjour" {
		t.Fatalf("catalog was mutated through a returned slice")
	}
}

func TestParseDerivesMissingHint(t *testing.T) {
	d, err := Parse([]byte(`
courses:
  - id: test
    title: Test
    prompts:
      - text: Merci
        answer: merci
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	prompts, _ := d.Prompts("test")
	if got, want := prompts[0].Hint, `Try saying: "merci"`; got != want {
		t.Fatalf("unexpected hint: got=%q want=%q", got, want)
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	cases := map[string]string{
		"empty":     `courses: []`,
		"no id":     "courses:\n  - title: x\n    prompts:\n      - {text: a, answer: a}\n",
		"no prompt": "courses:\n  - id: x\n",
		"duplicate": "courses:\n  - id: x\n    prompts: [{text: a, answer: a}]\n  - id: x\n    prompts: [{text: a, answer: a}]\n",
		"no answer": "courses:\n  - id: x\n    prompts: [{text: a}]\n",
	}
	for name, doc := range cases {
		name, doc := name, doc
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestCoursesAndVoices(t *testing.T) {
	d, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	courses := d.Courses()
	if len(courses) != 3 {
		t.Fatalf("unexpected course count: %d", len(courses))
	}
	for i := 1; i < len(courses); i++ {
		if courses[i-1].Title > courses[i].Title {
			t.Fatalf("courses not sorted by title")
		}
	}
	for _, c := range courses {
		if c.Prompts != nil {
			t.Fatalf("listing should omit prompts for %s", c.ID)
		}
	}
	voices := d.Voices()
	if voices["pierre"] != "7c65Pcpdzr0GkR748U7h" {
		t.Fatalf("unexpected voice map: %v", voices)
	}
}
