// Package deck holds the static course catalog: the ordered prompts of each
// language track and the metadata spoken before a lesson starts.
package deck

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/korjavin/voicenary/models"
)

//go:embed courses.yaml
var defaultCatalog []byte

// NotFoundError is returned when a course id is not in the catalog.
type NotFoundError struct {
	CourseID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("course %q not found", e.CourseID)
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Deck is a read-only course catalog. It is safe for concurrent use.
type Deck struct {
	courses []models.Course
	byID    map[string]*models.Course
}

type catalogFile struct {
	Courses []models.Course `yaml:"courses"`
}

// Load returns the catalog compiled into the binary.
func Load() (*Deck, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads a catalog with the same schema from disk.
func LoadFile(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Deck, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Courses) == 0 {
		return nil, errors.New("catalog has no courses")
	}

	d := &Deck{
		courses: make([]models.Course, 0, len(file.Courses)),
		byID:    make(map[string]*models.Course, len(file.Courses)),
	}
	for _, c := range file.Courses {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" {
			return nil, errors.New("course without id")
		}
		if _, dup := d.byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate course %q", c.ID)
		}
		if len(c.Prompts) == 0 {
			return nil, fmt.Errorf("course %q has no prompts", c.ID)
		}
		for i := range c.Prompts {
			p := &c.Prompts[i]
			if strings.TrimSpace(p.Text) == "" || strings.TrimSpace(p.Answer) == "" {
				return nil, fmt.Errorf("course %q prompt %d: text and answer are required", c.ID, i)
			}
			if p.Hint == "" {
				p.Hint = DeriveHint(p.Answer)
			}
		}
		d.courses = append(d.courses, c)
	}
	sort.Slice(d.courses, func(i, j int) bool {
		return d.courses[i].Title < d.courses[j].Title
	})
	for i := range d.courses {
		d.byID[d.courses[i].ID] = &d.courses[i]
	}
	return d, nil
}

// DeriveHint builds the fallback hint for a prompt without one.
func DeriveHint(answer string) string {
	return fmt.Sprintf("Try saying: %q", answer)
}

// Course returns a copy of the course with the given id.
func (d *Deck) Course(courseID string) (models.Course, error) {
	c, ok := d.byID[courseID]
	if !ok {
		return models.Course{}, &NotFoundError{CourseID: courseID}
	}
	out := *c
	out.Prompts = append([]models.Prompt(nil), c.Prompts...)
	return out, nil
}

// Prompts returns the ordered prompt sequence of a course.
func (d *Deck) Prompts(courseID string) ([]models.Prompt, error) {
	c, ok := d.byID[courseID]
	if !ok {
		return nil, &NotFoundError{CourseID: courseID}
	}
	return append([]models.Prompt(nil), c.Prompts...), nil
}

// Intro returns the pre-lesson metadata of a course.
func (d *Deck) Intro(courseID string) (models.Intro, error) {
	c, ok := d.byID[courseID]
	if !ok {
		return models.Intro{}, &NotFoundError{CourseID: courseID}
	}
	return models.Intro{
		DisplayName:    c.DisplayName,
		IntroText:      c.IntroText,
		VoiceProfileID: c.VoiceProfileID,
	}, nil
}

// Courses lists the catalog sorted by title. Prompts are omitted.
func (d *Deck) Courses() []models.Course {
	out := make([]models.Course, 0, len(d.courses))
	for _, c := range d.courses {
		c.Prompts = nil
		out = append(out, c)
	}
	return out
}

// Voices maps each tutor character to its voice profile id.
func (d *Deck) Voices() map[string]string {
	out := make(map[string]string, len(d.courses))
	for _, c := range d.courses {
		if c.Character != "" && c.VoiceProfileID != "" {
			out[c.Character] = c.VoiceProfileID
		}
	}
	return out
}
