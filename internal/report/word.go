package report

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nguyenthenguyen/docx"
)

// Word template filenames shipped alongside the scraper binary. The Kazakh
// template falls back to the Russian one when absent.
const (
	wordTemplateRU = "Шаблон.docx"
	wordTemplateKK = "Шаблон_каз.docx"
)

// ErrNoWordTemplate is returned when no usable template exists; callers skip
// the Word artifact and keep the workbook.
var ErrNoWordTemplate = errors.New("word template not found")

// ResolveWordTemplate picks the template for lang under templateDir.
func ResolveWordTemplate(templateDir, lang string) (string, error) {
	candidates := []string{wordTemplateRU}
	if lang == "kk" {
		candidates = []string{wordTemplateKK, wordTemplateRU}
	}
	for _, name := range candidates {
		path := filepath.Join(templateDir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNoWordTemplate
}

// WriteWord fills the analysis template with the report context and writes
// it to path. Placeholders use the {{NAME}} form.
func WriteWord(templatePath, path string, ctx Context) error {
	r, err := docx.ReadDocxFile(templatePath)
	if err != nil {
		return fmt.Errorf("open word template: %w", err)
	}
	defer r.Close()

	doc := r.Editable()
	mapping := map[string]string{
		"ORG":      ctx.OrgName,
		"ORG_NAME": ctx.OrgName,
		"CLASS":    ctx.Class,
		"TEACHER":  ctx.ProfileName,
		"SUBJECT":  ctx.Subject,
		"DATE":     time.Now().Format("02.01.2006"),
	}
	if ctx.PeriodLabel != "" {
		mapping["PERIOD"] = ctx.PeriodLabel
	}
	for key, val := range mapping {
		if err := doc.Replace("{{"+key+"}}", val, -1); err != nil {
			return fmt.Errorf("fill placeholder %s: %w", key, err)
		}
	}

	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("write word report: %w", err)
	}
	return nil
}
