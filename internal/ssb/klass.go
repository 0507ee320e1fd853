package ssb

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"nordata/internal/fetch"
	"nordata/internal/tabular"
)

// Klass reads the KLASS classification registry.
type Klass struct {
	session *fetch.Session
	baseURL string
	logger  *zap.Logger
}

func NewKlass(baseURL string, session *fetch.Session, logger *zap.Logger) *Klass {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Klass{session: session, baseURL: baseURL, logger: logger}
}

// Code is one classification code valid at a given date.
type Code struct {
	Code string `csv:"code"`
	Name string `csv:"name"`
}

// Change is one code change between classification versions.
type Change struct {
	OldCode      string `csv:"oldCode"`
	OldName      string `csv:"oldName"`
	OldShortName string `csv:"oldShortName"`
	NewCode      string `csv:"newCode"`
	NewName      string `csv:"newName"`
	NewShortName string `csv:"newShortName"`
	Occurred     string `csv:"changeOccurred"`
}

// Correspondence maps one source code onto a target classification.
type Correspondence struct {
	SourceCode string `json:"sourceCode"`
	SourceName string `json:"sourceName"`
	TargetCode string `json:"targetCode"`
	TargetName string `json:"targetName"`
}

func (c *Klass) classificationURL(classification int, resource string) string {
	return fmt.Sprintf("%s/klass/v1/classifications/%d/%s", c.baseURL, classification, resource)
}

// CodesAt fetches the codes valid at date (YYYY-MM-DD).
func (c *Klass) CodesAt(ctx context.Context, classification int, date string) ([]Code, error) {
	u := c.classificationURL(classification, "codesAt.csv")
	text, err := c.session.GetText(ctx, u, url.Values{"date": {date}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch codes for %d at %s: %w", classification, date, err)
	}
	codes, err := tabular.ReadStructs[Code](strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("codes for %d at %s: %w", classification, date, err)
	}
	return codes, nil
}

// Changes fetches every code change since from (YYYY-MM-DD).
func (c *Klass) Changes(ctx context.Context, classification int, from string) ([]Change, error) {
	u := c.classificationURL(classification, "changes.csv")
	text, err := c.session.GetText(ctx, u, url.Values{"from": {from}})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch changes for %d: %w", classification, err)
	}
	changes, err := tabular.ReadStructs[Change](strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("changes for %d: %w", classification, err)
	}
	return changes, nil
}

// CorrespondsAt fetches the correspondence table between two classifications
// at a date.
func (c *Klass) CorrespondsAt(ctx context.Context, classification, target int, date string) ([]Correspondence, error) {
	u := c.classificationURL(classification, "correspondsAt")
	var resp struct {
		CorrespondenceItems []Correspondence `json:"correspondenceItems"`
	}
	params := url.Values{
		"targetClassificationId": {strconv.Itoa(target)},
		"date":                   {date},
	}
	if err := c.session.GetJSON(ctx, u, params, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch correspondence %d to %d: %w", classification, target, err)
	}
	return resp.CorrespondenceItems, nil
}
