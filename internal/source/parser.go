package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/brownbaglunch/webhook/internal/dataset"
	apperrors "github.com/brownbaglunch/webhook/pkg/errors"
)

// Parser extracts the dataset from a payload of the form
// <prefix><JSON literal><suffix>, for example "var data = {...};".
type Parser struct {
	prefix string
	suffix string
}

func NewParser(prefix, suffix string) *Parser {
	return &Parser{prefix: prefix, suffix: suffix}
}

// Parse strips the wrapper and decodes the literal. Every failure wraps
// ErrParse.
func (p *Parser) Parse(payload string) (*dataset.Dataset, error) {
	body := strings.TrimPrefix(payload, "\ufeff")
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, p.prefix) {
		return nil, fmt.Errorf("%w: payload does not start with %q", apperrors.ErrParse, p.prefix)
	}
	body = strings.TrimPrefix(body, p.prefix)
	if !strings.HasSuffix(body, p.suffix) {
		return nil, fmt.Errorf("%w: payload does not end with %q", apperrors.ErrParse, p.suffix)
	}
	body = strings.TrimSuffix(body, p.suffix)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		return nil, fmt.Errorf("%w: decoding data literal: %v", apperrors.ErrParse, err)
	}

	var ds dataset.Dataset
	if err := decodeMember(raw, "cities", &ds.Cities); err != nil {
		return nil, err
	}
	if err := decodeMember(raw, "baggers", &ds.Baggers); err != nil {
		return nil, err
	}
	return &ds, nil
}

func decodeMember(raw map[string]json.RawMessage, name string, dst any) error {
	member, ok := raw[name]
	if !ok || bytes.Equal(bytes.TrimSpace(member), []byte("null")) {
		return fmt.Errorf("%w: data literal has no %q array", apperrors.ErrParse, name)
	}
	if err := json.Unmarshal(member, dst); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", apperrors.ErrParse, name, err)
	}
	return nil
}
