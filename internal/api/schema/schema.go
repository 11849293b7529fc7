// Пакет schema — встроенный OpenAPI контракт govote и проверка
// тел запросов по его схемам (kin-openapi).
package schema

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var spec []byte

// Имена схем тел запросов в components/schemas.
const (
	CreateElectionRequest = "CreateElectionRequest"
	UpdateElectionRequest = "UpdateElectionRequest"
	UpdateMetadataRequest = "UpdateMetadataRequest"
	OpenElectionRequest   = "OpenElectionRequest"
	ConfirmationRequest   = "ConfirmationRequest"
	VoteRequest           = "VoteRequest"
	RegisterTokenRequest  = "RegisterTokenRequest"
)

// Validator проверяет JSON-документы по схемам контракта.
type Validator struct {
	doc *openapi3.T
}

// Spec возвращает исходный YAML контракта.
func Spec() []byte {
	return spec
}

// Load разбирает и валидирует встроенный контракт.
func Load(ctx context.Context) (*Validator, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(spec)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI контракта: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("некорректный OpenAPI контракт: %w", err)
	}
	return &Validator{doc: doc}, nil
}

// MustLoad — Load для инициализации в main и тестах.
func MustLoad() *Validator {
	v, err := Load(context.Background())
	if err != nil {
		panic(err)
	}
	return v
}

// Validate проверяет тело body по схеме name.
// Ошибка содержит описание первого нарушения.
func (v *Validator) Validate(name string, body []byte) error {
	ref, ok := v.doc.Components.Schemas[name]
	if !ok || ref.Value == nil {
		return fmt.Errorf("схема %s не найдена в контракте", name)
	}

	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return fmt.Errorf("тело запроса не является JSON: %w", err)
	}
	if err := ref.Value.VisitJSON(value); err != nil {
		return describe(err)
	}
	return nil
}

// describe сокращает ошибку kin-openapi до поля и причины.
func describe(err error) error {
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		if path := schemaErr.JSONPointer(); len(path) > 0 {
			return fmt.Errorf("поле %s: %s", joinPointer(path), schemaErr.Reason)
		}
		return errors.New(schemaErr.Reason)
	}
	return err
}

func joinPointer(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}
