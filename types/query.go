package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

// SearchParams is the request of the query tool.
type SearchParams struct {
	Question    string            `json:"question" validate:"required"`
	Collections []string          `json:"collections,omitempty" validate:"omitempty,dive,required"`
	Version     string            `json:"version,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	K           int               `json:"k,omitempty" validate:"omitempty,min=1,max=100"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *SearchParams) Validate() map[string]string {
	return structErrors(params)
}

// StructErrors returns one message per failed field, or nil.
func StructErrors(v any) map[string]string {
	return structErrors(v)
}

func structErrors(v any) map[string]string {
	if err := validate.Struct(v); err != nil {
		errs, ok := err.(validator.ValidationErrors)
		if !ok {
			return map[string]string{"request": err.Error()}
		}
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type SearchResponse struct {
	Question  string         `json:"question"`
	Results   []SearchResult `json:"results"`
	Count     int            `json:"count"`
	Timestamp time.Time      `json:"timestamp"`
}

type CollectionsResponse struct {
	Collections []CollectionStat `json:"collections"`
}
