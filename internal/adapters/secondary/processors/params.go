package processors

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"media-toolkit/internal/core/domain"
)

// decodeParams overlays request params onto target, which already holds the
// operation defaults. Form values arrive as strings, so input is weakly typed.
func decodeParams(params map[string]interface{}, target interface{}) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return domain.DomainError{Code: "INVALID_PARAMS", Message: "Invalid parameters", Details: err.Error()}
	}
	return nil
}

// paramsMap flattens an options struct into its json-keyed form.
func paramsMap(opts interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &out,
		TagName: "json",
	})
	if err != nil {
		panic(fmt.Sprintf("params decoder: %v", err))
	}
	if err := dec.Decode(opts); err != nil {
		panic(fmt.Sprintf("flatten %T: %v", opts, err))
	}
	return out
}

func operation(kind domain.OperationKind, category domain.Category, description string, minFiles, maxFiles int, accept []string, defaults interface{}) domain.Operation {
	return domain.Operation{
		Kind:        kind,
		Category:    category,
		Description: description,
		MinFiles:    minFiles,
		MaxFiles:    maxFiles,
		Accept:      accept,
		Defaults:    paramsMap(defaults),
	}
}
