package backend

import (
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// Decode copies row into out (a pointer to a struct tagged with `db`).
// Timestamps may arrive as time.Time or as RFC 3339 strings (JSON events,
// SQLite text columns); booleans may arrive as integers.
func Decode(row Row, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "db",
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(map[string]any(row)); err != nil {
		return fmt.Errorf("decode row: %w", err)
	}
	return nil
}

// DecodeAll decodes every row into a freshly allocated T.
func DecodeAll[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		var item T
		if err := Decode(row, &item); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
