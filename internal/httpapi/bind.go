package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tascade/tascade/internal/toolcall"
	"github.com/tascade/tascade/internal/types"
)

// decodeInput fills an operation's input struct from the request: JSON body
// first, then query parameters, then path parameters. Later sources win, so
// a body cannot spoof the ref the route addressed.
func decodeInput(op *toolcall.Operation, r *http.Request) (any, error) {
	in := op.NewInput()
	if r.Body != nil && r.Method != http.MethodGet {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			return nil, types.NewError(types.ErrInvariantViolation, "failed to read request body")
		}
		if len(body) > 0 {
			if err := json.Unmarshal(body, in); err != nil {
				return nil, types.NewError(types.ErrInvariantViolation, "invalid request body: %v", err)
			}
		}
	}
	if r.Method == http.MethodGet {
		if err := bindQuery(in, r); err != nil {
			return nil, err
		}
	}
	bindPath(in, r)
	return in, nil
}

// bindQuery maps query parameters onto struct fields by json tag name.
// Scalars parse by kind; string slices accept repeats or comma lists.
func bindQuery(in any, r *http.Request) error {
	v := reflect.ValueOf(in).Elem()
	t := v.Type()
	q := r.URL.Query()
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		values, ok := q[name]
		if !ok || len(values) == 0 {
			continue
		}
		raw := values[0]
		f := v.Field(i)
		switch f.Kind() {
		case reflect.String:
			f.SetString(raw)
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return types.NewError(types.ErrInvariantViolation, "query %s: %q is not a boolean", name, raw)
			}
			f.SetBool(b)
		case reflect.Int, reflect.Int64:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return types.NewError(types.ErrInvariantViolation, "query %s: %q is not an integer", name, raw)
			}
			f.SetInt(n)
		case reflect.Slice:
			if f.Type().Elem().Kind() != reflect.String {
				continue
			}
			if len(values) == 1 {
				values = strings.Split(values[0], ",")
			}
			slice := reflect.MakeSlice(f.Type(), 0, len(values))
			for _, item := range values {
				item = strings.TrimSpace(item)
				if item == "" {
					continue
				}
				elem := reflect.New(f.Type().Elem()).Elem()
				elem.SetString(item)
				slice = reflect.Append(slice, elem)
			}
			f.Set(slice)
		}
	}
	return nil
}

// bindPath overwrites fields addressed by route parameters.
func bindPath(in any, r *http.Request) {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return
	}
	v := reflect.ValueOf(in).Elem()
	t := v.Type()
	for i, key := range rctx.URLParams.Keys {
		if key == "*" {
			continue
		}
		val := rctx.URLParams.Values[i]
		for j := 0; j < t.NumField(); j++ {
			name, _, _ := strings.Cut(t.Field(j).Tag.Get("json"), ",")
			if name == key && v.Field(j).Kind() == reflect.String {
				v.Field(j).SetString(val)
			}
		}
	}
}
