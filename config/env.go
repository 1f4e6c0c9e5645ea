package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // spin zones resolve in minimal containers
)

// Tag options after the variable name in an env tag:
//
//	secret  the value may also come from NAME_FILE
//	zone    the value must name an IANA time zone
const (
	optSecret = "secret"
	optZone   = "zone"
)

var (
	durationType    = reflect.TypeOf(time.Duration(0))
	environmentType = reflect.TypeOf(Environment(""))
)

// envField binds one tagged Config field to its environment variable.
type envField struct {
	name   string
	path   string
	value  reflect.Value
	secret bool
	zone   bool
}

// loadFromEnv overlays QUESTLINE_* variables onto cfg. Every malformed
// variable is reported, not only the first.
func loadFromEnv(cfg *Config) error {
	return applyEnv(context.Background(), cfg, EnvPrefix, NewEnvironmentSecretStore())
}

func applyEnv(ctx context.Context, cfg *Config, prefix string, secrets SecretStore) error {
	var errs []error
	for _, f := range envFields(reflect.ValueOf(cfg).Elem(), prefix, "") {
		raw, ok, err := f.lookup(ctx, secrets)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		if err := f.set(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s (%s): %w", f.name, f.path, err))
		}
	}
	return errors.Join(errs...)
}

// envFields walks nested sections depth-first and collects tagged fields.
func envFields(v reflect.Value, prefix, path string) []envField {
	var out []envField
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		fv := v.Field(i)
		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}
		if sf.Type.Kind() == reflect.Struct {
			out = append(out, envFields(fv, prefix, fieldPath)...)
			continue
		}
		tag, ok := sf.Tag.Lookup("env")
		if !ok || tag == "" || !fv.CanSet() {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		f := envField{name: prefix + "_" + name, path: fieldPath, value: fv}
		for _, o := range strings.Split(opts, ",") {
			switch o {
			case optSecret:
				f.secret = true
			case optZone:
				f.zone = true
			}
		}
		out = append(out, f)
	}
	return out
}

func (f envField) lookup(ctx context.Context, secrets SecretStore) (string, bool, error) {
	if f.secret {
		v, err := secrets.Get(ctx, f.name)
		if errors.Is(err, ErrSecretNotFound) {
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		return v, true, nil
	}
	v := strings.TrimSpace(os.Getenv(f.name))
	return v, v != "", nil
}

func (f envField) set(raw string) error {
	v := f.value
	switch {
	case f.zone:
		loc, err := time.LoadLocation(raw)
		if err != nil {
			return fmt.Errorf("unknown time zone %q", raw)
		}
		v.SetString(loc.String())
	case v.Type() == durationType:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q", raw)
		}
		v.SetInt(int64(d))
	case v.Type() == environmentType:
		v.SetString(strings.ToLower(raw))
	default:
		return setScalar(v, raw)
	}
	return nil
}

func setScalar(v reflect.Value, raw string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid boolean %q", raw)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		v.SetInt(n)
	case reflect.Slice:
		if v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported list of %s", v.Type().Elem())
		}
		items := splitList(raw)
		list := reflect.MakeSlice(v.Type(), len(items), len(items))
		for i, s := range items {
			list.Index(i).SetString(s)
		}
		v.Set(list)
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String || v.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported map %s", v.Type())
		}
		m := reflect.MakeMap(v.Type())
		for _, pair := range splitList(raw) {
			k, val, ok := strings.Cut(pair, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("map entry %q is not key=value", pair)
			}
			m.SetMapIndex(reflect.ValueOf(strings.TrimSpace(k)), reflect.ValueOf(strings.TrimSpace(val)))
		}
		v.Set(m)
	default:
		return fmt.Errorf("unsupported field kind %s", v.Kind())
	}
	return nil
}

// splitList splits a comma-separated value, dropping blank entries.
func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
