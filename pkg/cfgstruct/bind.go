// Package cfgstruct reflects over a config struct's `default`/`hidden`/
// `releaseDefault`/`devDefault` tags and binds one pflag per leaf field,
// the way the teacher's pkg/cfgstruct does for every cobra command in
// cmd/*. Nested structs get a dotted, kebab-cased flag prefix; fixed-size
// arrays of structs get a zero-padded numeric index segment
// (`fields.03.another-int`).
package cfgstruct

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/pflag"
)

// Release is false in development builds, selecting `devDefault` tags
// over `releaseDefault` when both are present. Set via -ldflags in
// release builds; defaults to true so `go test`/local runs without that
// flag still exercise the release defaults in cfgstruct's own tests.
var Release = true

// Opt customizes Bind's default-value expansion.
type Opt func(*bindState)

type bindState struct {
	confDir       string
	nestInConfDir bool
}

// ConfDir substitutes $CONFDIR/${CONFDIR} in default tags with dir,
// uniformly at every nesting depth.
func ConfDir(dir string) Opt {
	return func(s *bindState) { s.confDir = dir }
}

// ConfDirNested behaves like ConfDir, but additionally nests dir by the
// enclosing struct field names, one kebab-cased subdirectory per level, so
// sibling subsystems that each want "their" config directory don't
// collide.
func ConfDirNested(dir string) Opt {
	return func(s *bindState) {
		s.confDir = dir
		s.nestInConfDir = true
	}
}

// Bind walks ptr (a pointer to a struct) and registers one flag per leaf
// field on flagset, using the field's current value as the pflag default
// unless a `default`/`releaseDefault`/`devDefault` tag overrides it.
func Bind(flagset *pflag.FlagSet, ptr interface{}, opts ...Opt) {
	state := &bindState{}
	for _, opt := range opts {
		opt(state)
	}
	v := reflect.ValueOf(ptr).Elem()
	bindStruct(flagset, v, nil, state)
}

func bindStruct(flagset *pflag.FlagSet, v reflect.Value, prefix []string, state *bindState) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		fieldValue := v.Field(i)
		name := append(append([]string(nil), prefix...), kebab(field.Name))

		if field.Type == reflect.TypeOf(time.Duration(0)) {
			bindLeaf(flagset, fieldValue, field, name, state)
			continue
		}

		switch field.Type.Kind() {
		case reflect.Struct:
			nested := *state
			if state.nestInConfDir {
				nested.confDir = filepath.Join(state.confDir, kebab(field.Name))
			}
			bindStruct(flagset, fieldValue, name, &nested)
		case reflect.Array:
			for idx := 0; idx < fieldValue.Len(); idx++ {
				elemName := append(append([]string(nil), name...), fmt.Sprintf("%02d", idx))
				elem := fieldValue.Index(idx)
				if elem.Kind() == reflect.Struct {
					bindStruct(flagset, elem, elemName, state)
				} else {
					bindLeaf(flagset, elem, field, elemName, state)
				}
			}
		default:
			bindLeaf(flagset, fieldValue, field, name, state)
		}
	}
}

func defaultTag(field reflect.StructField) string {
	if Release {
		if d, ok := field.Tag.Lookup("releaseDefault"); ok {
			return d
		}
	} else {
		if d, ok := field.Tag.Lookup("devDefault"); ok {
			return d
		}
	}
	return field.Tag.Get("default")
}

func expandConfDir(s string, state *bindState) string {
	s = strings.ReplaceAll(s, "${CONFDIR}", state.confDir)
	s = strings.ReplaceAll(s, "$CONFDIR", state.confDir)
	return s
}

func bindLeaf(flagset *pflag.FlagSet, fieldValue reflect.Value, field reflect.StructField, name []string, state *bindState) {
	flagName := strings.Join(name, ".")
	usage := field.Tag.Get("help")
	hidden := field.Tag.Get("hidden") == "true"
	raw := expandConfDir(defaultTag(field), state)

	switch field.Type {
	case reflect.TypeOf(time.Duration(0)):
		d, _ := time.ParseDuration(orZero(raw))
		p := fieldValue.Addr().Interface().(*time.Duration)
		flagset.DurationVar(p, flagName, d, usage)
	default:
		switch field.Type.Kind() {
		case reflect.String:
			p := fieldValue.Addr().Interface().(*string)
			flagset.StringVar(p, flagName, raw, usage)
		case reflect.Bool:
			b, _ := strconv.ParseBool(orZero(raw))
			p := fieldValue.Addr().Interface().(*bool)
			flagset.BoolVar(p, flagName, b, usage)
		case reflect.Int:
			n, _ := strconv.Atoi(orZero(raw))
			p := fieldValue.Addr().Interface().(*int)
			flagset.IntVar(p, flagName, n, usage)
		case reflect.Int64:
			n, _ := strconv.ParseInt(orZero(raw), 10, 64)
			p := fieldValue.Addr().Interface().(*int64)
			flagset.Int64Var(p, flagName, n, usage)
		case reflect.Uint:
			n, _ := strconv.ParseUint(orZero(raw), 10, 64)
			p := fieldValue.Addr().Interface().(*uint)
			flagset.UintVar(p, flagName, uint(n), usage)
		case reflect.Uint64:
			n, _ := strconv.ParseUint(orZero(raw), 10, 64)
			p := fieldValue.Addr().Interface().(*uint64)
			flagset.Uint64Var(p, flagName, n, usage)
		case reflect.Float64:
			n, _ := strconv.ParseFloat(orZero(raw), 64)
			p := fieldValue.Addr().Interface().(*float64)
			flagset.Float64Var(p, flagName, n, usage)
		default:
			panic(fmt.Sprintf("cfgstruct: unsupported field type %s for %s", field.Type, flagName))
		}
	}

	if hidden {
		_ = flagset.MarkHidden(flagName)
	}
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

// kebab converts an exported Go field name (PascalCase) to kebab-case,
// matching the flag names cobra users expect (`--my-struct1.string`).
func kebab(name string) string {
	var b strings.Builder
	for i, r := range name {
		if i > 0 && unicode.IsUpper(r) {
			prev := rune(name[i-1])
			if !unicode.IsUpper(prev) || (i+1 < len(name) && unicode.IsLower(rune(name[i+1]))) {
				b.WriteByte('-')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
