package kinds

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"stillpoint/internal/domain"
)

// FocusField is the payload key carrying tag references on tagged kinds.
const FocusField = "focus_ids"

// ValidationError reports malformed or missing input. It is never retryable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Descriptor parameterizes the lifecycle engine for one content kind.
type Descriptor struct {
	Kind domain.Kind `json:"kind"`
	// MediaFolder is empty for kinds without attached media.
	MediaFolder string `json:"media_folder,omitempty"`
	// Tagged kinds reference focus tags and take part in the focus cascade.
	Tagged bool `json:"tagged"`
	// Taxonomy marks the tag kind itself.
	Taxonomy bool `json:"taxonomy"`

	newPayload func() Payload
}

func (d Descriptor) HasMedia() bool { return d.MediaFolder != "" }

// New returns an empty payload of this kind.
func (d Descriptor) New() Payload { return d.newPayload() }

var registry = map[domain.Kind]Descriptor{
	domain.KindAffirmation: {Kind: domain.KindAffirmation, Tagged: true, newPayload: func() Payload { return &Affirmation{} }},
	domain.KindMeditation:  {Kind: domain.KindMeditation, MediaFolder: "meditations", Tagged: true, newPayload: func() Payload { return &Meditation{} }},
	domain.KindSound:       {Kind: domain.KindSound, MediaFolder: "sounds", Tagged: true, newPayload: func() Payload { return &Sound{} }},
	domain.KindRitual:      {Kind: domain.KindRitual, Tagged: true, newPayload: func() Payload { return &Ritual{} }},
	domain.KindBreathwork:  {Kind: domain.KindBreathwork, MediaFolder: "breathwork", Tagged: true, newPayload: func() Payload { return &Breathwork{} }},
	domain.KindPod:         {Kind: domain.KindPod, MediaFolder: "pods", Tagged: true, newPayload: func() Payload { return &Pod{} }},
	domain.KindGratitude:   {Kind: domain.KindGratitude, Tagged: true, newPayload: func() Payload { return &Gratitude{} }},
	domain.KindIdea:        {Kind: domain.KindIdea, newPayload: func() Payload { return &Idea{} }},
	domain.KindFocus:       {Kind: domain.KindFocus, Taxonomy: true, newPayload: func() Payload { return &Focus{} }},
}

// Lookup resolves a kind name to its descriptor.
func Lookup(kind string) (Descriptor, error) {
	d, ok := registry[domain.Kind(strings.ToLower(strings.TrimSpace(kind)))]
	if !ok {
		return Descriptor{}, ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown content kind %q", kind)}
	}
	return d, nil
}

// All returns every descriptor ordered by kind name.
func All() []Descriptor {
	out := make([]Descriptor, 0, len(registry))
	for _, d := range registry {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// TaggedKinds lists the kinds whose tag references a focus deletion must scrub.
func TaggedKinds() []domain.Kind {
	var out []domain.Kind
	for _, d := range All() {
		if d.Tagged {
			out = append(out, d.Kind)
		}
	}
	return out
}

// Names is the enum used by the HTTP layer and CLI help.
func Names() []string {
	var out []string
	for _, d := range All() {
		out = append(out, string(d.Kind))
	}
	return out
}

var (
	validate = newValidator()
	policy   = bluemonday.StrictPolicy()
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// clean reduces s to plain text. Entity-encoded markup is decoded and
// sanitised again until nothing changes, so no tag survives the unescape.
func clean(p *bluemonday.Policy, s string) string {
	if s == "" {
		return s
	}
	cur := s
	for i := 0; i < maxCleanPasses; i++ {
		next := html.UnescapeString(p.Sanitize(cur))
		if next == cur {
			return strings.TrimSpace(cur)
		}
		cur = next
	}
	return strings.TrimSpace(p.Sanitize(cur))
}

const maxCleanPasses = 8

// Decoded is a validated payload in both typed and stored form.
type Decoded struct {
	Payload  Payload
	Fields   map[string]any
	FocusIDs []string
}

// Decode validates a raw payload for this kind. Markup is stripped from free text.
func (d Descriptor) Decode(raw map[string]any) (Decoded, error) {
	if raw == nil {
		return Decoded{}, ValidationError{Field: "payload", Reason: "payload is required"}
	}
	rest := make(map[string]any, len(raw))
	var focusIDs []string
	for k, v := range raw {
		if k != FocusField {
			rest[k] = v
			continue
		}
		if !d.Tagged {
			return Decoded{}, ValidationError{Field: FocusField, Reason: fmt.Sprintf("%s content does not reference focus tags", d.Kind)}
		}
		ids, err := stringList(v)
		if err != nil {
			return Decoded{}, ValidationError{Field: FocusField, Reason: err.Error()}
		}
		focusIDs = ids
	}
	data, err := json.Marshal(rest)
	if err != nil {
		return Decoded{}, ValidationError{Field: "payload", Reason: err.Error()}
	}
	p := d.New()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return Decoded{}, ValidationError{Field: "payload", Reason: err.Error()}
	}
	p.sanitize(policy)
	if err := validate.Struct(p); err != nil {
		return Decoded{}, toValidationError(err)
	}
	fields, err := toMap(p)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Payload: p, Fields: fields, FocusIDs: focusIDs}, nil
}

func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		// Namespace is "Type.json.path"; drop the type name.
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return ValidationError{Field: field, Reason: reason}
	}
	return ValidationError{Field: "payload", Reason: err.Error()}
}

func toMap(p Payload) (map[string]any, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize payload: %w", err)
	}
	return out, nil
}

func stringList(v any) ([]string, error) {
	var items []string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []string:
		items = t
	case []any:
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, errors.New("must be an array of strings")
			}
			items = append(items, s)
		}
	default:
		return nil, errors.New("must be an array of strings")
	}
	seen := map[string]struct{}{}
	out := []string{}
	for _, s := range items {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, errors.New("must not contain empty ids")
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

// FromStrings turns a flat row of text cells (CSV import) into a raw payload,
// converting each cell to the type of the matching payload field. Lists are
// separated by ';' and nested objects are given as JSON.
func (d Descriptor) FromStrings(row map[string]string) (map[string]any, error) {
	fields := jsonFields(reflect.TypeOf(d.New()).Elem())
	out := map[string]any{}
	for col, cell := range row {
		col = strings.TrimSpace(col)
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if col == FocusField {
			out[col] = splitList(cell)
			continue
		}
		ft, ok := fields[col]
		if !ok {
			return nil, ValidationError{Field: col, Reason: fmt.Sprintf("unknown column for %s", d.Kind)}
		}
		switch ft.Kind() {
		case reflect.String:
			out[col] = cell
		case reflect.Int, reflect.Int64:
			n, err := strconv.Atoi(cell)
			if err != nil {
				return nil, ValidationError{Field: col, Reason: "must be an integer"}
			}
			out[col] = n
		case reflect.Bool:
			b, err := strconv.ParseBool(cell)
			if err != nil {
				return nil, ValidationError{Field: col, Reason: "must be true or false"}
			}
			out[col] = b
		case reflect.Slice:
			out[col] = splitList(cell)
		case reflect.Struct:
			var nested map[string]any
			if err := json.Unmarshal([]byte(cell), &nested); err != nil {
				return nil, ValidationError{Field: col, Reason: "must be a JSON object"}
			}
			out[col] = nested
		default:
			return nil, ValidationError{Field: col, Reason: "unsupported column type"}
		}
	}
	return out, nil
}

func jsonFields(t reflect.Type) map[string]reflect.Type {
	out := map[string]reflect.Type{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		out[name] = f.Type
	}
	return out
}

func splitList(cell string) []any {
	out := []any{}
	for _, part := range strings.Split(cell, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
