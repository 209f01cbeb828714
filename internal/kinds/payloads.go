package kinds

import "github.com/microcosm-cc/bluemonday"

// Payload is the kind-specific body of a content entity.
type Payload interface {
	// Name is the denormalized display name kept on the ledger.
	Name() string
	// Media is the remote object name of the attached media, if any.
	Media() string
	sanitize(p *bluemonday.Policy)
}

type Affirmation struct {
	Text     string `json:"text" validate:"required,max=500"`
	Category string `json:"category,omitempty" validate:"max=64"`
	Author   string `json:"author,omitempty" validate:"max=120"`
}

func (a *Affirmation) Name() string  { return a.Text }
func (a *Affirmation) Media() string { return "" }
func (a *Affirmation) sanitize(p *bluemonday.Policy) {
	a.Text = clean(p, a.Text)
	a.Category = clean(p, a.Category)
	a.Author = clean(p, a.Author)
}

type Meditation struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description,omitempty" validate:"max=4000"`
	Audio           string `json:"audio,omitempty" validate:"omitempty,max=255"`
	Image           string `json:"image,omitempty" validate:"omitempty,max=255"`
	DurationSeconds int    `json:"duration_seconds,omitempty" validate:"gte=0,lte=86400"`
	Narrator        string `json:"narrator,omitempty" validate:"max=120"`
}

func (m *Meditation) Name() string  { return m.Title }
func (m *Meditation) Media() string { return m.Audio }
func (m *Meditation) sanitize(p *bluemonday.Policy) {
	m.Title = clean(p, m.Title)
	m.Description = clean(p, m.Description)
	m.Narrator = clean(p, m.Narrator)
}

type Sound struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description,omitempty" validate:"max=4000"`
	Audio           string `json:"audio,omitempty" validate:"omitempty,max=255"`
	Category        string `json:"category,omitempty" validate:"max=64"`
	DurationSeconds int    `json:"duration_seconds,omitempty" validate:"gte=0,lte=86400"`
	Loop            bool   `json:"loop,omitempty"`
}

func (s *Sound) Name() string  { return s.Title }
func (s *Sound) Media() string { return s.Audio }
func (s *Sound) sanitize(p *bluemonday.Policy) {
	s.Title = clean(p, s.Title)
	s.Description = clean(p, s.Description)
	s.Category = clean(p, s.Category)
}

type Ritual struct {
	Title       string   `json:"title" validate:"required,max=200"`
	Description string   `json:"description,omitempty" validate:"max=4000"`
	Steps       []string `json:"steps,omitempty" validate:"max=50,dive,required,max=500"`
	TimeOfDay   string   `json:"time_of_day,omitempty" validate:"omitempty,oneof=morning afternoon evening night"`
}

func (r *Ritual) Name() string  { return r.Title }
func (r *Ritual) Media() string { return "" }
func (r *Ritual) sanitize(p *bluemonday.Policy) {
	r.Title = clean(p, r.Title)
	r.Description = clean(p, r.Description)
	for i := range r.Steps {
		r.Steps[i] = clean(p, r.Steps[i])
	}
}

// BreathPattern is measured in seconds per phase.
type BreathPattern struct {
	Inhale    int `json:"inhale" validate:"gte=1,lte=60"`
	Hold      int `json:"hold" validate:"gte=0,lte=60"`
	Exhale    int `json:"exhale" validate:"gte=1,lte=60"`
	HoldAfter int `json:"hold_after" validate:"gte=0,lte=60"`
}

type Breathwork struct {
	Title       string        `json:"title" validate:"required,max=200"`
	Description string        `json:"description,omitempty" validate:"max=4000"`
	Pattern     BreathPattern `json:"pattern"`
	Cycles      int           `json:"cycles,omitempty" validate:"gte=0,lte=500"`
	Audio       string        `json:"audio,omitempty" validate:"omitempty,max=255"`
}

func (b *Breathwork) Name() string  { return b.Title }
func (b *Breathwork) Media() string { return b.Audio }
func (b *Breathwork) sanitize(p *bluemonday.Policy) {
	b.Title = clean(p, b.Title)
	b.Description = clean(p, b.Description)
}

type Pod struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description,omitempty" validate:"max=4000"`
	Host            string `json:"host,omitempty" validate:"max=120"`
	Audio           string `json:"audio,omitempty" validate:"omitempty,max=255"`
	Episode         int    `json:"episode,omitempty" validate:"gte=0"`
	DurationSeconds int    `json:"duration_seconds,omitempty" validate:"gte=0,lte=86400"`
}

func (p *Pod) Name() string  { return p.Title }
func (p *Pod) Media() string { return p.Audio }
func (p *Pod) sanitize(pol *bluemonday.Policy) {
	p.Title = clean(pol, p.Title)
	p.Description = clean(pol, p.Description)
	p.Host = clean(pol, p.Host)
}

type Gratitude struct {
	Text   string `json:"text" validate:"required,max=1000"`
	Prompt string `json:"prompt,omitempty" validate:"max=500"`
}

func (g *Gratitude) Name() string  { return g.Text }
func (g *Gratitude) Media() string { return "" }
func (g *Gratitude) sanitize(p *bluemonday.Policy) {
	g.Text = clean(p, g.Text)
	g.Prompt = clean(p, g.Prompt)
}

type Idea struct {
	Title string `json:"title" validate:"required,max=200"`
	Body  string `json:"body,omitempty" validate:"max=8000"`
	Link  string `json:"link,omitempty" validate:"omitempty,url"`
}

func (i *Idea) Name() string  { return i.Title }
func (i *Idea) Media() string { return "" }
func (i *Idea) sanitize(p *bluemonday.Policy) {
	i.Title = clean(p, i.Title)
	i.Body = clean(p, i.Body)
}

// Focus is the taxonomy tag other kinds reference.
type Focus struct {
	Label       string `json:"name" validate:"required,max=80"`
	Description string `json:"description,omitempty" validate:"max=1000"`
	Icon        string `json:"icon,omitempty" validate:"max=64"`
	Color       string `json:"color,omitempty" validate:"omitempty,hexcolor"`
}

func (f *Focus) Name() string  { return f.Label }
func (f *Focus) Media() string { return "" }
func (f *Focus) sanitize(p *bluemonday.Policy) {
	f.Label = clean(p, f.Label)
	f.Description = clean(p, f.Description)
	f.Icon = clean(p, f.Icon)
}
