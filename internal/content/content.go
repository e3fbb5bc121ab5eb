package content

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/foxzi/dealpost/internal/campaign"
	"github.com/foxzi/dealpost/internal/catalog"
)

// ErrIncomplete is returned for items that lack the data a post needs
var ErrIncomplete = errors.New("item is missing title or price")

const (
	CaptionLimit = 1024 // photo caption
	MessageLimit = 4096 // text message
	maxFeatures  = 3
)

// DefaultTemplate is used when the catalog has no template for the campaign language
const DefaultTemplate = `*{{md .Title}}*
{{if .Rating}}
⭐ {{.Rating}}/5{{if .Reviews}} ({{.Reviews}} reviews){{end}}{{end}}
💰 {{.Price}}
{{range .Features}}
• {{md .}}{{end}}

🔗 [Shop Now]({{.Link}})
{{if .Hashtags}}
{{.Hashtags}}{{end}}`

// Post is the publishable content for one channel
type Post struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
	Link     string `json:"link"`
}

// Data is passed to post templates
type Data struct {
	Title    string
	Price    string
	Rating   string
	Reviews  int
	Features []string
	Link     string
	Hashtags string
	Campaign string
	Category string
}

// Preparer builds posts from queued items
type Preparer struct {
	catalog    *catalog.Catalog
	productURL string

	mu        sync.Mutex
	templates map[string]*template.Template
}

// NewPreparer creates a preparer. productURL is the base used for items
// without a link, e.g. https://www.amazon.com/dp/
func NewPreparer(cat *catalog.Catalog, productURL string) *Preparer {
	if cat == nil {
		cat = catalog.Static(nil)
	}
	if productURL == "" {
		productURL = "https://www.amazon.com/dp/"
	}
	return &Preparer{
		catalog:    cat,
		productURL: productURL,
		templates:  make(map[string]*template.Template),
	}
}

// Prepare renders the post of an item for one channel of the campaign
func (p *Preparer) Prepare(it *campaign.Item, c *campaign.Campaign, channel string) (*Post, error) {
	if strings.TrimSpace(it.Title) == "" || it.Price <= 0 {
		return nil, ErrIncomplete
	}

	link, err := p.Link(it, c, channel)
	if err != nil {
		return nil, err
	}

	tmplText, ok := p.catalog.Template(c.Params.Language)
	if !ok {
		tmplText = DefaultTemplate
	}
	tmpl, err := p.parse(tmplText)
	if err != nil {
		return nil, err
	}

	data := Data{
		Title:    strings.TrimSpace(it.Title),
		Price:    FormatPrice(it.Price, it.Currency),
		Reviews:  it.ReviewCount,
		Features: topFeatures(it.Features),
		Link:     link,
		Hashtags: Hashtags(c.Params.Category),
		Campaign: c.Name,
		Category: c.Params.Category,
	}
	if it.Rating > 0 {
		data.Rating = fmt.Sprintf("%.1f", it.Rating)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render post: %w", err)
	}

	post := &Post{
		Channel: channel,
		Link:    link,
	}
	if len(it.Images) > 0 {
		post.ImageURL = it.Images[0]
	}

	limit := MessageLimit
	if post.ImageURL != "" {
		limit = CaptionLimit
	}
	post.Text = Truncate(strings.TrimSpace(buf.String()), limit)
	return post, nil
}

// Link builds the final affiliate link: item link with the tracking tag
// and UTM marks. The campaign tracking id wins over the channel tag.
func (p *Preparer) Link(it *campaign.Item, c *campaign.Campaign, channel string) (string, error) {
	raw := it.Link
	if raw == "" {
		raw = p.productURL + url.PathEscape(it.ID)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid item link %q: %w", raw, err)
	}

	q := u.Query()
	tag := c.Params.TrackingID
	if tag == "" {
		tag = p.catalog.TrackingTag(channel)
	}
	if tag != "" && q.Get("tag") == "" {
		q.Set("tag", tag)
	}

	utm := p.catalog.UTM()
	keys := make([]string, 0, len(utm))
	for k := range utm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if q.Get(k) == "" {
			q.Set(k, utm[k])
		}
	}
	if q.Get("utm_campaign") == "" && c.Name != "" {
		q.Set("utm_campaign", strings.ReplaceAll(strings.TrimSpace(c.Name), " ", "_"))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Validate checks that a template parses
func Validate(text string) error {
	_, err := template.New("post").Funcs(funcs).Parse(text)
	return err
}

func (p *Preparer) parse(text string) (*template.Template, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.templates[text]; ok {
		return t, nil
	}
	t, err := template.New("post").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("invalid post template: %w", err)
	}
	p.templates[text] = t
	return t, nil
}

var funcs = template.FuncMap{
	"md": EscapeMarkdown,
}

var currencySymbols = map[string]string{
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"JPY": "¥",
	"INR": "₹",
}

// FormatPrice renders a price with its currency symbol
func FormatPrice(price float64, currency string) string {
	currency = strings.ToUpper(currency)
	if currency == "" {
		currency = "USD"
	}
	if sym, ok := currencySymbols[currency]; ok {
		return fmt.Sprintf("%s%.2f", sym, price)
	}
	return fmt.Sprintf("%.2f %s", price, currency)
}

// Hashtags derives hashtags from a category name
func Hashtags(category string) string {
	tags := []string{"#Deal"}
	var b strings.Builder
	for _, word := range strings.FieldsFunc(category, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		r, size := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(word[size:])
	}
	if b.Len() > 0 {
		tags = append(tags, "#"+b.String())
	}
	return strings.Join(tags, " ")
}

// EscapeMarkdown escapes Telegram Markdown control characters
func EscapeMarkdown(s string) string {
	r := strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")
	return r.Replace(s)
}

// Truncate shortens text to limit runes, ending with "..."
func Truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-3]) + "..."
}

func topFeatures(features []string) []string {
	out := make([]string, 0, maxFeatures)
	for _, f := range features {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		out = append(out, f)
		if len(out) == maxFeatures {
			break
		}
	}
	return out
}
