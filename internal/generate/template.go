package generate

import (
	"context"
	"fmt"
	"time"

	"github.com/foxzi/letterbox/internal/metrics"
	"github.com/osteele/liquid"
)

const bodyTemplate = `# Welcome to Our Latest Newsletter!

Dear Valued Subscriber,

We're excited to share some incredible insights with you based on your prompt: "{{ prompt }}"

## Key Highlights

✨ Industry trends that are shaping the future
🚀 Actionable strategies you can implement today  
💡 Expert insights from leading professionals
📈 Growth opportunities in your sector

## What's New This Week

Our team has been working tirelessly to bring you the most relevant and actionable content. Whether you're looking to scale your business, improve your marketing efforts, or stay ahead of industry trends, we've got you covered.

## Special Offer

Don't miss out on our exclusive opportunity designed just for our newsletter subscribers. This limited-time offer includes:

- Premium access to our latest resources
- Exclusive webinar invitations
- Early bird pricing on upcoming events

## Community Spotlight

We love hearing from our community! Share your success stories and connect with like-minded professionals who are achieving amazing results.

---

Thank you for being part of our community. We're here to support your journey every step of the way.

Best regards,
The Newsletter AI Team`

const subjectTemplate = `🚀 Your Weekly Dose of Innovation - {{ date }}`

// DefaultCallToAction is the call-to-action of template newsletters
const DefaultCallToAction = "Join Our Exclusive Webinar - Limited Seats Available!"

// TemplateGenerator renders a canned newsletter after a fixed delay
type TemplateGenerator struct {
	delay   time.Duration
	now     func() time.Time
	body    *liquid.Template
	subject *liquid.Template
}

// NewTemplateGenerator parses the newsletter templates
func NewTemplateGenerator(delay time.Duration) (*TemplateGenerator, error) {
	engine := liquid.NewEngine()

	body, err := engine.ParseString(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse body template: %w", err)
	}
	subject, err := engine.ParseString(subjectTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse subject template: %w", err)
	}

	return &TemplateGenerator{
		delay:   delay,
		now:     time.Now,
		body:    body,
		subject: subject,
	}, nil
}

// Generate waits for the configured delay and renders the template.
// The prompt is inserted verbatim.
func (g *TemplateGenerator) Generate(ctx context.Context, prompt string) (*Content, error) {
	if g.delay > 0 {
		timer := time.NewTimer(g.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, &Error{Kind: KindCanceled, Provider: "template", Err: ctx.Err()}
		case <-timer.C:
		}
	}

	bindings := liquid.Bindings{
		"prompt": prompt,
		"date":   g.now().Format("1/2/2006"),
	}

	body, err := g.body.RenderString(bindings)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Provider: "template", Err: err}
	}
	subject, err := g.subject.RenderString(bindings)
	if err != nil {
		return nil, &Error{Kind: KindInvalidResponse, Provider: "template", Err: err}
	}

	metrics.IncGenerations("template", "success")
	return &Content{
		SubjectLine:  subject,
		Body:         body,
		CallToAction: DefaultCallToAction,
	}, nil
}
