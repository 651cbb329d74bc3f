// ABOUTME: Outbound message payloads for text, media, templates and interactive messages
// ABOUTME: Each Send method returns the ID WhatsApp assigned to the message

package whatsapp

import "context"

type replyContext struct {
	MessageID string `json:"message_id"`
}

type outbound struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Context          *replyContext `json:"context,omitempty"`
	Text             *textBody     `json:"text,omitempty"`
	Image            *mediaBody    `json:"image,omitempty"`
	Document         *mediaBody    `json:"document,omitempty"`
	Audio            *mediaBody    `json:"audio,omitempty"`
	Template         *templateBody `json:"template,omitempty"`
	Interactive      *interactive  `json:"interactive,omitempty"`
}

type textBody struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type mediaBody struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type templateBody struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []TemplateComponent `json:"components"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type interactive struct {
	Type   string             `json:"type"`
	Header *interactiveHeader `json:"header,omitempty"`
	Body   interactiveText    `json:"body"`
	Footer *interactiveText   `json:"footer,omitempty"`
	Action interactiveAction  `json:"action"`
}

type interactiveHeader struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type interactiveText struct {
	Text string `json:"text"`
}

type interactiveAction struct {
	Button   string        `json:"button,omitempty"`
	Sections []ListSection `json:"sections,omitempty"`
	Buttons  []Button      `json:"buttons,omitempty"`
}

// ListSection is one titled group of rows in a list message.
type ListSection struct {
	Title string    `json:"title"`
	Rows  []ListRow `json:"rows"`
}

// ListRow is a selectable row.
type ListRow struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Button is a quick-reply button.
type Button struct {
	Type  string      `json:"type"`
	Reply ButtonReply `json:"reply"`
}

// ButtonReply identifies a quick reply.
type ButtonReply struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// List describes an interactive list message.
type List struct {
	Header   string
	Body     string
	Footer   string
	Button   string
	Sections []ListSection
}

func newOutbound(to, kind, replyTo string) *outbound {
	o := &outbound{MessagingProduct: "whatsapp", To: to, Type: kind}
	if replyTo != "" {
		o.Context = &replyContext{MessageID: replyTo}
	}
	return o
}

// SendText sends a text message, optionally quoting replyTo.
func (c *Client) SendText(ctx context.Context, to, text, replyTo string) (string, error) {
	o := newOutbound(to, "text", replyTo)
	o.Text = &textBody{PreviewURL: true, Body: text}
	return c.send(ctx, o)
}

// SendImage sends an image by URL.
func (c *Client) SendImage(ctx context.Context, to, link, caption, replyTo string) (string, error) {
	o := newOutbound(to, "image", replyTo)
	o.Image = &mediaBody{Link: link, Caption: caption}
	return c.send(ctx, o)
}

// SendDocument sends a document by URL.
func (c *Client) SendDocument(ctx context.Context, to, link, filename, caption, replyTo string) (string, error) {
	o := newOutbound(to, "document", replyTo)
	o.Document = &mediaBody{Link: link, Filename: filename, Caption: caption}
	return c.send(ctx, o)
}

// SendAudio sends an audio clip by URL.
func (c *Client) SendAudio(ctx context.Context, to, link, replyTo string) (string, error) {
	o := newOutbound(to, "audio", replyTo)
	o.Audio = &mediaBody{Link: link}
	return c.send(ctx, o)
}

// SendTemplate sends a pre-approved template.
func (c *Client) SendTemplate(ctx context.Context, to string, t Template) (string, error) {
	o := newOutbound(to, "template", "")
	o.Template = &templateBody{
		Name:       t.Name,
		Language:   templateLanguage{Code: t.Language},
		Components: t.Components,
	}
	return c.send(ctx, o)
}

// SendInteractiveList sends a list picker.
func (c *Client) SendInteractiveList(ctx context.Context, to string, l List, replyTo string) (string, error) {
	o := newOutbound(to, "interactive", replyTo)
	o.Interactive = &interactive{
		Type:   "list",
		Header: &interactiveHeader{Type: "text", Text: l.Header},
		Body:   interactiveText{Text: l.Body},
		Footer: &interactiveText{Text: l.Footer},
		Action: interactiveAction{Button: l.Button, Sections: l.Sections},
	}
	return c.send(ctx, o)
}

// SendInteractiveButtons sends up to three quick-reply buttons. Empty header
// and footer are omitted.
func (c *Client) SendInteractiveButtons(ctx context.Context, to, body string, buttons []Button, header, footer, replyTo string) (string, error) {
	in := &interactive{
		Type:   "button",
		Body:   interactiveText{Text: body},
		Action: interactiveAction{Buttons: buttons},
	}
	if header != "" {
		in.Header = &interactiveHeader{Type: "text", Text: header}
	}
	if footer != "" {
		in.Footer = &interactiveText{Text: footer}
	}
	o := newOutbound(to, "interactive", replyTo)
	o.Interactive = in
	return c.send(ctx, o)
}
